// Package scorer loads and runs a binary probability model over a
// feature vector, grounded on
// trade_ai/domain/services/model_scorer_v1.py and generalized from the
// teacher's own AIMicroModel/ExtendedLogit (model.go): a thin, pluggable
// artifact loader that degrades to a neutral score rather than failing
// the caller when no model is configured or loading fails.
package scorer

import (
	"encoding/json"
	"math"
	"os"
)

// Output is one scoring result.
type Output struct {
	Score     float64
	ModelType string
	ModelPath string
}

// Scorer scores a feature vector in [0,1]. Implementations must never
// return an error for a missing or malformed model; they fall back to
// a neutral score instead.
type Scorer interface {
	Score(features []float32) Output
}

// NeutralScorer always returns 1.0, matching the Python scorer's
// behavior when no model_path is configured.
type NeutralScorer struct{}

func (NeutralScorer) Score(features []float32) Output {
	return Output{Score: 1.0, ModelType: "none"}
}

// linearModel is the on-disk artifact shape for LinearScorer: weights
// and a bias for a logistic-regression classifier.
type linearModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LinearScorer loads a small JSON-serialized logistic-regression
// artifact (weights + bias). Native tree-booster (xgboost/lightgbm)
// and pickled-estimator loading, which model_scorer_v1.py supports via
// optional Python packages, are out of reach of a dependency-free Go
// binary; LinearScorer covers the one model family a Go program can
// load and run without an external inference runtime.
type LinearScorer struct {
	path  string
	model *linearModel
}

// NewLinearScorer loads modelPath best-effort. A missing or malformed
// file disables scoring (Score then returns the neutral 1.0), matching
// _load_best_effort's silent-disable behavior.
func NewLinearScorer(modelPath string) *LinearScorer {
	s := &LinearScorer{path: modelPath}
	if modelPath == "" {
		return s
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return s
	}
	var m linearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return s
	}
	s.model = &m
	return s
}

func (s *LinearScorer) Score(features []float32) Output {
	if s.model == nil {
		return Output{Score: 1.0, ModelType: "none", ModelPath: s.path}
	}
	n := len(s.model.Weights)
	if n > len(features) {
		n = len(features)
	}
	z := s.model.Bias
	for i := 0; i < n; i++ {
		z += s.model.Weights[i] * float64(features[i])
	}
	p := sigmoid(z)
	return Output{Score: clamp01(p), ModelType: "linear_logit", ModelPath: s.path}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
