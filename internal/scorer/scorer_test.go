package scorer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeutralScorerAlwaysOne(t *testing.T) {
	s := NeutralScorer{}
	out := s.Score([]float32{1, 2, 3})
	assert.Equal(t, 1.0, out.Score)
	assert.Equal(t, "none", out.ModelType)
}

func TestLinearScorerMissingFileIsNeutral(t *testing.T) {
	s := NewLinearScorer(filepath.Join(t.TempDir(), "missing.json"))
	out := s.Score([]float32{0.1, 0.2})
	assert.Equal(t, 1.0, out.Score)
}

func TestLinearScorerNoPathIsNeutral(t *testing.T) {
	s := NewLinearScorer("")
	out := s.Score([]float32{0.1, 0.2})
	assert.Equal(t, 1.0, out.Score)
}

func TestLinearScorerScoresWithinRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	data, err := json.Marshal(map[string]any{"weights": []float64{1.0, -1.0}, "bias": 0.0})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s := NewLinearScorer(path)
	out := s.Score([]float32{5, 0})
	assert.Equal(t, "linear_logit", out.ModelType)
	assert.Greater(t, out.Score, 0.5)
	assert.LessOrEqual(t, out.Score, 1.0)
}
