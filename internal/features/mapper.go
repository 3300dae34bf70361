// Package features maps a snapshot into a fixed-length, versioned
// numeric feature vector, grounded on
// trade_ai/feature_engineering/feature_mapper_v1.py. The feature spec
// is declarative YAML, parsed with gopkg.in/yaml.v3 (the corpus's yaml
// library, from ChoSanghyuk-blackholedex) rather than a hand-rolled
// config format.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ForbiddenSnapshotKeys are the same leakage keys snapshot.ForbiddenKeys
// enforces; duplicated here (rather than imported) because the mapper
// operates on a generic map[string]any tree, not the typed Snapshot.
var ForbiddenSnapshotKeys = map[string]struct{}{
	"decision": {}, "execution_state": {}, "reward_state": {}, "risk_unit": {},
	"pnl": {}, "pnl_raw": {}, "pnl_r": {}, "exit_price": {}, "exit_time_utc": {},
	"tp_price": {}, "sl_price": {}, "rr": {},
}

// FeatureSpecItem is one declared feature: either a path extraction or
// a one-hot encoding.
type FeatureSpecItem struct {
	Key          string  `yaml:"key"`
	Path         string  `yaml:"path,omitempty"`
	Type         string  `yaml:"type,omitempty"` // float|bool_to_float
	DefaultValue float64 `yaml:"default_value,omitempty"`
	Encode       *struct {
		Ref       string `yaml:"ref"`
		Value     string `yaml:"value"`
		Timeframe string `yaml:"timeframe,omitempty"`
	} `yaml:"encode,omitempty"`
}

// EncodingDef declares a supported encoding kind for a ref.
type EncodingDef struct {
	Type string `yaml:"type"`
}

type rawSpec struct {
	Version  string                 `yaml:"version"`
	Features []FeatureSpecItem      `yaml:"features"`
	Encodings map[string]EncodingDef `yaml:"encodings"`
	Output   struct {
		FeatureCount int `yaml:"feature_count"`
	} `yaml:"output"`
}

// Output is the mapper's result for one snapshot.
type Output struct {
	Features      []float32
	FeatureVersion string
	FeatureHash    string
}

// Mapper is a deterministic snapshot -> vector transform, built once
// from a feature spec file and reused across snapshots.
type Mapper struct {
	version       string
	featuresSpec  []FeatureSpecItem
	encodings     map[string]EncodingDef
	expectedCount int
	featureHash   string
}

// LoadSpec reads and validates a feature spec file.
func LoadSpec(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("features: reading spec: %w", err)
	}
	var spec rawSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("features: parsing spec: %w", err)
	}
	if len(spec.Features) == 0 {
		return nil, fmt.Errorf("features: spec must declare at least one feature")
	}
	version := spec.Version
	if version == "" {
		version = "v1"
	}
	count := spec.Output.FeatureCount
	if count == 0 {
		count = len(spec.Features)
	}
	if count <= 0 {
		return nil, fmt.Errorf("features: output.feature_count must be > 0")
	}

	keys := make([]string, len(spec.Features))
	for i, f := range spec.Features {
		keys[i] = f.Key
	}
	return &Mapper{
		version:       version,
		featuresSpec:  spec.Features,
		encodings:     spec.Encodings,
		expectedCount: count,
		featureHash:   computeFeatureHash(version, keys),
	}, nil
}

func computeFeatureHash(version string, keys []string) string {
	payload := version + "|" + strings.Join(keys, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// FeatureNames returns the declared feature keys in spec order, the
// column list a Parquet dataset schema is built from.
func (m *Mapper) FeatureNames() []string {
	names := make([]string, len(m.featuresSpec))
	for i, f := range m.featuresSpec {
		names[i] = f.Key
	}
	return names
}

// Map converts a generic snapshot tree (Snapshot.ToMap()) into a fixed
// length feature vector. Rejects snapshots carrying forbidden leakage
// keys or a non-v3 schema version.
func (m *Mapper) Map(snap map[string]any) (Output, error) {
	if err := assertSnapshotOK(snap); err != nil {
		return Output{}, err
	}

	vec := make([]float64, 0, m.expectedCount)
	for _, item := range m.featuresSpec {
		switch {
		case item.Path != "":
			val := getByPath(snap, item.Path)
			var out float64
			if item.Type == "bool_to_float" {
				out = boolToFloat(val, item.DefaultValue)
			} else {
				out = safeFloat(val, item.DefaultValue)
			}
			vec = append(vec, out)
		case item.Encode != nil:
			out := m.encodeOneHot(snap, item.Encode.Ref, item.Encode.Timeframe, item.Encode.Value, item.DefaultValue)
			vec = append(vec, out)
		default:
			return Output{}, fmt.Errorf("features: item %q has neither path nor encode", item.Key)
		}
	}

	if len(vec) != m.expectedCount {
		return Output{}, fmt.Errorf("features: vector length %d != expected %d", len(vec), m.expectedCount)
	}

	out := make([]float32, len(vec))
	for i, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		out[i] = float32(x)
	}
	return Output{Features: out, FeatureVersion: m.version, FeatureHash: m.featureHash}, nil
}

func assertSnapshotOK(snap map[string]any) error {
	if sv, _ := snap["schema_version"].(string); sv != "v3" {
		return fmt.Errorf("features: snapshot.schema_version must be v3")
	}
	var overlap []string
	for k := range snap {
		if _, bad := ForbiddenSnapshotKeys[k]; bad {
			overlap = append(overlap, k)
		}
	}
	if len(overlap) > 0 {
		return fmt.Errorf("features: snapshot contains forbidden fields: %v", overlap)
	}
	if _, ok := snap["snapshot_time_utc"]; !ok {
		return fmt.Errorf("features: snapshot_time_utc missing")
	}
	return nil
}

func (m *Mapper) encodeOneHot(snap map[string]any, ref, timeframe, value string, def float64) float64 {
	enc, ok := m.encodings[ref]
	if !ok || enc.Type != "one_hot" {
		return def
	}

	var src any
	switch {
	case ref == "ltf_volatility_regime":
		src = getByPath(snap, "$.ltf.price.volatility_regime")
	case ref == "ltf_hh_ll_state":
		src = getByPath(snap, "$.ltf.micro_structure.hh_ll_state")
	case ref == "session":
		src = getByPath(snap, "$.context.session")
	case strings.HasPrefix(ref, "htf_"):
		if timeframe == "" {
			return def
		}
		htf, _ := snap["htf"].(map[string]any)
		tfObj, _ := htf[timeframe].(map[string]any)
		if tfObj == nil {
			return def
		}
		switch ref {
		case "htf_trend":
			src = tfObj["trend"]
		case "htf_market_regime":
			src = tfObj["market_regime"]
		case "htf_volatility_regime":
			src = tfObj["volatility_regime"]
		case "htf_liquidity_state":
			src = tfObj["liquidity_state"]
		default:
			return def
		}
	default:
		return def
	}

	s, ok := src.(string)
	if ok && s == value {
		return 1.0
	}
	return 0.0
}

func getByPath(snap map[string]any, path string) any {
	if !strings.HasPrefix(path, "$.") {
		return nil
	}
	var cur any = snap
	for _, p := range strings.Split(path[2:], ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func safeFloat(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return def
		}
		return x
	case float32:
		return safeFloat(float64(x), def)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		return def
	default:
		return def
	}
}

func boolToFloat(v any, def float64) float64 {
	switch b := v.(type) {
	case bool:
		if b {
			return 1.0
		}
		return 0.0
	default:
		return def
	}
}
