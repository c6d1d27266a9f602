package drift

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"gopkg.in/yaml.v3"
)

// ParameterMeta classifies a baseline parameter.
type ParameterMeta struct {
	Severity engine.Severity `json:"severity" yaml:"severity"`
	Category string          `json:"category" yaml:"category"`
}

// Baseline is the recorded desired state of a target.
type Baseline struct {
	// Parameters maps parameter names to expected values.
	Parameters map[string]any `json:"parameters" yaml:"parameters"`

	// ParameterMetadata maps parameter names to their classification.
	ParameterMetadata map[string]ParameterMeta `json:"parameter_metadata" yaml:"parameter_metadata"`
}

// Meta returns the classification of a parameter with defaults applied.
func (b *Baseline) Meta(parameter string) ParameterMeta {
	meta := b.ParameterMetadata[parameter]
	if meta.Severity == "" {
		meta.Severity = engine.SeverityMedium
	}
	if meta.Category == "" {
		meta.Category = engine.CategoryGeneral
	}
	return meta
}

// LoadBaseline reads a YAML or JSON baseline file.
func LoadBaseline(path string) (*Baseline, error) {
	format, ok := policy.FormatFromPath(path)
	if !ok {
		return nil, engine.NewStructuralError(fmt.Sprintf("unsupported baseline format: %s", path), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewStructuralError(fmt.Sprintf("Baseline file not found: %s", path), err)
		}
		return nil, engine.NewStructuralError("failed to read baseline file", err).WithTarget(path)
	}
	return ParseBaseline(data, format)
}

// ParseBaseline decodes baseline content.
func ParseBaseline(data []byte, format policy.Format) (*Baseline, error) {
	var b Baseline
	var err error
	switch format {
	case policy.FormatJSON:
		err = json.Unmarshal(data, &b)
	default:
		err = yaml.Unmarshal(data, &b)
	}
	if err != nil {
		return nil, engine.NewStructuralError("failed to parse baseline file", err)
	}
	if b.Parameters == nil {
		b.Parameters = map[string]any{}
	}
	for k, v := range b.Parameters {
		b.Parameters[k] = engine.Normalize(v)
	}
	return &b, nil
}

// LoadState reads a live state file. The file is either a flat parameter map
// or a document with a top-level "parameters" map.
func LoadState(path string) (map[string]any, error) {
	format, ok := policy.FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported state format: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var raw map[string]any
	switch format {
	case policy.FormatJSON:
		err = json.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	state, _ := engine.Normalize(raw).(map[string]any)
	if params, ok := state["parameters"].(map[string]any); ok {
		return params, nil
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}
