package engine

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/wI2L/jsondiff"
)

// Diff compares two configuration values as JSON documents and returns the
// JSON pointer paths that differ. Values that decode to the same JSON (an
// int from YAML and a float64 from JSON, for example) produce no paths.
func Diff(expected, actual any) ([]string, error) {
	src, err := json.Marshal(Normalize(expected))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expected value: %w", err)
	}
	tgt, err := json.Marshal(Normalize(actual))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actual value: %w", err)
	}

	patch, err := jsondiff.CompareJSON(src, tgt)
	if err != nil {
		return nil, fmt.Errorf("failed to compare values: %w", err)
	}

	paths := make([]string, 0, len(patch))
	for _, op := range patch {
		path := op.Path
		if path == "" {
			path = "/"
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ValuesEqual reports whether two configuration values are equivalent.
// Values that cannot be encoded as JSON fall back to reflect.DeepEqual.
func ValuesEqual(expected, actual any) bool {
	paths, err := Diff(expected, actual)
	if err != nil {
		return reflect.DeepEqual(expected, actual)
	}
	return len(paths) == 0
}

// Normalize converts YAML-decoded values into JSON-compatible ones by
// turning map[interface{}]interface{} into map[string]interface{} recursively.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}
