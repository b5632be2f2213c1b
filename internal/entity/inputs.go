package entity

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sciexp/flytezen/schema"
)

// LoadInputs reads a YAML or JSON object of inputs from path.
func LoadInputs(path string) (schema.Inputs, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("inputs path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse inputs %s: %w", path, err)
	}
	if raw == nil {
		return schema.Inputs{}, nil
	}
	return schema.Inputs(raw), nil
}

// MergeInputs returns defaults overlaid with overrides. Nested maps merge
// key by key; any other value replaces the default.
func MergeInputs(defaults, overrides schema.Inputs) schema.Inputs {
	return schema.Inputs(mergeMaps(defaults, overrides))
}

// CloneInputs deep-copies nested maps and slices.
func CloneInputs(in schema.Inputs) schema.Inputs {
	if in == nil {
		return nil
	}
	return schema.Inputs(cloneMap(in))
}

func mergeMaps(base, over map[string]any) map[string]any {
	out := cloneMap(base)
	if out == nil {
		out = make(map[string]any, len(over))
	}
	for key, value := range over {
		overMap, overIsMap := asMap(value)
		baseMap, baseIsMap := asMap(out[key])
		if overIsMap && baseIsMap {
			out[key] = mergeMaps(baseMap, overMap)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		return cloneMap(m)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i := range s {
			out[i] = cloneValue(s[i])
		}
		return out
	}
	return v
}

// asMap accepts the map shapes produced by viper, yaml.v3 and encoding/json.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case schema.Inputs:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
