package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the scheduler looks for its task list.
const DefaultPath = "tasks.json"

// ReadRaw reads the task list at path without validating it. Files ending in
// .yaml or .yml are decoded as YAML, everything else as JSON.
func ReadRaw(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task list at %s: %w", path, err)
	}

	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task list YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task list JSON: %w", err)
		}
	}
	return normalize(raw), nil
}

// Load reads, validates and decodes the task list at path.
func Load(path string) (*TaskSpec, error) {
	raw, err := ReadRaw(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode converts a validated document into a TaskSpec.
func Decode(raw any) (*TaskSpec, error) {
	data, err := json.Marshal(normalize(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode task list: %w", err)
	}
	var spec TaskSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	return &spec, nil
}

// normalize rewrites YAML's map[any]any into map[string]any so the rest of
// the package only deals with JSON shapes.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
