package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON turns the raw config file contents into JSON bytes, so one
// strict decoder (DisallowUnknownFields) serves both formats. Files without a
// .yaml/.yml extension are passed through as-is and assumed to be JSON.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites map keys to strings; json.Marshal cannot handle the
// map[any]any values older YAML decoders produce for nested mappings.
func stringifyKeys(doc any) any {
	switch node := doc.(type) {
	case map[string]any:
		for k, v := range node {
			node[k] = stringifyKeys(v)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case []any:
		for i, v := range node {
			node[i] = stringifyKeys(v)
		}
		return node
	}
	return doc
}
