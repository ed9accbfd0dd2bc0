package domain

import (
	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// MergeSourceConfig overlays a task's source_config onto per-source defaults.
// Top-level keys in overrides win.
func MergeSourceConfig(defaults, overrides map[string]interface{}) (map[string]interface{}, error) {
	merged, err := deepCopyMap(defaults)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = map[string]interface{}{}
	}
	if len(overrides) == 0 {
		return merged, nil
	}

	src, err := deepCopyMap(overrides)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&merged, src, mergo.WithOverride); err != nil {
		return nil, NewInternalError("merge source config", err)
	}
	return merged, nil
}

// deepCopyMap round-trips through JSON so nested maps are not shared with
// the caller and numeric types are normalized to float64.
func deepCopyMap(in map[string]interface{}) (map[string]interface{}, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, NewValidationError("source_config is not JSON-encodable: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewInternalError("decode source config", err)
	}
	return out, nil
}

func ConfigString(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func ConfigInt(cfg map[string]interface{}, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	}
	return fallback
}

func ConfigStrings(cfg map[string]interface{}, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
