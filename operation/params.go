package operation

import (
	"fmt"
	"time"
)

// Param accessors used by operation Validate implementations. Numbers
// arrive as float64 from JSON payloads and as int from YAML, so the
// integer accessor accepts both.

// StringParam returns params[key] as a string.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

// RequiredString returns params[key] as a non-empty string or an error.
func RequiredString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("param %q is required", key)
	}
	return v, nil
}

// StringOr returns params[key] as a string, or def when absent.
func StringOr(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOr returns params[key] as an int, or def when absent.
func IntOr(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// BoolOr returns params[key] as a bool, or def when absent.
func BoolOr(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// DurationOr interprets params[key] as seconds and returns def when
// absent or non-positive.
func DurationOr(params map[string]any, key string, def time.Duration) time.Duration {
	if secs := IntOr(params, key, 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

// StringMap returns params[key] as a map with string values. Non-string
// values are stringified with %v.
func StringMap(params map[string]any, key string) map[string]string {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// ListParam returns params[key] as a slice.
func ListParam(params map[string]any, key string) ([]any, bool) {
	v, ok := params[key].([]any)
	return v, ok
}

// StringList returns params[key] as a slice of strings. Non-string
// elements are stringified with %v.
func StringList(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}
