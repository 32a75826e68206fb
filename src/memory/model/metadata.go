package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EncodeMetadata renders a metadata map as compact JSON. Empty maps encode as
// "{}" so store columns never hold NULL-ish values.
func EncodeMetadata(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeMetadata parses a JSON metadata payload, tolerating empty or invalid
// input by returning an empty map.
func DecodeMetadata(metadata string) map[string]any {
	metadata = strings.TrimSpace(metadata)
	if metadata == "" {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(metadata), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// CloneMetadata shallow-copies a metadata map.
func CloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// StringFromAny coerces loosely typed store values into strings.
func StringFromAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	}
	return ""
}

// FloatFromAny coerces loosely typed store values into float64.
func FloatFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}

// Int64FromAny coerces loosely typed store values into int64.
func Int64FromAny(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
	}
	return 0
}

// TimeFromAny coerces RFC3339 strings and time values into time.Time.
func TimeFromAny(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return ParseTime(t)
	}
	return time.Time{}
}

// ParseTime parses RFC3339(Nano) timestamps, returning the zero time on
// malformed input.
func ParseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

// Float32SliceFromAny coerces store payload vectors into []float32.
func Float32SliceFromAny(v any) []float32 {
	switch t := v.(type) {
	case []float32:
		return append([]float32(nil), t...)
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(t))
		for _, item := range t {
			out = append(out, float32(FloatFromAny(item)))
		}
		return out
	}
	return nil
}

// StringSliceFromAny coerces loosely typed store values into []string,
// skipping non-string members.
func StringSliceFromAny(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := StringFromAny(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
