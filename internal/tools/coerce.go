package tools

import (
	"strconv"
	"strings"
)

// CoerceArgs repairs common model mistakes against the declared schema:
// single-element lists passed for enum scalars are unwrapped, and string
// scalars are converted to the declared type when trivially possible.
// Required fields are never dropped.
func CoerceArgs(params map[string]any, args map[string]any) map[string]any {
	props, _ := params["properties"].(map[string]any)
	if props == nil || args == nil {
		return args
	}

	out := make(map[string]any, len(args))
	for key, val := range args {
		schema, ok := props[key].(map[string]any)
		if !ok {
			out[key] = val
			continue
		}
		out[key] = coerceValue(schema, val)
	}
	return out
}

func coerceValue(schema map[string]any, val any) any {
	// Unwrap [x] passed where the schema expects an enum scalar.
	if _, hasEnum := schema["enum"]; hasEnum {
		if list, ok := val.([]any); ok && len(list) == 1 {
			val = list[0]
		}
	}

	declared, _ := schema["type"].(string)
	switch declared {
	case "integer":
		switch v := val.(type) {
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		case float64:
			if v == float64(int(v)) {
				return int(v)
			}
		}
	case "number":
		if s, ok := val.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "boolean":
		if s, ok := val.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return val
}
