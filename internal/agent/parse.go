package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/nanobot/internal/providers"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseToolCallsFromText recovers tool calls that weaker models emit as
// text instead of structured calls. It scans fenced code blocks first,
// then bare JSON objects and arrays. A candidate is accepted only when
// it has a string "name" matching a registered tool and an object
// "arguments".
func ParseToolCallsFromText(content string, registry *tools.Registry) []providers.ToolCall {
	var calls []providers.ToolCall

	for _, m := range fencedBlockPattern.FindAllStringSubmatch(content, -1) {
		calls = append(calls, parseCandidate(m[1], registry)...)
	}
	if len(calls) > 0 {
		return calls
	}

	for _, raw := range scanBareJSON(content) {
		calls = append(calls, parseCandidate(raw, registry)...)
	}
	return calls
}

func parseCandidate(raw string, registry *tools.Registry) []providers.ToolCall {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var objects []map[string]any
	switch raw[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil
		}
		objects = append(objects, obj)
	case '[':
		var arr []map[string]any
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil
		}
		objects = arr
	default:
		return nil
	}

	var calls []providers.ToolCall
	for _, obj := range objects {
		name, ok := obj["name"].(string)
		if !ok || !registry.Has(name) {
			continue
		}
		args, ok := obj["arguments"].(map[string]any)
		if !ok {
			continue
		}
		calls = append(calls, providers.ToolCall{
			ID:        newCallID(),
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// scanBareJSON extracts balanced top-level {...} and [...] spans from
// free text, respecting strings and escapes.
func scanBareJSON(content string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	var open, close byte

	for i := 0; i < len(content); i++ {
		c := content[i]
		if depth > 0 {
			if escaped {
				escaped = false
				continue
			}
			switch {
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case !inString && c == open:
				depth++
			case !inString && c == close:
				depth--
				if depth == 0 {
					spans = append(spans, content[start:i+1])
					start = -1
				}
			}
			continue
		}
		if c == '{' || c == '[' {
			open, close = c, c+2 // '{'→'}', '['→']'
			depth = 1
			start = i
			inString = false
			escaped = false
		}
	}
	return spans
}

func newCallID() string {
	return "call_" + uuid.NewString()[:8]
}
