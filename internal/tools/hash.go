package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CallHash derives a stable identity for a tool call from its name and
// canonicalized arguments. Two calls with the same name and semantically
// equal arguments hash identically regardless of key order.
func CallHash(name string, args map[string]any) string {
	canonical := canonicalJSON(args)
	sum := sha256.Sum256([]byte(name + ":" + canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders a value with object keys sorted at every level.
func canonicalJSON(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + canonicalJSON(val[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += canonicalJSON(item)
		}
		return out + "]"
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(val))
		}
		return string(b)
	}
}
