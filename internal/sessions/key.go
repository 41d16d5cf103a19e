package sessions

import "strings"

// SafeFilename converts a session key into a filesystem-safe stem.
// Colons, slashes, and other separator characters become underscores so
// "telegram:12345" maps to "telegram_12345.jsonl".
func SafeFilename(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
