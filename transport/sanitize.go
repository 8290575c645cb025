package transport

import "strings"

const maxErrorChars = 200

var secretPrefixes = []string{"sk-", "sk_", "xoxb-", "xoxp-", "AIza", "ghp_", "gho_"}

// Sanitize scrubs secret-looking tokens from an upstream error body and
// truncates it, so it can be logged and surfaced in errors.
func Sanitize(body string) string {
	scrubbed := strings.TrimSpace(scrubSecrets(body))
	runes := []rune(scrubbed)
	if len(runes) <= maxErrorChars {
		return scrubbed
	}
	return string(runes[:maxErrorChars]) + "..."
}

func scrubSecrets(input string) string {
	out := input
	for _, prefix := range secretPrefixes {
		from := 0
		for {
			idx := strings.Index(out[from:], prefix)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(prefix)
			for end < len(out) && isTokenChar(out[end]) {
				end++
			}
			if end == start+len(prefix) {
				from = end
				continue
			}
			out = out[:start] + "[REDACTED]" + out[end:]
			from = start + len("[REDACTED]")
		}
	}
	return out
}

func isTokenChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '_' || ch == '.'
}
