package logutil

import "strings"

// SanitizeForLog flattens user-provided strings (host labels, paths,
// commands) onto one line and drops control characters so they cannot
// forge extra log entries.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteByte(' ')
		case r < 32 || r == 0x7f:
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Truncate sanitizes s and cuts it to at most max runes, appending "..."
// when something was removed. Used for remote command text in log lines.
func Truncate(s string, max int) string {
	s = SanitizeForLog(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
