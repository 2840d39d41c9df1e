package logx

import (
	"strings"
	"unicode/utf8"
)

// Preview trims value and shortens it to at most max bytes for a log field.
// The cut never splits a rune.
func Preview(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if max <= 0 || len(trimmed) <= max {
		return trimmed
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}
