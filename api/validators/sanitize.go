package validators

import (
	"strings"
	"unicode"
)

// SanitizeText trims s, drops control characters and cuts it to at most
// maxRunes runes. maxRunes <= 0 means no limit.
func SanitizeText(s string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if maxRunes > 0 {
		if runes := []rune(cleaned); len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return cleaned
}
