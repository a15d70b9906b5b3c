package openrouter

import "strings"

// SanitizeSourceText removes ASCII control characters (0x00-0x1F, 0x7F) and trims surrounding whitespace.
func SanitizeSourceText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r <= 0x1F || r == 0x7F {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}
