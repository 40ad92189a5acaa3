package character

import (
	"strings"
	"unicode/utf8"
)

// ClampText trims surrounding whitespace and truncates s to at most max runes.
//
// Precondition: max must be >= 0.
// Postcondition: utf8.RuneCountInString(result) <= max.
func ClampText(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:max]), func(r rune) bool { return r == ' ' || r == '\t' })
}
