package game

import (
	"strings"
	"unicode"
)

// sanitizeInput drops control, format and unprintable runes from player
// input and turns any other whitespace into a plain space.
func sanitizeInput(s string) string {
	return strings.Map(cleanRune, s)
}

func cleanRune(r rune) rune {
	switch {
	case r == '\r':
		return -1
	case unicode.IsSpace(r):
		return ' '
	case unicode.IsControl(r), unicode.Is(unicode.Cf, r), !unicode.IsPrint(r):
		return -1
	}
	return r
}
