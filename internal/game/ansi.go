package game

import "strings"

const (
	AnsiReset     = "\x1b[0m"
	AnsiBold      = "\x1b[1m"
	AnsiDim       = "\x1b[2m"
	AnsiItalic    = "\x1b[3m"
	AnsiUnderline = "\x1b[4m"
	AnsiGreen     = "\x1b[32m"
	AnsiYellow    = "\x1b[33m"
	AnsiMagenta   = "\x1b[35m"
	AnsiCyan      = "\x1b[36m"
)

// Style wraps text with the provided ANSI attributes.
func Style(text string, attrs ...string) string {
	if len(attrs) == 0 {
		return text
	}
	return strings.Join(attrs, "") + text + AnsiReset
}

// HighlightName formats player names consistently.
func HighlightName(name string) string {
	return Style(name, AnsiBold, AnsiCyan)
}

// HighlightNPCName sets NPC names apart from players.
func HighlightNPCName(name string) string {
	return Style(name, AnsiBold, AnsiYellow)
}

// HighlightNames formats each name in the slice.
func HighlightNames(list []string) []string {
	out := make([]string, len(list))
	for i, name := range list {
		out[i] = HighlightName(name)
	}
	return out
}

// Trim normalises an input line: control and format characters are dropped,
// other whitespace becomes a plain space, and the ends are trimmed.
func Trim(s string) string {
	return strings.TrimSpace(sanitizeInput(s))
}

// Ansi ensures output strings end with a reset sequence.
func Ansi(c string) string {
	if strings.Contains(c, "\x1b[") && !strings.HasSuffix(c, AnsiReset) {
		return c + AnsiReset
	}
	return c
}

// Prompt renders the standard player prompt.
func Prompt() string {
	return Ansi(Style("\r\n> ", AnsiBold, AnsiYellow))
}
