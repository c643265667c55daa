package game

import "strings"

// minWrapWidth keeps tiny NAWS reports from shredding descriptions.
const minWrapWidth = 20

// WrapText fills each paragraph of text to at most width runes per line.
// Blank lines survive; words longer than a line are split.
func WrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	width = max(width, minWrapWidth)
	paragraphs := strings.Split(text, "\n")
	for i, para := range paragraphs {
		paragraphs[i] = fillParagraph(strings.Fields(para), width)
	}
	return strings.Join(paragraphs, "\n")
}

func fillParagraph(words []string, width int) string {
	var lines []string
	var line []rune
	flush := func() {
		if len(line) > 0 {
			lines = append(lines, string(line))
			line = line[:0]
		}
	}
	for _, word := range words {
		w := []rune(word)
		for len(w) > width {
			flush()
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		if len(w) == 0 {
			continue
		}
		if len(line) > 0 && len(line)+1+len(w) > width {
			flush()
		}
		if len(line) > 0 {
			line = append(line, ' ')
		}
		line = append(line, w...)
	}
	flush()
	return strings.Join(lines, "\n")
}
