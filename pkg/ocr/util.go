package ocr

import "strings"

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// Snippet collapses whitespace and shortens recognized text for diagnostics.
func Snippet(text string, max int) string {
	return snippet(collapseSpaces(text), max)
}

// collapseSpaces collapses whitespace and replaces newlines/tabs.
func collapseSpaces(t string) string {
	return strings.Join(strings.Fields(t), " ")
}

// onlyDigits extracts decimal digits from a string.
func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
