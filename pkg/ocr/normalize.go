package ocr

import (
	"strings"
	"unicode"
)

// confusions maps letters OCR commonly returns in place of digits on printed cards.
var confusions = map[rune]rune{
	'O': '0', 'o': '0',
	'Q': '0', 'q': '0',
	'L': '1', 'l': '1',
	'I': '1', 'i': '1',
	'Z': '2', 'z': '2',
	'V': '4', 'v': '4',
	'Y': '4', 'y': '4',
	'S': '5', 's': '5',
	'G': '6', 'g': '6',
	'T': '7', 't': '7',
	'B': '8', 'b': '8',
}

// Normalize maps recognized text to a canonical digit string. Whitespace is
// dropped, confusable letters become digits, and everything that is not a
// digit, '*' or '#' is removed. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	up := strings.ToUpper(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		if d, ok := confusions[r]; ok {
			return d
		}
		if (r >= '0' && r <= '9') || r == '*' || r == '#' {
			return r
		}
		return -1
	}, up)
}
