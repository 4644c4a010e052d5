package ocr

import (
	"regexp"
)

const (
	// USSDPrefix is the recharge service code dialed before the card number.
	// It is also printed next to the number on most cards.
	USSDPrefix = "858"
	// USSDSuffix terminates the dial string.
	USSDSuffix = "#"

	MinCodeLen = 12
	MaxCodeLen = 16
)

var (
	prefixAnchoredRE = regexp.MustCompile(`858(\d{12,16})#?`)
	suffixAnchoredRE = regexp.MustCompile(`#?(\d{12,16})858`)
	digitRunRE       = regexp.MustCompile(`\d+`)
	cardNumberRE     = regexp.MustCompile(`^[0-9]{12,16}$`)
)

// ExtractCode finds a card number inside an already normalized digit string.
// Anchored matches around the 858 marker are tried before an unanchored scan
// of maximal digit runs. It returns "" when nothing of the right length is
// visible; that is not an error.
func ExtractCode(normalized string) string {
	if normalized == "" {
		return ""
	}
	if m := prefixAnchoredRE.FindStringSubmatch(normalized); len(m) >= 2 && IsCardNumber(m[1]) {
		return m[1]
	}
	if m := suffixAnchoredRE.FindStringSubmatch(normalized); len(m) >= 2 && IsCardNumber(m[1]) {
		return m[1]
	}
	for _, run := range digitRunRE.FindAllString(normalized, -1) {
		if IsCardNumber(run) {
			return run
		}
	}
	return ""
}

// FindCode normalizes raw OCR text and extracts a card number from it.
func FindCode(text string) (string, error) {
	code := ExtractCode(Normalize(text))
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}

// IsCardNumber reports whether s is 12 to 16 ASCII digits.
func IsCardNumber(s string) bool {
	return cardNumberRE.MatchString(s)
}

// DialCode wraps a card number into the USSD string used to redeem it.
func DialCode(code string) string {
	if code == "" {
		return ""
	}
	return USSDPrefix + code + USSDSuffix
}
