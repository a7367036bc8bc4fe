package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizePlate returns the canonical comparison form of a licence plate.
//
// The plate is NFKC-normalized (so full-width characters typed on some
// keyboards fold to ASCII), upper-cased, and stripped of spaces, hyphens and
// dots. "abc-123", "ABC 123" and "ＡＢＣ１２３" all normalize to "ABC123".
func NormalizePlate(plate string) string {
	folded := norm.NFKC.String(plate)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '-' || r == '.' || unicode.IsSpace(r):
			continue
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ValidPlate reports whether a normalized plate is acceptable: 2 to 10
// letters or digits.
func ValidPlate(normalized string) bool {
	n := 0
	for _, r := range normalized {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n >= 2 && n <= 10
}
