package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// phonePattern accepts an optional "+", an optional 7/8 prefix and ten
// digits in 3-3-2-2 groups separated by spaces or dashes. Trailing text is
// ignored.
var phonePattern = regexp.MustCompile(`^\+?[78]?([\s-]*\d{3}[\s-]*\d{3}[\s-]*\d{2}[\s-]*\d{2})`)

// ParsePhone extracts the 10-digit national number from user input.
// Full-width digits are folded to ASCII first.
func ParsePhone(input string) (string, error) {
	s := strings.TrimSpace(width.Narrow.String(input))
	m := phonePattern.FindStringSubmatch(s)
	if m == nil {
		return "", ErrInvalidPhone
	}
	var b strings.Builder
	for _, r := range m[1] {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() != 10 {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}
