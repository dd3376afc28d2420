// Package normalizer converts Brazilian-locale currency and date text into
// canonical values. Both parsers are pure: they either return a valid value
// or fail with a descriptive error, never a silent best guess.
package normalizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/envelopefin/envelope-api/pkg/money"
)

// ParseAmount converts a currency string into signed integer minor units
// (centavos). It understands Brazilian separator conventions: when ','
// appears, it is the decimal mark and any '.' a thousands separator. Without
// a comma, '.' is the decimal mark and the value is multiplied by 100 and
// rounded. Currency markers ("R$", a bare leading "R") and internal
// whitespace are ignored. A leading '-' yields a negative result regardless
// of marker placement.
func ParseAmount(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	s = strings.ReplaceAll(s, "R$", "")
	s = strings.TrimFunc(s, unicode.IsSpace)
	s = strings.TrimPrefix(s, "R")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	// The sign may sit between the currency marker and the digits.
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	if s == "" {
		return 0, fmt.Errorf("amount %q has no digits", raw)
	}

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", raw)
	}

	minor := money.FromDecimal(d)
	if negative {
		minor = -minor
	}
	return minor, nil
}
