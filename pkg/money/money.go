// Package money provides minor-unit monetary helpers using the Fowler Money
// pattern. Amounts are integer centavos; formatting goes through go-money so
// locale symbols and decimal placement stay consistent.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// BRL is the currency every imported statement is denominated in.
const BRL = "BRL"

// FormatMinor renders a signed minor-unit amount as a human-readable BRL
// string, e.g. -4530 -> "-R$45.30".
func FormatMinor(amountMinor int64) string {
	return money.New(amountMinor, BRL).Display()
}

// FromDecimal converts a major-unit decimal value into minor units, rounding
// half away from zero to the nearest centavo.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.New(1, 2)).Round(0).IntPart()
}

// ToDecimal converts minor units back into a major-unit decimal.
func ToDecimal(amountMinor int64) decimal.Decimal {
	return decimal.New(amountMinor, -2)
}

// Abs returns the magnitude of a signed minor-unit amount.
func Abs(amountMinor int64) int64 {
	if amountMinor < 0 {
		return -amountMinor
	}
	return amountMinor
}
