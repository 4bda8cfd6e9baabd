package domain

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits stored for a price.
const PriceScale = 2

// Exponent bounds for an accepted price, checked before any rounding or
// comparison touches the value.
const (
	maxPriceExponent = 8
	minPriceExponent = -20
)

var (
	// MaxPrice is the largest value a decimal(10,2) column holds.
	MaxPrice = decimal.RequireFromString("99999999.99")

	ErrNegativePrice   = errors.New("price must not be less than 0")
	ErrPriceOutOfRange = errors.New("price must not be greater than 99999999.99")
)

// PriceExponentInRange reports whether d is written with an exponent that a
// decimal(10,2) price can plausibly have. 1e9 and above can never fit, and
// more than twenty fractional digits are not accepted.
func PriceExponentInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= minPriceExponent && exp <= maxPriceExponent
}

// NormalizePrice rounds d to two fractional digits, half away from zero.
// 9.999 becomes 10.00 and 9.994 becomes 9.99.
func NormalizePrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// ValidatePrice checks a normalized price against the column bounds.
func ValidatePrice(d decimal.Decimal) error {
	if d.IsNegative() {
		return ErrNegativePrice
	}
	if d.GreaterThan(MaxPrice) {
		return ErrPriceOutOfRange
	}
	return nil
}

// PriceJSON is the single conversion from the stored fixed-point price to
// the JSON number sent to clients.
func PriceJSON(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(PriceScale))
}
