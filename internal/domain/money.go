package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of fractional digits in the unit of account.
const MinorUnitExponent = 2

const (
	// maxAmountLength bounds the raw text of an amount; anything longer cannot be a valid balance.
	maxAmountLength = 32
	// Decimal exponents outside this range never fit an int64 of minor units.
	minAmountExponent = -20
	maxAmountExponent = 20
)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
)

// ParseAmount converts a major-unit decimal string ("500", "12.50") into minor units.
// Non-numeric input, more than two fractional digits and non-positive values are rejected.
func ParseAmount(raw string) (int64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	if len(raw) > maxAmountLength {
		return 0, NewError(KindInvalidAmount, "amount is longer than %d characters", maxAmountLength)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, NewError(KindInvalidAmount, "amount %q is not numeric", raw)
	}
	if exp := value.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return 0, NewError(KindInvalidAmount, "amount %q is out of range", raw)
	}
	return ToMinorUnits(value)
}

// ToMinorUnits converts a major-unit decimal into a positive count of minor units.
// Callers holding untrusted input go through ParseAmount, which bounds the exponent first.
func ToMinorUnits(value decimal.Decimal) (int64, error) {
	if !value.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := value.Shift(MinorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, NewError(KindInvalidAmount, "amount has more than %d decimal places", MinorUnitExponent)
	}
	if minor.GreaterThan(maxMinorUnits) {
		return 0, NewError(KindInvalidAmount, "amount is too large")
	}
	return minor.IntPart(), nil
}

// MajorUnits returns minor units as a major-unit decimal.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// FormatAmount renders minor units as a fixed two-decimal major-unit string.
func FormatAmount(minor int64) string {
	return MajorUnits(minor).StringFixed(MinorUnitExponent)
}
