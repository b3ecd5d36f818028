// utils/amount.go
package utils

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// AmountScale is the fixed-point precision for value amounts: all internal
// accounting runs on unsigned integers in milli-units, the HTTP surface
// speaks 3-decimal strings ("1.000" == 1000 milli-units).
const AmountScale = 1000

// ParseAmount converts a decimal string into milli-units. Rejects negative
// values and anything finer than 3 decimal places.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q must not be negative", s)
	}
	if d.Exponent() < -3 {
		return 0, fmt.Errorf("amount %q has more than 3 decimal places", s)
	}
	milli := d.Mul(decimal.NewFromInt(AmountScale))
	if !milli.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than 3 decimal places", s)
	}
	v := milli.BigInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return v.Uint64(), nil
}

// FormatAmount renders milli-units back into a 3-decimal string.
func FormatAmount(v uint64) string {
	return decimal.New(int64(v), -3).StringFixed(3)
}

// ParseID parses a numeric resource identifier from a route parameter.
func ParseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
