package domain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimals of the native value unit (wei -> ether).
const NativeDecimals = 18

// DecimalFromAmount converts a raw integer amount into a decimal.
func DecimalFromAmount(a *uint256.Int) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.ToBig(), 0)
}

// AmountFromDecimal converts a non-negative integral decimal into a raw amount.
func AmountFromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %s is negative", d)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has a fractional part", d)
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", d)
	}
	return v, nil
}

// ParseAmount parses a human readable amount ("0.05") scaled by the given decimals.
func ParseAmount(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return AmountFromDecimal(d.Shift(decimals))
}

// FormatAmount renders a raw amount with the given decimals ("50000000000000000" -> "0.05").
func FormatAmount(a *uint256.Int, decimals int32) string {
	return DecimalFromAmount(a).Shift(-decimals).String()
}

// IsPositive reports whether a is set and non-zero.
func IsPositive(a *uint256.Int) bool {
	return a != nil && !a.IsZero()
}
