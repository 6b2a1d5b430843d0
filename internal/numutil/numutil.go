// Package numutil holds the shared fixed-point arithmetic used for USD
// amounts. Native token units stay math/big integers; everything priced is a
// shopspring decimal.
package numutil

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FromRaw shifts a raw integer token amount into a token-precision decimal.
func FromRaw(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// USD prices a token-precision amount. A zero price yields zero.
func USD(amount, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(price)
}

// Ratio divides num by den decimal-by-decimal. A zero denominator yields
// zero, not an error.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// BpsToRatio converts a basis-point integer (e.g. on-chain LTV of 8250) to
// a decimal ratio.
func BpsToRatio(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10_000))
}
