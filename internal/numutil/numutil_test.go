package numutil

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromRaw(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000", 10)
	got := FromRaw(raw, 18)
	assert.True(t, got.Equal(decimal.NewFromFloat(1.5)), "got %s", got)

	assert.True(t, FromRaw(nil, 18).IsZero())
	assert.True(t, FromRaw(big.NewInt(42), 0).Equal(decimal.NewFromInt(42)))
}

func TestRatioZeroDenominator(t *testing.T) {
	assert.True(t, Ratio(decimal.NewFromInt(7), decimal.Zero).IsZero())

	got := Ratio(decimal.NewFromInt(1), decimal.NewFromInt(3))
	assert.Equal(t, "0.3333333333333333", got.StringFixed(16))
}

func TestUSD(t *testing.T) {
	amount := decimal.NewFromFloat(2.5)
	price := decimal.NewFromInt(2000)
	assert.True(t, USD(amount, price).Equal(decimal.NewFromInt(5000)))
	assert.True(t, USD(amount, decimal.Zero).IsZero())
}

func TestBpsToRatio(t *testing.T) {
	assert.True(t, BpsToRatio(8250).Equal(decimal.NewFromFloat(0.825)))
}
