package rollup

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"lendscope/internal/model"
)

func TestSplitByShares(t *testing.T) {
	out := Split(decimal.NewFromInt(100), DefaultSplit())

	assert.True(t, out.SupplySideUSD.Equal(decimal.NewFromInt(90)))
	assert.True(t, out.ProtocolSideUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, out.StakeSideUSD.Equal(decimal.Zero))
	assert.True(t, out.Total().Equal(decimal.NewFromInt(100)))
}

func TestSplitStakeTakesResidual(t *testing.T) {
	cfg := SplitConfig{
		SupplyShare:   decimal.NewFromFloat(0.7),
		ProtocolShare: decimal.NewFromFloat(0.2),
		StakeShare:    decimal.NewFromFloat(0.1),
	}
	out := Split(decimal.NewFromInt(100), cfg)

	assert.True(t, out.SupplySideUSD.Equal(decimal.NewFromInt(70)))
	assert.True(t, out.ProtocolSideUSD.Equal(decimal.NewFromInt(20)))
	assert.True(t, out.StakeSideUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, out.Total().Equal(decimal.NewFromInt(100)))
}

func TestSplitLiquidationSubtractMode(t *testing.T) {
	// 15 total of which 10 is liquidation-linked: only 5 goes through the
	// standard split, the 10 lands entirely protocol-side
	out := SplitLiquidation(decimal.NewFromInt(15), decimal.NewFromInt(10), DefaultSplit(), nil)

	assert.True(t, out.SupplySideUSD.Equal(decimal.NewFromFloat(4.5)))
	assert.True(t, out.ProtocolSideUSD.Equal(decimal.NewFromFloat(10.5)))
	assert.True(t, out.Total().Equal(decimal.NewFromInt(15)))
}

func TestSplitLiquidationAdditiveMode(t *testing.T) {
	cfg := DefaultSplit()
	cfg.SubtractLiquidation = false

	out := SplitLiquidation(decimal.NewFromInt(15), decimal.NewFromInt(10), cfg, nil)

	assert.True(t, out.SupplySideUSD.Equal(decimal.NewFromFloat(13.5)))
	assert.True(t, out.ProtocolSideUSD.Equal(decimal.NewFromFloat(11.5)))
	assert.True(t, out.Total().Equal(decimal.NewFromInt(25)))
}

func TestSplitLiquidationClampsNegativeRemainder(t *testing.T) {
	out := SplitLiquidation(decimal.NewFromInt(5), decimal.NewFromInt(10), DefaultSplit(), nil)

	assert.True(t, out.SupplySideUSD.Equal(decimal.Zero))
	assert.True(t, out.ProtocolSideUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, out.StakeSideUSD.Equal(decimal.Zero))
}

func TestApplyRevenue(t *testing.T) {
	var c model.Cumulatives
	ApplyRevenue(&c, RevenueSplit{
		SupplySideUSD:   decimal.NewFromInt(9),
		ProtocolSideUSD: decimal.NewFromInt(1),
	})
	ApplyRevenue(&c, RevenueSplit{
		SupplySideUSD:   decimal.NewFromInt(18),
		ProtocolSideUSD: decimal.NewFromInt(2),
	})

	assert.True(t, c.SupplySideRevenueUSD.Equal(decimal.NewFromInt(27)))
	assert.True(t, c.ProtocolSideRevenueUSD.Equal(decimal.NewFromInt(3)))
	assert.True(t, c.TotalRevenueUSD.Equal(decimal.NewFromInt(30)))
}
