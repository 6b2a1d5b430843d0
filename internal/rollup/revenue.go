package rollup

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lendscope/internal/model"
)

// SplitConfig is the per-protocol revenue split. SupplyShare, ProtocolShare
// and StakeShare are fractions of interest revenue summing to one; the
// stake side absorbs rounding residue.
type SplitConfig struct {
	SupplyShare   decimal.Decimal
	ProtocolShare decimal.Decimal
	StakeShare    decimal.Decimal
	// SubtractLiquidation selects the convention for liquidation-sourced
	// revenue: true subtracts the liquidation-linked remainder from the
	// interest baseline before the standard split, false treats it as
	// additive on top. Protocol deployments disagree on this, so it is
	// configuration, not a constant.
	SubtractLiquidation bool
}

// DefaultSplit is the common 90/10 supplier/treasury split with no staking
// share.
func DefaultSplit() SplitConfig {
	return SplitConfig{
		SupplyShare:         decimal.NewFromFloat(0.9),
		ProtocolShare:       decimal.NewFromFloat(0.1),
		StakeShare:          decimal.Zero,
		SubtractLiquidation: true,
	}
}

// RevenueSplit is the three-way division of one accrued amount.
type RevenueSplit struct {
	SupplySideUSD   decimal.Decimal
	ProtocolSideUSD decimal.Decimal
	StakeSideUSD    decimal.Decimal
}

// Total returns the sum of the three sides.
func (r RevenueSplit) Total() decimal.Decimal {
	return r.SupplySideUSD.Add(r.ProtocolSideUSD).Add(r.StakeSideUSD)
}

// Split divides an interest-sourced accrued amount by the configured
// ratios. The stake side takes the residual so the parts always sum to the
// input exactly.
func Split(totalUSD decimal.Decimal, cfg SplitConfig) RevenueSplit {
	supply := totalUSD.Mul(cfg.SupplyShare)
	protocol := totalUSD.Mul(cfg.ProtocolShare)
	stake := totalUSD.Sub(supply).Sub(protocol)
	if stake.IsNegative() {
		stake = decimal.Zero
	}
	return RevenueSplit{
		SupplySideUSD:   supply,
		ProtocolSideUSD: protocol,
		StakeSideUSD:    stake,
	}
}

// SplitLiquidation divides liquidation-sourced revenue. The
// liquidation-linked remainder (the repaid amount of the correlated sibling
// event) is credited entirely protocol-side and never shared with
// suppliers; the interest-linked remainder goes through the standard split.
// A remainder smaller than its liquidation-attributed component is a
// surfaced data inconsistency: logged, then clamped to zero.
func SplitLiquidation(totalUSD, liquidationUSD decimal.Decimal, cfg SplitConfig, logger *zap.Logger) RevenueSplit {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.SubtractLiquidation {
		out := Split(totalUSD, cfg)
		out.ProtocolSideUSD = out.ProtocolSideUSD.Add(liquidationUSD)
		return out
	}

	interestLinked := totalUSD.Sub(liquidationUSD)
	if interestLinked.IsNegative() {
		logger.Warn("revenue remainder smaller than liquidation component",
			zap.String("total_usd", totalUSD.String()),
			zap.String("liquidation_usd", liquidationUSD.String()),
		)
		interestLinked = decimal.Zero
	}

	out := Split(interestLinked, cfg)
	out.ProtocolSideUSD = out.ProtocolSideUSD.Add(liquidationUSD)
	return out
}

// ApplyRevenue adds a split onto the cumulative revenue counters.
func ApplyRevenue(c *model.Cumulatives, r RevenueSplit) {
	c.SupplySideRevenueUSD = c.SupplySideRevenueUSD.Add(r.SupplySideUSD)
	c.ProtocolSideRevenueUSD = c.ProtocolSideRevenueUSD.Add(r.ProtocolSideUSD)
	c.StakeSideRevenueUSD = c.StakeSideRevenueUSD.Add(r.StakeSideUSD)
	c.TotalRevenueUSD = c.TotalRevenueUSD.Add(r.Total())
}
