package model

import "github.com/shopspring/decimal"

// Cumulatives groups the monotonically increasing USD counters shared by
// markets, the protocol aggregate, and their periodic snapshots.
type Cumulatives struct {
	DepositUSD   decimal.Decimal
	WithdrawUSD  decimal.Decimal
	BorrowUSD    decimal.Decimal
	RepayUSD     decimal.Decimal
	LiquidateUSD decimal.Decimal

	SupplySideRevenueUSD   decimal.Decimal
	ProtocolSideRevenueUSD decimal.Decimal
	StakeSideRevenueUSD    decimal.Decimal
	TotalRevenueUSD        decimal.Decimal
}

// Sub returns the field-wise difference c - prev.
func (c Cumulatives) Sub(prev Cumulatives) Cumulatives {
	return Cumulatives{
		DepositUSD:             c.DepositUSD.Sub(prev.DepositUSD),
		WithdrawUSD:            c.WithdrawUSD.Sub(prev.WithdrawUSD),
		BorrowUSD:              c.BorrowUSD.Sub(prev.BorrowUSD),
		RepayUSD:               c.RepayUSD.Sub(prev.RepayUSD),
		LiquidateUSD:           c.LiquidateUSD.Sub(prev.LiquidateUSD),
		SupplySideRevenueUSD:   c.SupplySideRevenueUSD.Sub(prev.SupplySideRevenueUSD),
		ProtocolSideRevenueUSD: c.ProtocolSideRevenueUSD.Sub(prev.ProtocolSideRevenueUSD),
		StakeSideRevenueUSD:    c.StakeSideRevenueUSD.Sub(prev.StakeSideRevenueUSD),
		TotalRevenueUSD:        c.TotalRevenueUSD.Sub(prev.TotalRevenueUSD),
	}
}

// Market is one lending reserve. Created on first discovery, mutated on
// every event that touches it, never deleted.
type Market struct {
	ID                 string
	InputToken         string
	InputTokenDecimals uint8

	CreatedTimestamp uint64
	CreatedBlock     uint64

	MaximumLTV           decimal.Decimal
	LiquidationThreshold decimal.Decimal
	LiquidationPenalty   decimal.Decimal

	TotalDepositBalanceUSD decimal.Decimal
	TotalBorrowBalanceUSD  decimal.Decimal
	TotalValueLockedUSD    decimal.Decimal

	Cumulative Cumulatives

	PositionCount       int64
	OpenPositionCount   int64
	ClosedPositionCount int64

	// RateIDs lists the live interest-rate records for the market.
	RateIDs []string
}

// NewMarket returns a market record discovered at the given event.
func NewMarket(id, token string, decimals uint8, block, timestamp uint64) *Market {
	return &Market{
		ID:                 id,
		InputToken:         token,
		InputTokenDecimals: decimals,
		CreatedBlock:       block,
		CreatedTimestamp:   timestamp,
	}
}
