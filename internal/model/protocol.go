package model

import "github.com/shopspring/decimal"

// Protocol is the singleton aggregate for one deployment. Created lazily on
// first access.
type Protocol struct {
	ID string

	CumulativeUniqueUsers       int64
	CumulativeUniqueDepositors  int64
	CumulativeUniqueBorrowers   int64
	CumulativeUniqueLiquidators int64
	CumulativeUniqueLiquidatees int64

	TotalDepositBalanceUSD decimal.Decimal
	TotalBorrowBalanceUSD  decimal.Decimal
	TotalValueLockedUSD    decimal.Decimal

	Cumulative Cumulatives

	PositionCount       int64
	OpenPositionCount   int64
	ClosedPositionCount int64
}

// NewProtocol returns a zeroed protocol aggregate.
func NewProtocol(id string) *Protocol {
	return &Protocol{ID: id}
}
