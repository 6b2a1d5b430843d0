package model

import "fmt"

// Account tracks per-address activity and position bookkeeping. Created on
// the first event referencing the address, never deleted.
type Account struct {
	ID string

	PositionCount       int64
	OpenPositionCount   int64
	ClosedPositionCount int64

	DepositCount  int64
	WithdrawCount int64
	BorrowCount   int64
	RepayCount    int64
	// LiquidateCount counts liquidations performed by this account,
	// LiquidationCount liquidations suffered by it.
	LiquidateCount   int64
	LiquidationCount int64

	Depositor  bool
	Borrower   bool
	Liquidator bool
	Liquidatee bool

	// SlotCounters holds the current open position slot per market:side key.
	SlotCounters map[string]int64
}

// NewAccount returns a zeroed account record for the address.
func NewAccount(id string) *Account {
	return &Account{
		ID:           id,
		SlotCounters: make(map[string]int64),
	}
}

// SlotKey builds the counter key for a market and side.
func SlotKey(market string, side Side) string {
	return fmt.Sprintf("%s:%s", market, side)
}
