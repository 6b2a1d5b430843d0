package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Position is one account's open exposure to one market on one side. The
// slot index disambiguates successive open/close cycles of the same
// (account, market, side) key: exactly one position per key and slot may be
// open at a time, and a closed position is never reopened.
type Position struct {
	ID      string
	Account string
	Market  string
	Side    Side
	Slot    int64

	Balance    *big.Int
	BalanceUSD decimal.Decimal

	HashOpened       string
	HashClosed       string
	BlockOpened      uint64
	BlockClosed      uint64
	TimestampOpened  uint64
	TimestampClosed  uint64

	DepositCount     int64
	WithdrawCount    int64
	BorrowCount      int64
	RepayCount       int64
	LiquidationCount int64
}

// PositionID builds the deterministic composite identity of a position.
func PositionID(account, market string, side Side, slot int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", account, market, side, slot)
}

// Open reports whether the position has not been closed yet.
func (p *Position) Open() bool {
	return p.HashClosed == ""
}

// PositionSnapshot is an immutable point-in-time copy of a position taken at
// one event. Written once, never mutated.
type PositionSnapshot struct {
	ID       string
	Position string
	TxHash   string
	LogIndex uint64

	Balance    *big.Int
	BalanceUSD decimal.Decimal

	BlockNumber uint64
	Timestamp   uint64

	// RateIDs references the frozen interest-rate records in force at the
	// snapshot, so history never aliases the live rate.
	RateIDs []string
}

// SnapshotID builds the identity of a position snapshot.
func SnapshotID(positionID, txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s-%s-%d", positionID, txHash, logIndex)
}
