// Package ledger applies position lifecycle transitions: slot allocation,
// open/increase, decrease/close, and the account/market/protocol counter
// bookkeeping that goes with them.
package ledger

import "lendscope/internal/model"

// SlotIndex returns the index of the currently open position slot for the
// (account, market, side) key, lazily starting at zero for an unseen key.
// Callers must read the slot before any mutation that might close the
// position and only advance it after the close is finalized.
func SlotIndex(account *model.Account, market string, side model.Side) int64 {
	if account.SlotCounters == nil {
		account.SlotCounters = make(map[string]int64)
	}
	return account.SlotCounters[model.SlotKey(market, side)]
}

// AdvanceSlot increments the slot counter by exactly one. It must be called
// exactly once, at the moment a position's balance reaches zero, so the next
// open for the key creates a distinct position identity.
func AdvanceSlot(account *model.Account, market string, side model.Side) {
	if account.SlotCounters == nil {
		account.SlotCounters = make(map[string]int64)
	}
	account.SlotCounters[model.SlotKey(market, side)]++
}
