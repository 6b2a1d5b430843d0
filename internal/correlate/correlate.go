// Package correlate links separately emitted logs that together make up one
// logical action, e.g. a collateral-seizure transfer followed by the repay
// that completes a liquidation.
package correlate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"lendscope/internal/model"
)

// Pending is the payload stashed by the first half of a correlated action.
// SeizedUSD carries the USD value computed with the stashing event's own
// token and decimals; the consumer's token generally differs.
type Pending struct {
	TxHash    string
	LogIndex  uint64
	From      string
	To        string
	Amount    *big.Int
	SeizedUSD decimal.Decimal
	Timestamp uint64
}

// Cache is a short-lived stash of pending correlations keyed by
// (transaction hash, log index). Entries are read-once: a successful Take
// removes the entry so a second event in the same transaction cannot
// double-count it. Entries that are never consumed are inert, not an error.
type Cache struct {
	pending map[string]Pending
}

// NewCache returns an empty pending-correlation cache.
func NewCache() *Cache {
	return &Cache{pending: make(map[string]Pending)}
}

// Stash records the first half of a correlated action under its own
// (txHash, logIndex) key.
func (c *Cache) Stash(p Pending) {
	c.pending[pendingKey(p.TxHash, p.LogIndex)] = p
}

// Take retrieves and removes the stash for the key. The second return is
// false when nothing was stashed, which callers treat as "uncorrelated".
func (c *Cache) Take(txHash string, logIndex uint64) (Pending, bool) {
	key := pendingKey(txHash, logIndex)
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return p, ok
}

// Len reports the number of unconsumed stashes.
func (c *Cache) Len() int {
	return len(c.pending)
}

func pendingKey(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex)
}

// ScanSibling is the fallback strategy for halves separated by a variable
// number of interleaved logs: starting just after the anchor's place in the
// transaction's ordered receipt logs, scan forward at most maxOffset entries
// and return the first log whose topic0 the matcher accepts. A miss is
// silent; the caller proceeds as if uncorrelated.
func ScanSibling(receiptLogs []model.LogRecord, anchorLogIndex uint64, maxOffset int, match func(topic0 string) bool) (*model.LogRecord, bool) {
	if maxOffset <= 0 || match == nil {
		return nil, false
	}

	anchor := -1
	for i, log := range receiptLogs {
		if log.LogIndex == anchorLogIndex {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return nil, false
	}

	for i := anchor + 1; i < len(receiptLogs) && i <= anchor+maxOffset; i++ {
		log := receiptLogs[i]
		if len(log.Topics) == 0 {
			continue
		}
		if match(log.Topics[0]) {
			return &log, true
		}
	}
	return nil, false
}
