// Package pricing supplies USD token prices to the accounting engine. The
// engine treats a missing price as a recoverable condition and substitutes
// zero.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Pricer resolves the USD price of a token at a block.
type Pricer interface {
	PriceOf(token string, blockNumber uint64) (decimal.Decimal, bool)
}

// StaticPricer serves configured per-token prices, keyed by lowercased
// token address. Useful for backfills against a fixed price table and for
// tests.
type StaticPricer struct {
	prices map[string]decimal.Decimal
}

// NewStaticPricer builds a pricer from a token -> price table.
func NewStaticPricer(prices map[string]decimal.Decimal) *StaticPricer {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for token, price := range prices {
		normalized[strings.ToLower(token)] = price
	}
	return &StaticPricer{prices: normalized}
}

// PriceOf returns the configured price, false when the token is unknown.
func (p *StaticPricer) PriceOf(token string, _ uint64) (decimal.Decimal, bool) {
	price, ok := p.prices[strings.ToLower(token)]
	return price, ok
}
