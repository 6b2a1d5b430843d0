package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RateKind distinguishes stable from variable interest rates.
type RateKind int

const (
	RateStable RateKind = iota
	RateVariable
)

func (k RateKind) String() string {
	switch k {
	case RateStable:
		return "stable"
	case RateVariable:
		return "variable"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// InterestRate is the live "current" rate record for one (side, kind,
// market). Frozen per-period copies carry a period suffix in their id.
type InterestRate struct {
	ID     string
	Rate   decimal.Decimal
	Side   Side
	Kind   RateKind
	Market string
}

// RateID builds the identity of a live rate record.
func RateID(side Side, kind RateKind, market string) string {
	return fmt.Sprintf("%s-%s-%s", side, kind, market)
}

// Frozen returns an immutable copy of the rate suffixed with the period id,
// for attachment to periodic snapshots.
func (r InterestRate) Frozen(granularity Granularity, period int64) InterestRate {
	frozen := r
	frozen.ID = fmt.Sprintf("%s-%s-%d", r.ID, granularity, period)
	return frozen
}
