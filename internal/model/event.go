package model

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// EventKind classifies a decoded lending event.
type EventKind int

const (
	EventDeposit EventKind = iota
	EventWithdraw
	EventBorrow
	EventRepay
	EventLiquidation
	EventTransfer
	EventCollateralConfig
)

var eventKindNames = map[EventKind]string{
	EventDeposit:          "deposit",
	EventWithdraw:         "withdraw",
	EventBorrow:           "borrow",
	EventRepay:            "repay",
	EventLiquidation:      "liquidation",
	EventTransfer:         "transfer",
	EventCollateralConfig: "collateral_config",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// MarshalJSON encodes the kind as its stable string name.
func (k EventKind) MarshalJSON() ([]byte, error) {
	name, ok := eventKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind: %d", int(k))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes the kind from its string name.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, kn := range eventKindNames {
		if kn == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind: %s", name)
}

// Side is the direction of an account's exposure to a market.
type Side int

const (
	SideLender Side = iota
	SideBorrower
)

var sideNames = map[Side]string{
	SideLender:   "lender",
	SideBorrower: "borrower",
}

func (s Side) String() string {
	if name, ok := sideNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalJSON encodes the side as its stable string name.
func (s Side) MarshalJSON() ([]byte, error) {
	name, ok := sideNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown side: %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes the side from its string name.
func (s *Side) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for side, sn := range sideNames {
		if sn == name {
			*s = side
			return nil
		}
	}
	return fmt.Errorf("unknown side: %s", name)
}

// LendingEvent is a decoded lending-pool event enriched with the context the
// accounting engine needs. Big integer amounts are kept as decimal strings so
// JSONL stays portable across precisions.
type LendingEvent struct {
	Kind          EventKind `json:"kind"`
	ChainID       uint64    `json:"chain_id"`
	BlockNumber   uint64    `json:"block_number"`
	Timestamp     uint64    `json:"timestamp"`
	TxHash        string    `json:"tx_hash"`
	TxIndex       uint64    `json:"tx_index"`
	LogIndex      uint64    `json:"log_index"`
	Market        string    `json:"market"`
	Token         string    `json:"token"`
	TokenDecimals uint8     `json:"token_decimals"`
	Account       string    `json:"account"`
	Caller        string    `json:"caller,omitempty"`
	Amount        string    `json:"amount"`
	// PostBalance is the authoritative post-event balance for the affected
	// (account, market, side) key. Balance semantics vary by event type on
	// chain, so the decoder supplies the true post-state rather than letting
	// the engine derive it from deltas.
	PostBalance string `json:"post_balance"`
	// InterestPortion is the interest component of a repay, zero when the
	// feed cannot attribute it.
	InterestPortion string `json:"interest_portion,omitempty"`
	SupplyRate      string `json:"supply_rate,omitempty"`
	BorrowRate      string `json:"borrow_rate,omitempty"`
	// Risk parameters in basis points, set only on collateral_config events.
	// LiquidationBonusBps follows the on-chain convention where 10500 means
	// a 5% seizure premium.
	MaximumLTVBps           int64 `json:"maximum_ltv_bps,omitempty"`
	LiquidationThresholdBps int64 `json:"liquidation_threshold_bps,omitempty"`
	LiquidationBonusBps     int64 `json:"liquidation_bonus_bps,omitempty"`
}

// AmountBig parses the raw amount.
func (e LendingEvent) AmountBig() (*big.Int, error) {
	return parseBigInt(e.Amount)
}

// PostBalanceBig parses the post-event balance.
func (e LendingEvent) PostBalanceBig() (*big.Int, error) {
	return parseBigInt(e.PostBalance)
}

// InterestBig parses the interest portion of a repay.
func (e LendingEvent) InterestBig() (*big.Int, error) {
	return parseBigInt(e.InterestPortion)
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
