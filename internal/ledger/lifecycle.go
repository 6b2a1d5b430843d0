package ledger

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lendscope/internal/model"
	"lendscope/internal/store"
)

// EventRef carries the chain coordinates of the event driving a transition.
type EventRef struct {
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	Timestamp   uint64
}

// Lifecycle mutates positions and the open/closed bookkeeping on the
// account, market, and protocol aggregates around them. It writes the
// position and its immutable snapshot; saving the aggregates stays with the
// caller, which also owns delivery in strict log-index order.
type Lifecycle struct {
	store  store.Store
	logger *zap.Logger
}

// NewLifecycle builds a lifecycle manager over the entity store.
func NewLifecycle(entityStore store.Store, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: entityStore, logger: logger}
}

// ApplyIncrease opens or grows a position for a deposit or borrow. The
// caller supplies the authoritative post-event balance; balance semantics
// vary by event type on chain, so the engine never derives it from deltas.
func (l *Lifecycle) ApplyIncrease(
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	side model.Side,
	kind model.EventKind,
	newBalance *big.Int,
	balanceUSD decimal.Decimal,
	ref EventRef,
	rateIDs []string,
) (*model.Position, error) {
	slot := SlotIndex(account, market.ID, side)
	id := model.PositionID(account.ID, market.ID, side, slot)

	position, ok, err := l.store.Position(id)
	if err != nil {
		return nil, errors.Wrap(err, "load position")
	}
	if !ok {
		position = &model.Position{
			ID:              id,
			Account:         account.ID,
			Market:          market.ID,
			Side:            side,
			Slot:            slot,
			HashOpened:      ref.TxHash,
			BlockOpened:     ref.BlockNumber,
			TimestampOpened: ref.Timestamp,
		}
		account.PositionCount++
		account.OpenPositionCount++
		market.PositionCount++
		market.OpenPositionCount++
		protocol.PositionCount++
		protocol.OpenPositionCount++
	}

	position.Balance = new(big.Int).Set(newBalance)
	position.BalanceUSD = balanceUSD

	if err := l.countEvent(position, account, kind, false); err != nil {
		return nil, err
	}

	if err := l.store.SavePosition(position); err != nil {
		return nil, errors.Wrap(err, "save position")
	}
	if err := l.writeSnapshot(position, ref, rateIDs); err != nil {
		return nil, err
	}
	return position, nil
}

// ApplyDecrease shrinks or closes a position for a withdraw, repay, or
// liquidation. A missing open position is a recovered condition: some
// decrease events legitimately have no matching open position, so the event
// is logged and dropped, returning (nil, nil).
func (l *Lifecycle) ApplyDecrease(
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	side model.Side,
	kind model.EventKind,
	newBalance *big.Int,
	balanceUSD decimal.Decimal,
	ref EventRef,
	rateIDs []string,
	isLiquidation bool,
) (*model.Position, error) {
	slot := SlotIndex(account, market.ID, side)
	id := model.PositionID(account.ID, market.ID, side, slot)

	position, ok, err := l.store.Position(id)
	if err != nil {
		return nil, errors.Wrap(err, "load position")
	}
	if !ok || !position.Open() {
		l.logger.Warn("decrease without open position, dropping event",
			zap.String("account", account.ID),
			zap.String("market", market.ID),
			zap.Stringer("side", side),
			zap.String("tx", ref.TxHash),
			zap.Uint64("log_index", ref.LogIndex),
		)
		return nil, nil
	}

	position.Balance = new(big.Int).Set(newBalance)
	position.BalanceUSD = balanceUSD

	if err := l.countEvent(position, account, kind, isLiquidation); err != nil {
		return nil, err
	}

	if newBalance.Sign() == 0 {
		position.HashClosed = ref.TxHash
		position.BlockClosed = ref.BlockNumber
		position.TimestampClosed = ref.Timestamp

		account.OpenPositionCount--
		account.ClosedPositionCount++
		market.OpenPositionCount--
		market.ClosedPositionCount++
		protocol.OpenPositionCount--
		protocol.ClosedPositionCount++

		AdvanceSlot(account, market.ID, side)
	}

	if err := l.store.SavePosition(position); err != nil {
		return nil, errors.Wrap(err, "save position")
	}
	if err := l.writeSnapshot(position, ref, rateIDs); err != nil {
		return nil, err
	}
	return position, nil
}

func (l *Lifecycle) countEvent(position *model.Position, account *model.Account, kind model.EventKind, isLiquidation bool) error {
	switch kind {
	case model.EventDeposit:
		position.DepositCount++
		account.DepositCount++
	case model.EventWithdraw:
		position.WithdrawCount++
		account.WithdrawCount++
		if isLiquidation {
			position.LiquidationCount++
		}
	case model.EventBorrow:
		position.BorrowCount++
		account.BorrowCount++
	case model.EventRepay:
		position.RepayCount++
		account.RepayCount++
		if isLiquidation {
			position.LiquidationCount++
		}
	case model.EventLiquidation:
		position.LiquidationCount++
		account.LiquidationCount++
	default:
		return errors.Errorf("event kind %s cannot drive a position transition", kind)
	}
	return nil
}

// writeSnapshot records the immutable point-in-time copy. It runs
// unconditionally, including on close, so the terminal state is captured.
func (l *Lifecycle) writeSnapshot(position *model.Position, ref EventRef, rateIDs []string) error {
	snap := &model.PositionSnapshot{
		ID:          model.SnapshotID(position.ID, ref.TxHash, ref.LogIndex),
		Position:    position.ID,
		TxHash:      ref.TxHash,
		LogIndex:    ref.LogIndex,
		Balance:     new(big.Int).Set(position.Balance),
		BalanceUSD:  position.BalanceUSD,
		BlockNumber: ref.BlockNumber,
		Timestamp:   ref.Timestamp,
		RateIDs:     append([]string(nil), rateIDs...),
	}
	return errors.Wrap(l.store.SavePositionSnapshot(snap), "save position snapshot")
}
