// Package rollup converts the live aggregates' monotonically increasing
// cumulative counters into hourly and daily snapshot entities with
// period-local deltas.
package rollup

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lendscope/internal/model"
	"lendscope/internal/store"
)

// DefaultLookback bounds the backward search for the nearest existing
// previous snapshot (periods with zero events never get a row, so period ids
// are not contiguous). 30 days of hourly periods.
const DefaultLookback = 30 * 24

// Engine derives periodic snapshots against the entity store. Accrue
// methods take the already-updated aggregate as a parameter, so mutation
// ordering is enforced by the signature rather than by shared state reads.
type Engine struct {
	store    store.Store
	logger   *zap.Logger
	lookback int64
	// lastTx remembers, per usage snapshot, the last transaction counted
	// toward TransactionCount. Events arrive in strict (block, txIndex,
	// logIndex) order, so a transaction's events are contiguous and one
	// remembered hash per snapshot is enough to count each tx once.
	lastTx map[string]string
}

// New builds a rollup engine. lookback <= 0 selects DefaultLookback.
func New(entityStore store.Store, logger *zap.Logger, lookback int64) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Engine{store: entityStore, logger: logger, lookback: lookback, lastTx: make(map[string]string)}
}

// PeriodID maps a timestamp onto its fixed-width, epoch-aligned period.
func PeriodID(timestamp uint64, periodSeconds int64) int64 {
	if periodSeconds <= 0 {
		return 0
	}
	return int64(timestamp) / periodSeconds
}

// AccrueMarket creates or updates the market snapshot for the event's
// period. On first event in a period the delta baseline is resolved by
// searching backward for the nearest existing snapshot; later events in the
// same period re-derive against that same baseline, never against the
// snapshot's own running value.
func (e *Engine) AccrueMarket(market *model.Market, g model.Granularity, blockNumber, timestamp uint64) (*model.MarketSnapshot, error) {
	period := PeriodID(timestamp, g.Seconds())
	id := model.PeriodicID(market.ID, g, period)

	snap, ok, err := e.store.MarketSnapshot(id)
	if err != nil {
		return nil, errors.Wrap(err, "load market snapshot")
	}
	if !ok {
		baseline, err := e.previousMarketPeriod(market.ID, g, period)
		if err != nil {
			return nil, err
		}
		snap = &model.MarketSnapshot{
			ID:             id,
			Market:         market.ID,
			Granularity:    g,
			Period:         period,
			BaselinePeriod: baseline,
		}
		rateIDs, err := e.freezeRates(market.RateIDs, g, period)
		if err != nil {
			return nil, err
		}
		snap.RateIDs = rateIDs
	}

	var base model.Cumulatives
	if snap.BaselinePeriod >= 0 {
		prev, ok, err := e.store.MarketSnapshot(model.PeriodicID(market.ID, g, snap.BaselinePeriod))
		if err != nil {
			return nil, errors.Wrap(err, "load baseline market snapshot")
		}
		if ok {
			base = prev.Cumulative
		}
	}

	snap.BlockNumber = blockNumber
	snap.Timestamp = timestamp
	snap.TotalDepositBalanceUSD = market.TotalDepositBalanceUSD
	snap.TotalBorrowBalanceUSD = market.TotalBorrowBalanceUSD
	snap.TotalValueLockedUSD = market.TotalValueLockedUSD
	snap.Cumulative = market.Cumulative
	snap.Delta = market.Cumulative.Sub(base)

	if err := e.store.SaveMarketSnapshot(snap); err != nil {
		return nil, errors.Wrap(err, "save market snapshot")
	}
	return snap, nil
}

// AccrueProtocol is AccrueMarket for the protocol-level financials.
func (e *Engine) AccrueProtocol(protocol *model.Protocol, g model.Granularity, blockNumber, timestamp uint64) (*model.ProtocolSnapshot, error) {
	period := PeriodID(timestamp, g.Seconds())
	id := model.PeriodicID(protocol.ID, g, period)

	snap, ok, err := e.store.ProtocolSnapshot(id)
	if err != nil {
		return nil, errors.Wrap(err, "load protocol snapshot")
	}
	if !ok {
		baseline, err := e.previousProtocolPeriod(protocol.ID, g, period)
		if err != nil {
			return nil, err
		}
		snap = &model.ProtocolSnapshot{
			ID:             id,
			Protocol:       protocol.ID,
			Granularity:    g,
			Period:         period,
			BaselinePeriod: baseline,
		}
	}

	var base model.Cumulatives
	if snap.BaselinePeriod >= 0 {
		prev, ok, err := e.store.ProtocolSnapshot(model.PeriodicID(protocol.ID, g, snap.BaselinePeriod))
		if err != nil {
			return nil, errors.Wrap(err, "load baseline protocol snapshot")
		}
		if ok {
			base = prev.Cumulative
		}
	}

	snap.BlockNumber = blockNumber
	snap.Timestamp = timestamp
	snap.TotalDepositBalanceUSD = protocol.TotalDepositBalanceUSD
	snap.TotalBorrowBalanceUSD = protocol.TotalBorrowBalanceUSD
	snap.TotalValueLockedUSD = protocol.TotalValueLockedUSD
	snap.Cumulative = protocol.Cumulative
	snap.Delta = protocol.Cumulative.Sub(base)

	if err := e.store.SaveProtocolSnapshot(snap); err != nil {
		return nil, errors.Wrap(err, "save protocol snapshot")
	}
	return snap, nil
}

// AccrueUsage updates the period's activity snapshot: per-transaction and
// per-event-type counts plus exact active-user counting via per-period
// account markers. TransactionCount advances once per distinct txHash, not
// once per event.
func (e *Engine) AccrueUsage(protocol *model.Protocol, g model.Granularity, kind model.EventKind, account, txHash string, blockNumber, timestamp uint64) (*model.UsageSnapshot, error) {
	period := PeriodID(timestamp, g.Seconds())
	id := model.PeriodicID(protocol.ID+"-usage", g, period)

	snap, ok, err := e.store.UsageSnapshot(id)
	if err != nil {
		return nil, errors.Wrap(err, "load usage snapshot")
	}
	if !ok {
		snap = &model.UsageSnapshot{
			ID:          id,
			Protocol:    protocol.ID,
			Granularity: g,
			Period:      period,
		}
	}

	snap.BlockNumber = blockNumber
	snap.Timestamp = timestamp
	snap.CumulativeUniqueUsers = protocol.CumulativeUniqueUsers
	if e.lastTx[id] != txHash {
		e.lastTx[id] = txHash
		snap.TransactionCount++
	}

	switch kind {
	case model.EventDeposit:
		snap.DepositCount++
	case model.EventWithdraw, model.EventTransfer:
		snap.WithdrawCount++
	case model.EventBorrow:
		snap.BorrowCount++
	case model.EventRepay:
		snap.RepayCount++
	case model.EventLiquidation:
		snap.LiquidateCount++
	default:
		return nil, errors.Errorf("event kind %s cannot accrue usage", kind)
	}

	markerID := model.ActiveAccountID(g, period, account)
	seen, err := e.store.ActiveAccount(markerID)
	if err != nil {
		return nil, errors.Wrap(err, "load active account marker")
	}
	if !seen {
		if err := e.store.SaveActiveAccount(markerID); err != nil {
			return nil, errors.Wrap(err, "save active account marker")
		}
		snap.ActiveUsers++
	}

	if err := e.store.SaveUsageSnapshot(snap); err != nil {
		return nil, errors.Wrap(err, "save usage snapshot")
	}
	return snap, nil
}

func (e *Engine) previousMarketPeriod(marketID string, g model.Granularity, period int64) (int64, error) {
	for p := period - 1; p >= 0 && p >= period-e.lookback; p-- {
		_, ok, err := e.store.MarketSnapshot(model.PeriodicID(marketID, g, p))
		if err != nil {
			return -1, errors.Wrap(err, "scan previous market snapshot")
		}
		if ok {
			return p, nil
		}
	}
	return -1, nil
}

func (e *Engine) previousProtocolPeriod(protocolID string, g model.Granularity, period int64) (int64, error) {
	for p := period - 1; p >= 0 && p >= period-e.lookback; p-- {
		_, ok, err := e.store.ProtocolSnapshot(model.PeriodicID(protocolID, g, p))
		if err != nil {
			return -1, errors.Wrap(err, "scan previous protocol snapshot")
		}
		if ok {
			return p, nil
		}
	}
	return -1, nil
}

// freezeRates writes immutable per-period copies of the market's live rates
// so historical snapshots never alias the mutable records.
func (e *Engine) freezeRates(rateIDs []string, g model.Granularity, period int64) ([]string, error) {
	frozen := make([]string, 0, len(rateIDs))
	for _, id := range rateIDs {
		live, ok, err := e.store.InterestRate(id)
		if err != nil {
			return nil, errors.Wrap(err, "load interest rate")
		}
		if !ok {
			continue
		}
		fr := live.Frozen(g, period)
		if err := e.store.SaveInterestRate(&fr); err != nil {
			return nil, errors.Wrap(err, "save frozen rate")
		}
		frozen = append(frozen, fr.ID)
	}
	return frozen, nil
}
