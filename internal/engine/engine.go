// Package engine dispatches decoded lending events through the accounting
// core: entity resolution, event correlation, position lifecycle, and
// metrics rollup. Processing is single-threaded and strictly sequential in
// (block, txIndex, logIndex) order; every event is applied to completion or
// the run aborts.
package engine

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lendscope/internal/correlate"
	"lendscope/internal/decode"
	"lendscope/internal/ledger"
	"lendscope/internal/model"
	"lendscope/internal/numutil"
	"lendscope/internal/pricing"
	"lendscope/internal/rollup"
	"lendscope/internal/store"
)

// DefaultScanOffset bounds the receipt scan window for fallback sibling
// correlation, so pathological transactions cannot trigger unbounded work.
const DefaultScanOffset = 10

// Config holds the per-protocol engine parameters.
type Config struct {
	ProtocolID    string
	Split         rollup.SplitConfig
	MaxScanOffset int
}

// Engine applies one protocol instance's event stream to the entity store.
type Engine struct {
	cfg       Config
	store     store.Store
	pricer    pricing.Pricer
	lifecycle *ledger.Lifecycle
	rollup    *rollup.Engine
	pending   *correlate.Cache
	logger    *zap.Logger
}

// New wires an engine over its collaborators.
func New(cfg Config, entityStore store.Store, pricer pricing.Pricer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxScanOffset <= 0 {
		cfg.MaxScanOffset = DefaultScanOffset
	}
	if cfg.Split.SupplyShare.IsZero() && cfg.Split.ProtocolShare.IsZero() && cfg.Split.StakeShare.IsZero() {
		cfg.Split = rollup.DefaultSplit()
	}
	return &Engine{
		cfg:       cfg,
		store:     entityStore,
		pricer:    pricer,
		lifecycle: ledger.NewLifecycle(entityStore, logger),
		rollup:    rollup.New(entityStore, logger, 0),
		pending:   correlate.NewCache(),
		logger:    logger,
	}
}

// Apply processes one event. receiptLogs is the ordered log list of the
// event's transaction, used only for fallback sibling correlation; it may
// be nil when the feed cannot supply it.
func (e *Engine) Apply(ev model.LendingEvent, receiptLogs []model.LogRecord) error {
	if ev.Kind == model.EventCollateralConfig {
		return e.applyMarketConfig(ev)
	}

	amount, err := ev.AmountBig()
	if err != nil {
		return errors.Wrapf(err, "event %s:%d amount", ev.TxHash, ev.LogIndex)
	}
	postBalance, err := ev.PostBalanceBig()
	if err != nil {
		return errors.Wrapf(err, "event %s:%d post balance", ev.TxHash, ev.LogIndex)
	}

	protocol, err := e.getOrCreateProtocol()
	if err != nil {
		return err
	}
	account, err := e.getOrCreateAccount(ev.Account, protocol)
	if err != nil {
		return err
	}
	market, err := e.getOrCreateMarket(ev)
	if err != nil {
		return err
	}

	price := e.price(ev)
	amountUSD := numutil.USD(numutil.FromRaw(amount, ev.TokenDecimals), price)
	balanceUSD := numutil.USD(numutil.FromRaw(postBalance, ev.TokenDecimals), price)

	if err := e.updateRates(ev, market); err != nil {
		return err
	}

	ref := ledger.EventRef{
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.Timestamp,
	}

	switch ev.Kind {
	case model.EventDeposit:
		err = e.handleDeposit(ev, account, market, protocol, postBalance, amountUSD, balanceUSD, ref)
	case model.EventWithdraw:
		err = e.handleWithdraw(ev, account, market, protocol, postBalance, amountUSD, balanceUSD, ref)
	case model.EventBorrow:
		err = e.handleBorrow(ev, account, market, protocol, postBalance, amountUSD, balanceUSD, ref)
	case model.EventRepay:
		err = e.handleRepay(ev, account, market, protocol, postBalance, amount, amountUSD, balanceUSD, price, ref)
	case model.EventLiquidation:
		err = e.handleLiquidation(ev, account, market, protocol, postBalance, amountUSD, balanceUSD, price, receiptLogs, ref)
	case model.EventTransfer:
		err = e.handleTransfer(ev, account, market, protocol, postBalance, amount, amountUSD, balanceUSD, ref)
	default:
		err = errors.Errorf("unhandled event kind %s", ev.Kind)
	}
	if err != nil {
		return err
	}

	if err := e.saveAggregates(account, market, protocol); err != nil {
		return err
	}

	// Periodic snapshot writes run last in the event's processing sequence,
	// so an abort before them leaves no orphaned snapshot rows.
	return e.accrue(market, protocol, ev)
}

func (e *Engine) handleDeposit(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	ref ledger.EventRef,
) error {
	if !account.Depositor {
		account.Depositor = true
		protocol.CumulativeUniqueDepositors++
	}

	market.Cumulative.DepositUSD = market.Cumulative.DepositUSD.Add(amountUSD)
	protocol.Cumulative.DepositUSD = protocol.Cumulative.DepositUSD.Add(amountUSD)
	e.adjustDepositBalances(market, protocol, amountUSD)

	_, err := e.lifecycle.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, postBalance, balanceUSD, ref, market.RateIDs)
	return err
}

func (e *Engine) handleWithdraw(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	ref ledger.EventRef,
) error {
	market.Cumulative.WithdrawUSD = market.Cumulative.WithdrawUSD.Add(amountUSD)
	protocol.Cumulative.WithdrawUSD = protocol.Cumulative.WithdrawUSD.Add(amountUSD)
	e.adjustDepositBalances(market, protocol, amountUSD.Neg())

	_, err := e.lifecycle.ApplyDecrease(account, market, protocol, model.SideLender,
		model.EventWithdraw, postBalance, balanceUSD, ref, market.RateIDs, false)
	return err
}

func (e *Engine) handleBorrow(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	ref ledger.EventRef,
) error {
	if !account.Borrower {
		account.Borrower = true
		protocol.CumulativeUniqueBorrowers++
	}

	market.Cumulative.BorrowUSD = market.Cumulative.BorrowUSD.Add(amountUSD)
	protocol.Cumulative.BorrowUSD = protocol.Cumulative.BorrowUSD.Add(amountUSD)
	e.adjustBorrowBalances(market, protocol, amountUSD)

	_, err := e.lifecycle.ApplyIncrease(account, market, protocol, model.SideBorrower,
		model.EventBorrow, postBalance, balanceUSD, ref, market.RateIDs)
	return err
}

// handleRepay applies a repay, which may be the second half of a
// liquidation: a collateral-seizure transfer at logIndex-1 stashes the
// seized amount, and this handler retrieves it. An absent stash means a
// plain repay, not an error.
func (e *Engine) handleRepay(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance, amount *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	price decimal.Decimal,
	ref ledger.EventRef,
) error {
	var seized correlate.Pending
	isLiquidation := false
	if ev.LogIndex > 0 {
		seized, isLiquidation = e.pending.Take(ev.TxHash, ev.LogIndex-1)
	}

	market.Cumulative.RepayUSD = market.Cumulative.RepayUSD.Add(amountUSD)
	protocol.Cumulative.RepayUSD = protocol.Cumulative.RepayUSD.Add(amountUSD)
	e.adjustBorrowBalances(market, protocol, amountUSD.Neg())

	interest, err := ev.InterestBig()
	if err != nil {
		return errors.Wrapf(err, "event %s:%d interest", ev.TxHash, ev.LogIndex)
	}
	interestUSD := numutil.USD(numutil.FromRaw(interest, ev.TokenDecimals), price)

	var split rollup.RevenueSplit
	if isLiquidation {
		// The stash is collateral-denominated; its USD value was computed
		// at stash time with the collateral token's price and decimals.
		seizedUSD := seized.SeizedUSD
		profitUSD := seizedUSD.Sub(amountUSD)

		if err := e.markLiquidationParties(seized.From, seized.To, protocol); err != nil {
			return err
		}

		market.Cumulative.LiquidateUSD = market.Cumulative.LiquidateUSD.Add(seizedUSD)
		protocol.Cumulative.LiquidateUSD = protocol.Cumulative.LiquidateUSD.Add(seizedUSD)

		bonusUSD := profitUSD
		if bonusUSD.IsNegative() {
			bonusUSD = decimal.Zero
		}
		split = rollup.SplitLiquidation(interestUSD.Add(bonusUSD), bonusUSD, e.cfg.Split, e.logger)

		e.logger.Debug("correlated liquidation repay",
			zap.String("tx", ev.TxHash),
			zap.Uint64("log_index", ev.LogIndex),
			zap.String("liquidator", seized.From),
			zap.String("liquidatee", seized.To),
			zap.String("profit_usd", profitUSD.String()),
		)
	} else {
		split = rollup.Split(interestUSD, e.cfg.Split)
	}
	rollup.ApplyRevenue(&market.Cumulative, split)
	rollup.ApplyRevenue(&protocol.Cumulative, split)

	_, err = e.lifecycle.ApplyDecrease(account, market, protocol, model.SideBorrower,
		model.EventRepay, postBalance, balanceUSD, ref, market.RateIDs, isLiquidation)
	return err
}

// handleLiquidation applies a single-event liquidation (the protocol emits
// one log carrying the seized collateral). The repaid debt amount lives in
// a sibling repay log at a variable offset, so the bounded receipt scan is
// used to attribute the liquidation-linked revenue; a scan miss downgrades
// to seized-only accounting.
func (e *Engine) handleLiquidation(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	price decimal.Decimal,
	receiptLogs []model.LogRecord,
	ref ledger.EventRef,
) error {
	if err := e.markLiquidationParties(ev.Caller, ev.Account, protocol); err != nil {
		return err
	}

	market.Cumulative.LiquidateUSD = market.Cumulative.LiquidateUSD.Add(amountUSD)
	protocol.Cumulative.LiquidateUSD = protocol.Cumulative.LiquidateUSD.Add(amountUSD)
	e.adjustDepositBalances(market, protocol, amountUSD.Neg())

	repaidUSD := decimal.Zero
	if sibling, ok := correlate.ScanSibling(receiptLogs, ev.LogIndex, e.cfg.MaxScanOffset, decode.IsRepayTopic); ok {
		repaid, err := decode.AmountWord(sibling.Data, 0)
		if err != nil {
			e.logger.Warn("sibling repay decode failed",
				zap.String("tx", ev.TxHash),
				zap.Uint64("anchor_log_index", ev.LogIndex),
				zap.Error(err),
			)
		} else {
			repaidUSD = numutil.USD(numutil.FromRaw(repaid, ev.TokenDecimals), price)
		}
	}

	bonusUSD := amountUSD.Sub(repaidUSD)
	if bonusUSD.IsNegative() {
		bonusUSD = decimal.Zero
	}
	split := rollup.SplitLiquidation(bonusUSD, bonusUSD, e.cfg.Split, e.logger)
	rollup.ApplyRevenue(&market.Cumulative, split)
	rollup.ApplyRevenue(&protocol.Cumulative, split)

	_, err := e.lifecycle.ApplyDecrease(account, market, protocol, model.SideLender,
		model.EventLiquidation, postBalance, balanceUSD, ref, market.RateIDs, true)
	return err
}

// handleTransfer applies a collateral-token transfer. The sender's lender
// position decreases to its post-transfer balance, and the transfer is
// stashed as a possible first half of a liquidation for the repay that may
// follow at the next log index. An unconsumed stash is inert.
func (e *Engine) handleTransfer(
	ev model.LendingEvent,
	account *model.Account,
	market *model.Market,
	protocol *model.Protocol,
	postBalance, amount *big.Int,
	amountUSD, balanceUSD decimal.Decimal,
	ref ledger.EventRef,
) error {
	e.pending.Stash(correlate.Pending{
		TxHash:    ev.TxHash,
		LogIndex:  ev.LogIndex,
		From:      ev.Account,
		To:        ev.Caller,
		Amount:    new(big.Int).Set(amount),
		SeizedUSD: amountUSD,
		Timestamp: ev.Timestamp,
	})

	market.Cumulative.WithdrawUSD = market.Cumulative.WithdrawUSD.Add(amountUSD)
	protocol.Cumulative.WithdrawUSD = protocol.Cumulative.WithdrawUSD.Add(amountUSD)
	e.adjustDepositBalances(market, protocol, amountUSD.Neg())

	_, err := e.lifecycle.ApplyDecrease(account, market, protocol, model.SideLender,
		model.EventWithdraw, postBalance, balanceUSD, ref, market.RateIDs, false)
	return err
}

// markLiquidationParties sets the unique liquidator/liquidatee flags and
// per-role counters on both accounts of a liquidation.
func (e *Engine) markLiquidationParties(liquidator, liquidatee string, protocol *model.Protocol) error {
	liq, err := e.getOrCreateAccount(liquidator, protocol)
	if err != nil {
		return err
	}
	if !liq.Liquidator {
		liq.Liquidator = true
		protocol.CumulativeUniqueLiquidators++
	}
	liq.LiquidateCount++
	if err := e.store.SaveAccount(liq); err != nil {
		return errors.Wrap(err, "save liquidator account")
	}

	liqee, err := e.getOrCreateAccount(liquidatee, protocol)
	if err != nil {
		return err
	}
	if !liqee.Liquidatee {
		liqee.Liquidatee = true
		protocol.CumulativeUniqueLiquidatees++
	}
	return errors.Wrap(e.store.SaveAccount(liqee), "save liquidatee account")
}

// applyMarketConfig updates a market's risk parameters from a configurator
// event. No account is involved and no balances move, so the usage and
// lifecycle accounting stays untouched.
func (e *Engine) applyMarketConfig(ev model.LendingEvent) error {
	market, err := e.getOrCreateMarket(ev)
	if err != nil {
		return err
	}
	market.MaximumLTV = numutil.BpsToRatio(ev.MaximumLTVBps)
	market.LiquidationThreshold = numutil.BpsToRatio(ev.LiquidationThresholdBps)
	// on-chain bonus is the gross multiplier, 10500 bps means a 5% penalty
	penaltyBps := ev.LiquidationBonusBps - 10_000
	if penaltyBps < 0 {
		penaltyBps = 0
	}
	market.LiquidationPenalty = numutil.BpsToRatio(penaltyBps)
	return errors.Wrap(e.store.SaveMarket(market), "save market")
}

func (e *Engine) accrue(market *model.Market, protocol *model.Protocol, ev model.LendingEvent) error {
	if _, err := e.rollup.AccrueMarket(market, model.Hourly, ev.BlockNumber, ev.Timestamp); err != nil {
		return err
	}
	if _, err := e.rollup.AccrueMarket(market, model.Daily, ev.BlockNumber, ev.Timestamp); err != nil {
		return err
	}
	if _, err := e.rollup.AccrueProtocol(protocol, model.Daily, ev.BlockNumber, ev.Timestamp); err != nil {
		return err
	}
	if _, err := e.rollup.AccrueUsage(protocol, model.Hourly, ev.Kind, ev.Account, ev.TxHash, ev.BlockNumber, ev.Timestamp); err != nil {
		return err
	}
	_, err := e.rollup.AccrueUsage(protocol, model.Daily, ev.Kind, ev.Account, ev.TxHash, ev.BlockNumber, ev.Timestamp)
	return err
}

func (e *Engine) price(ev model.LendingEvent) decimal.Decimal {
	price, ok := e.pricer.PriceOf(ev.Token, ev.BlockNumber)
	if !ok {
		e.logger.Warn("missing token price, substituting zero",
			zap.String("token", ev.Token),
			zap.Uint64("block_number", ev.BlockNumber),
		)
		return decimal.Zero
	}
	return price
}

// updateRates refreshes the live interest-rate records the event carries.
func (e *Engine) updateRates(ev model.LendingEvent, market *model.Market) error {
	if ev.SupplyRate != "" {
		if err := e.saveRate(market, model.SideLender, ev.SupplyRate); err != nil {
			return err
		}
	}
	if ev.BorrowRate != "" {
		if err := e.saveRate(market, model.SideBorrower, ev.BorrowRate); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) saveRate(market *model.Market, side model.Side, raw string) error {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrapf(err, "parse %s rate", side)
	}
	id := model.RateID(side, model.RateVariable, market.ID)
	if err := e.store.SaveInterestRate(&model.InterestRate{
		ID:     id,
		Rate:   rate,
		Side:   side,
		Kind:   model.RateVariable,
		Market: market.ID,
	}); err != nil {
		return errors.Wrap(err, "save interest rate")
	}
	for _, existing := range market.RateIDs {
		if existing == id {
			return nil
		}
	}
	market.RateIDs = append(market.RateIDs, id)
	return nil
}

// adjustDepositBalances moves the supplied-side running balances; totals
// never go below zero.
func (e *Engine) adjustDepositBalances(market *model.Market, protocol *model.Protocol, deltaUSD decimal.Decimal) {
	market.TotalDepositBalanceUSD = clampZero(market.TotalDepositBalanceUSD.Add(deltaUSD))
	protocol.TotalDepositBalanceUSD = clampZero(protocol.TotalDepositBalanceUSD.Add(deltaUSD))
	market.TotalValueLockedUSD = market.TotalDepositBalanceUSD
	protocol.TotalValueLockedUSD = protocol.TotalDepositBalanceUSD
}

func (e *Engine) adjustBorrowBalances(market *model.Market, protocol *model.Protocol, deltaUSD decimal.Decimal) {
	market.TotalBorrowBalanceUSD = clampZero(market.TotalBorrowBalanceUSD.Add(deltaUSD))
	protocol.TotalBorrowBalanceUSD = clampZero(protocol.TotalBorrowBalanceUSD.Add(deltaUSD))
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func (e *Engine) saveAggregates(account *model.Account, market *model.Market, protocol *model.Protocol) error {
	if err := e.store.SaveAccount(account); err != nil {
		return errors.Wrap(err, "save account")
	}
	if err := e.store.SaveMarket(market); err != nil {
		return errors.Wrap(err, "save market")
	}
	return errors.Wrap(e.store.SaveProtocol(protocol), "save protocol")
}

func (e *Engine) getOrCreateProtocol() (*model.Protocol, error) {
	protocol, ok, err := e.store.Protocol(e.cfg.ProtocolID)
	if err != nil {
		return nil, errors.Wrap(err, "load protocol")
	}
	if !ok {
		protocol = model.NewProtocol(e.cfg.ProtocolID)
		if err := e.store.SaveProtocol(protocol); err != nil {
			return nil, errors.Wrap(err, "save protocol")
		}
	}
	return protocol, nil
}

func (e *Engine) getOrCreateAccount(id string, protocol *model.Protocol) (*model.Account, error) {
	account, ok, err := e.store.Account(id)
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	if !ok {
		account = model.NewAccount(id)
		protocol.CumulativeUniqueUsers++
		if err := e.store.SaveAccount(account); err != nil {
			return nil, errors.Wrap(err, "save account")
		}
	}
	return account, nil
}

func (e *Engine) getOrCreateMarket(ev model.LendingEvent) (*model.Market, error) {
	market, ok, err := e.store.Market(ev.Market)
	if err != nil {
		return nil, errors.Wrap(err, "load market")
	}
	if !ok {
		market = model.NewMarket(ev.Market, ev.Token, ev.TokenDecimals, ev.BlockNumber, ev.Timestamp)
		if err := e.store.SaveMarket(market); err != nil {
			return nil, errors.Wrap(err, "save market")
		}
	}
	return market, nil
}
