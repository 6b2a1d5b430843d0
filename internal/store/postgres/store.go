// Package postgres persists materialized entities for the query layer.
// Writes are idempotent upserts, so reprocessing a range is safe for every
// non-cumulative field.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendscope/internal/model"
)

// Store provides Postgres persistence for the accounting entities.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertAccounts inserts or updates account records.
func (s *Store) UpsertAccounts(ctx context.Context, accounts []*model.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range accounts {
		slots, err := json.Marshal(a.SlotCounters)
		if err != nil {
			return fmt.Errorf("marshal slot counters: %w", err)
		}
		batch.Queue(`
			INSERT INTO accounts (
				id, position_count, open_position_count, closed_position_count,
				deposit_count, withdraw_count, borrow_count, repay_count,
				liquidate_count, liquidation_count,
				is_depositor, is_borrower, is_liquidator, is_liquidatee,
				slot_counters, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				position_count = EXCLUDED.position_count,
				open_position_count = EXCLUDED.open_position_count,
				closed_position_count = EXCLUDED.closed_position_count,
				deposit_count = EXCLUDED.deposit_count,
				withdraw_count = EXCLUDED.withdraw_count,
				borrow_count = EXCLUDED.borrow_count,
				repay_count = EXCLUDED.repay_count,
				liquidate_count = EXCLUDED.liquidate_count,
				liquidation_count = EXCLUDED.liquidation_count,
				is_depositor = EXCLUDED.is_depositor,
				is_borrower = EXCLUDED.is_borrower,
				is_liquidator = EXCLUDED.is_liquidator,
				is_liquidatee = EXCLUDED.is_liquidatee,
				slot_counters = EXCLUDED.slot_counters,
				updated_at = now()
		`,
			a.ID, a.PositionCount, a.OpenPositionCount, a.ClosedPositionCount,
			a.DepositCount, a.WithdrawCount, a.BorrowCount, a.RepayCount,
			a.LiquidateCount, a.LiquidationCount,
			a.Depositor, a.Borrower, a.Liquidator, a.Liquidatee,
			slots,
		)
	}
	return s.sendBatch(ctx, batch, len(accounts))
}

// UpsertMarkets inserts or updates market records.
func (s *Store) UpsertMarkets(ctx context.Context, markets []*model.Market) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(`
			INSERT INTO markets (
				id, input_token, input_token_decimals, created_block, created_ts,
				maximum_ltv, liquidation_threshold, liquidation_penalty,
				total_deposit_balance_usd, total_borrow_balance_usd, total_value_locked_usd,
				cumulative_deposit_usd, cumulative_withdraw_usd, cumulative_borrow_usd,
				cumulative_repay_usd, cumulative_liquidate_usd,
				cumulative_supply_side_revenue_usd, cumulative_protocol_side_revenue_usd,
				cumulative_stake_side_revenue_usd, cumulative_total_revenue_usd,
				position_count, open_position_count, closed_position_count,
				rate_ids, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				total_deposit_balance_usd = EXCLUDED.total_deposit_balance_usd,
				total_borrow_balance_usd = EXCLUDED.total_borrow_balance_usd,
				total_value_locked_usd = EXCLUDED.total_value_locked_usd,
				cumulative_deposit_usd = EXCLUDED.cumulative_deposit_usd,
				cumulative_withdraw_usd = EXCLUDED.cumulative_withdraw_usd,
				cumulative_borrow_usd = EXCLUDED.cumulative_borrow_usd,
				cumulative_repay_usd = EXCLUDED.cumulative_repay_usd,
				cumulative_liquidate_usd = EXCLUDED.cumulative_liquidate_usd,
				cumulative_supply_side_revenue_usd = EXCLUDED.cumulative_supply_side_revenue_usd,
				cumulative_protocol_side_revenue_usd = EXCLUDED.cumulative_protocol_side_revenue_usd,
				cumulative_stake_side_revenue_usd = EXCLUDED.cumulative_stake_side_revenue_usd,
				cumulative_total_revenue_usd = EXCLUDED.cumulative_total_revenue_usd,
				position_count = EXCLUDED.position_count,
				open_position_count = EXCLUDED.open_position_count,
				closed_position_count = EXCLUDED.closed_position_count,
				rate_ids = EXCLUDED.rate_ids,
				updated_at = now()
		`,
			m.ID, m.InputToken, int16(m.InputTokenDecimals), int64(m.CreatedBlock), int64(m.CreatedTimestamp),
			m.MaximumLTV.String(), m.LiquidationThreshold.String(), m.LiquidationPenalty.String(),
			m.TotalDepositBalanceUSD.String(), m.TotalBorrowBalanceUSD.String(), m.TotalValueLockedUSD.String(),
			m.Cumulative.DepositUSD.String(), m.Cumulative.WithdrawUSD.String(), m.Cumulative.BorrowUSD.String(),
			m.Cumulative.RepayUSD.String(), m.Cumulative.LiquidateUSD.String(),
			m.Cumulative.SupplySideRevenueUSD.String(), m.Cumulative.ProtocolSideRevenueUSD.String(),
			m.Cumulative.StakeSideRevenueUSD.String(), m.Cumulative.TotalRevenueUSD.String(),
			m.PositionCount, m.OpenPositionCount, m.ClosedPositionCount,
			m.RateIDs,
		)
	}
	return s.sendBatch(ctx, batch, len(markets))
}

// UpsertProtocols inserts or updates protocol aggregates.
func (s *Store) UpsertProtocols(ctx context.Context, protocols []*model.Protocol) error {
	if len(protocols) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range protocols {
		batch.Queue(`
			INSERT INTO protocols (
				id, cumulative_unique_users, cumulative_unique_depositors,
				cumulative_unique_borrowers, cumulative_unique_liquidators,
				cumulative_unique_liquidatees,
				total_deposit_balance_usd, total_borrow_balance_usd, total_value_locked_usd,
				cumulative_deposit_usd, cumulative_withdraw_usd, cumulative_borrow_usd,
				cumulative_repay_usd, cumulative_liquidate_usd,
				cumulative_supply_side_revenue_usd, cumulative_protocol_side_revenue_usd,
				cumulative_stake_side_revenue_usd, cumulative_total_revenue_usd,
				position_count, open_position_count, closed_position_count,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				cumulative_unique_users = EXCLUDED.cumulative_unique_users,
				cumulative_unique_depositors = EXCLUDED.cumulative_unique_depositors,
				cumulative_unique_borrowers = EXCLUDED.cumulative_unique_borrowers,
				cumulative_unique_liquidators = EXCLUDED.cumulative_unique_liquidators,
				cumulative_unique_liquidatees = EXCLUDED.cumulative_unique_liquidatees,
				total_deposit_balance_usd = EXCLUDED.total_deposit_balance_usd,
				total_borrow_balance_usd = EXCLUDED.total_borrow_balance_usd,
				total_value_locked_usd = EXCLUDED.total_value_locked_usd,
				cumulative_deposit_usd = EXCLUDED.cumulative_deposit_usd,
				cumulative_withdraw_usd = EXCLUDED.cumulative_withdraw_usd,
				cumulative_borrow_usd = EXCLUDED.cumulative_borrow_usd,
				cumulative_repay_usd = EXCLUDED.cumulative_repay_usd,
				cumulative_liquidate_usd = EXCLUDED.cumulative_liquidate_usd,
				cumulative_supply_side_revenue_usd = EXCLUDED.cumulative_supply_side_revenue_usd,
				cumulative_protocol_side_revenue_usd = EXCLUDED.cumulative_protocol_side_revenue_usd,
				cumulative_stake_side_revenue_usd = EXCLUDED.cumulative_stake_side_revenue_usd,
				cumulative_total_revenue_usd = EXCLUDED.cumulative_total_revenue_usd,
				position_count = EXCLUDED.position_count,
				open_position_count = EXCLUDED.open_position_count,
				closed_position_count = EXCLUDED.closed_position_count,
				updated_at = now()
		`,
			p.ID, p.CumulativeUniqueUsers, p.CumulativeUniqueDepositors,
			p.CumulativeUniqueBorrowers, p.CumulativeUniqueLiquidators,
			p.CumulativeUniqueLiquidatees,
			p.TotalDepositBalanceUSD.String(), p.TotalBorrowBalanceUSD.String(), p.TotalValueLockedUSD.String(),
			p.Cumulative.DepositUSD.String(), p.Cumulative.WithdrawUSD.String(), p.Cumulative.BorrowUSD.String(),
			p.Cumulative.RepayUSD.String(), p.Cumulative.LiquidateUSD.String(),
			p.Cumulative.SupplySideRevenueUSD.String(), p.Cumulative.ProtocolSideRevenueUSD.String(),
			p.Cumulative.StakeSideRevenueUSD.String(), p.Cumulative.TotalRevenueUSD.String(),
			p.PositionCount, p.OpenPositionCount, p.ClosedPositionCount,
		)
	}
	return s.sendBatch(ctx, batch, len(protocols))
}

// UpsertPositions inserts or updates positions.
func (s *Store) UpsertPositions(ctx context.Context, positions []*model.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO positions (
				id, account, market, side, slot,
				balance, balance_usd,
				hash_opened, hash_closed, block_opened, block_closed,
				ts_opened, ts_closed,
				deposit_count, withdraw_count, borrow_count, repay_count, liquidation_count,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				balance = EXCLUDED.balance,
				balance_usd = EXCLUDED.balance_usd,
				hash_closed = EXCLUDED.hash_closed,
				block_closed = EXCLUDED.block_closed,
				ts_closed = EXCLUDED.ts_closed,
				deposit_count = EXCLUDED.deposit_count,
				withdraw_count = EXCLUDED.withdraw_count,
				borrow_count = EXCLUDED.borrow_count,
				repay_count = EXCLUDED.repay_count,
				liquidation_count = EXCLUDED.liquidation_count,
				updated_at = now()
		`,
			p.ID, p.Account, p.Market, p.Side.String(), p.Slot,
			p.Balance.String(), p.BalanceUSD.String(),
			p.HashOpened, p.HashClosed, int64(p.BlockOpened), int64(p.BlockClosed),
			int64(p.TimestampOpened), int64(p.TimestampClosed),
			p.DepositCount, p.WithdrawCount, p.BorrowCount, p.RepayCount, p.LiquidationCount,
		)
	}
	return s.sendBatch(ctx, batch, len(positions))
}

// UpsertPositionSnapshots inserts position snapshots; existing rows are
// immutable and left untouched.
func (s *Store) UpsertPositionSnapshots(ctx context.Context, snaps []*model.PositionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO position_snapshots (
				id, position, tx_hash, log_index,
				balance, balance_usd, block_number, ts, rate_ids, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (id) DO NOTHING
		`,
			snap.ID, snap.Position, snap.TxHash, int64(snap.LogIndex),
			snap.Balance.String(), snap.BalanceUSD.String(),
			int64(snap.BlockNumber), int64(snap.Timestamp), snap.RateIDs,
		)
	}
	return s.sendBatch(ctx, batch, len(snaps))
}

// UpsertInterestRates inserts or updates rate records, live and frozen.
func (s *Store) UpsertInterestRates(ctx context.Context, rates []*model.InterestRate) error {
	if len(rates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rates {
		batch.Queue(`
			INSERT INTO interest_rates (id, rate, side, kind, market, updated_at)
			VALUES ($1,$2,$3,$4,$5,now())
			ON CONFLICT (id)
			DO UPDATE SET rate = EXCLUDED.rate, updated_at = now()
		`,
			r.ID, r.Rate.String(), r.Side.String(), r.Kind.String(), r.Market,
		)
	}
	return s.sendBatch(ctx, batch, len(rates))
}

// UpsertMarketSnapshots inserts or updates periodic market snapshots.
func (s *Store) UpsertMarketSnapshots(ctx context.Context, snaps []*model.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO market_snapshots (
				id, market, granularity, period, baseline_period, block_number, ts,
				total_deposit_balance_usd, total_borrow_balance_usd, total_value_locked_usd,
				cumulative, delta, rate_ids, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				ts = EXCLUDED.ts,
				total_deposit_balance_usd = EXCLUDED.total_deposit_balance_usd,
				total_borrow_balance_usd = EXCLUDED.total_borrow_balance_usd,
				total_value_locked_usd = EXCLUDED.total_value_locked_usd,
				cumulative = EXCLUDED.cumulative,
				delta = EXCLUDED.delta,
				updated_at = now()
		`,
			snap.ID, snap.Market, snap.Granularity.String(), snap.Period, snap.BaselinePeriod,
			int64(snap.BlockNumber), int64(snap.Timestamp),
			snap.TotalDepositBalanceUSD.String(), snap.TotalBorrowBalanceUSD.String(), snap.TotalValueLockedUSD.String(),
			cumulativesJSON(snap.Cumulative), cumulativesJSON(snap.Delta), snap.RateIDs,
		)
	}
	return s.sendBatch(ctx, batch, len(snaps))
}

// UpsertProtocolSnapshots inserts or updates protocol financial snapshots.
func (s *Store) UpsertProtocolSnapshots(ctx context.Context, snaps []*model.ProtocolSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO protocol_snapshots (
				id, protocol, granularity, period, baseline_period, block_number, ts,
				total_deposit_balance_usd, total_borrow_balance_usd, total_value_locked_usd,
				cumulative, delta, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				ts = EXCLUDED.ts,
				total_deposit_balance_usd = EXCLUDED.total_deposit_balance_usd,
				total_borrow_balance_usd = EXCLUDED.total_borrow_balance_usd,
				total_value_locked_usd = EXCLUDED.total_value_locked_usd,
				cumulative = EXCLUDED.cumulative,
				delta = EXCLUDED.delta,
				updated_at = now()
		`,
			snap.ID, snap.Protocol, snap.Granularity.String(), snap.Period, snap.BaselinePeriod,
			int64(snap.BlockNumber), int64(snap.Timestamp),
			snap.TotalDepositBalanceUSD.String(), snap.TotalBorrowBalanceUSD.String(), snap.TotalValueLockedUSD.String(),
			cumulativesJSON(snap.Cumulative), cumulativesJSON(snap.Delta),
		)
	}
	return s.sendBatch(ctx, batch, len(snaps))
}

// UpsertUsageSnapshots inserts or updates usage snapshots.
func (s *Store) UpsertUsageSnapshots(ctx context.Context, snaps []*model.UsageSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO usage_snapshots (
				id, protocol, granularity, period, block_number, ts,
				active_users, cumulative_unique_users, transaction_count,
				deposit_count, withdraw_count, borrow_count, repay_count, liquidate_count,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				ts = EXCLUDED.ts,
				active_users = EXCLUDED.active_users,
				cumulative_unique_users = EXCLUDED.cumulative_unique_users,
				transaction_count = EXCLUDED.transaction_count,
				deposit_count = EXCLUDED.deposit_count,
				withdraw_count = EXCLUDED.withdraw_count,
				borrow_count = EXCLUDED.borrow_count,
				repay_count = EXCLUDED.repay_count,
				liquidate_count = EXCLUDED.liquidate_count,
				updated_at = now()
		`,
			snap.ID, snap.Protocol, snap.Granularity.String(), snap.Period,
			int64(snap.BlockNumber), int64(snap.Timestamp),
			snap.ActiveUsers, snap.CumulativeUniqueUsers, snap.TransactionCount,
			snap.DepositCount, snap.WithdrawCount, snap.BorrowCount, snap.RepayCount, snap.LiquidateCount,
		)
	}
	return s.sendBatch(ctx, batch, len(snaps))
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM engine_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name)
		DO UPDATE SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func cumulativesJSON(c model.Cumulatives) []byte {
	payload := map[string]string{
		"deposit_usd":               c.DepositUSD.String(),
		"withdraw_usd":              c.WithdrawUSD.String(),
		"borrow_usd":                c.BorrowUSD.String(),
		"repay_usd":                 c.RepayUSD.String(),
		"liquidate_usd":             c.LiquidateUSD.String(),
		"supply_side_revenue_usd":   c.SupplySideRevenueUSD.String(),
		"protocol_side_revenue_usd": c.ProtocolSideRevenueUSD.String(),
		"stake_side_revenue_usd":    c.StakeSideRevenueUSD.String(),
		"total_revenue_usd":         c.TotalRevenueUSD.String(),
	}
	data, _ := json.Marshal(payload)
	return data
}
