package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lendscope/internal/config"
	"lendscope/internal/engine"
	"lendscope/internal/pricing"
	"lendscope/internal/rollup"
	"lendscope/internal/store"
	"lendscope/internal/store/postgres"
)

func runApply(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadApply(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if cfg.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}

	split, err := splitFromConfig(cfg)
	if err != nil {
		return err
	}

	prices, err := pricesFromConfig(cfg.Prices)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgStore.Close()

	var stateStore engine.StateStore
	if cfg.StateFile != "" {
		stateStore = &engine.FileStateStore{Path: cfg.StateFile, Protocol: cfg.Protocol}
	} else {
		stateStore = &engine.DBStateStore{Store: pgStore, Name: fmt.Sprintf("engine:%s", cfg.Protocol)}
	}

	mem := store.NewMemory()
	eng := engine.New(engine.Config{
		ProtocolID:    cfg.Protocol,
		Split:         split,
		MaxScanOffset: cfg.ScanOffset,
	}, mem, pricing.NewStaticPricer(prices), logger)

	logger.Info("apply start",
		zap.String("in", cfg.In),
		zap.String("raw_logs", cfg.RawLogs),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("protocol", cfg.Protocol),
		zap.String("liquidation_revenue", cfg.LiquidationRevenue),
		zap.Int("prices", len(prices)),
		zap.Int("save_every", cfg.SaveEvery),
	)

	if err := eng.Run(ctx, engine.RunConfig{
		EventsPath:  cfg.In,
		RawLogsPath: cfg.RawLogs,
		StateStore:  stateStore,
		SaveEvery:   cfg.SaveEvery,
	}); err != nil {
		return err
	}

	return flush(ctx, pgStore, mem, logger)
}

func flush(ctx context.Context, pgStore *postgres.Store, mem *store.Memory, logger *zap.Logger) error {
	if err := pgStore.UpsertProtocols(ctx, mem.Protocols()); err != nil {
		return fmt.Errorf("upsert protocols: %w", err)
	}
	if err := pgStore.UpsertAccounts(ctx, mem.Accounts()); err != nil {
		return fmt.Errorf("upsert accounts: %w", err)
	}
	if err := pgStore.UpsertMarkets(ctx, mem.Markets()); err != nil {
		return fmt.Errorf("upsert markets: %w", err)
	}
	if err := pgStore.UpsertPositions(ctx, mem.Positions()); err != nil {
		return fmt.Errorf("upsert positions: %w", err)
	}
	if err := pgStore.UpsertPositionSnapshots(ctx, mem.PositionSnapshots()); err != nil {
		return fmt.Errorf("upsert position snapshots: %w", err)
	}
	if err := pgStore.UpsertInterestRates(ctx, mem.InterestRates()); err != nil {
		return fmt.Errorf("upsert interest rates: %w", err)
	}
	if err := pgStore.UpsertMarketSnapshots(ctx, mem.MarketSnapshots()); err != nil {
		return fmt.Errorf("upsert market snapshots: %w", err)
	}
	if err := pgStore.UpsertProtocolSnapshots(ctx, mem.ProtocolSnapshots()); err != nil {
		return fmt.Errorf("upsert protocol snapshots: %w", err)
	}
	if err := pgStore.UpsertUsageSnapshots(ctx, mem.UsageSnapshots()); err != nil {
		return fmt.Errorf("upsert usage snapshots: %w", err)
	}

	logger.Info("flush complete",
		zap.Int("accounts", len(mem.Accounts())),
		zap.Int("markets", len(mem.Markets())),
		zap.Int("positions", len(mem.Positions())),
		zap.Int("position_snapshots", len(mem.PositionSnapshots())),
		zap.Int("market_snapshots", len(mem.MarketSnapshots())),
		zap.Int("protocol_snapshots", len(mem.ProtocolSnapshots())),
		zap.Int("usage_snapshots", len(mem.UsageSnapshots())),
	)
	return nil
}

func splitFromConfig(cfg config.ApplyConfig) (rollup.SplitConfig, error) {
	var subtract bool
	switch cfg.LiquidationRevenue {
	case "subtract":
		subtract = true
	case "additive":
		subtract = false
	default:
		return rollup.SplitConfig{}, fmt.Errorf("invalid liquidation-revenue: %s", cfg.LiquidationRevenue)
	}

	supply := decimal.NewFromFloat(cfg.SupplyShare)
	protocol := decimal.NewFromFloat(cfg.ProtocolShare)
	stake := decimal.NewFromFloat(cfg.StakeShare)
	if supply.IsNegative() || protocol.IsNegative() || stake.IsNegative() {
		return rollup.SplitConfig{}, fmt.Errorf("revenue shares must be non-negative")
	}
	if !supply.Add(protocol).Add(stake).Equal(decimal.NewFromInt(1)) {
		return rollup.SplitConfig{}, fmt.Errorf("revenue shares must sum to one")
	}

	return rollup.SplitConfig{
		SupplyShare:         supply,
		ProtocolShare:       protocol,
		StakeShare:          stake,
		SubtractLiquidation: subtract,
	}, nil
}

func pricesFromConfig(raw map[string]string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(raw))
	for token, value := range raw {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", token, err)
		}
		prices[token] = price
	}
	return prices, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
