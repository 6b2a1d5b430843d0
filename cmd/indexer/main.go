package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lendscope/internal/chain"
	"lendscope/internal/config"
	"lendscope/internal/decode"
	"lendscope/internal/ingest"
	"lendscope/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "lendscope",
		Short:        "Lending protocol event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch raw pool logs into a JSONL file",
		RunE:  runIngest,
	}

	runCmd.Flags().String("rpc", "", "EVM RPC URL")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().StringSlice("address", nil, "pool and token contract addresses (comma-separated)")
	runCmd.Flags().StringSlice("topic0", nil, "topic0 signatures (comma-separated), empty means lending defaults")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	runCmd.Flags().String("out", "./data/raw_logs.jsonl", "output JSONL path")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed lending events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "EVM RPC URL")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("reserves", "", "reserve position tokens (comma-separated reserve=atoken:vdebttoken)")
	decodeCmd.Flags().Bool("with-balances", true, "read post-event balances on chain (requires archive RPC for historical accuracy)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply typed events to positions, markets and snapshots",
		RunE:  runApply,
	}

	applyCmd.Flags().String("in", "", "input typed events JSONL")
	applyCmd.Flags().String("raw-logs", "", "optional raw logs JSONL for receipt correlation")
	applyCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	applyCmd.Flags().String("protocol", "aave-v3", "protocol identifier")
	applyCmd.Flags().Float64("supply-share", 0.9, "supply side share of interest revenue")
	applyCmd.Flags().Float64("protocol-share", 0.1, "protocol side share of interest revenue")
	applyCmd.Flags().Float64("stake-share", 0.0, "stake side share of interest revenue")
	applyCmd.Flags().String("liquidation-revenue", "subtract", "liquidation revenue attribution (subtract or additive)")
	applyCmd.Flags().String("prices", "", "fixed token prices (comma-separated address=usd)")
	applyCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	applyCmd.Flags().Int("save-every", 1000, "events between resume-state saves")
	applyCmd.Flags().Int("scan-offset", 10, "receipt scan window for sibling correlation")
	applyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(applyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	addresses, err := ingest.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	topic0, err := ingest.ParseTopic0(cfg.Topic0)
	if err != nil {
		return err
	}
	if len(topic0) == 0 {
		topic0 = decode.DefaultTopics()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	storageSink := storage.NewJsonlStorage(cfg.Out)
	defer storageSink.Close()

	runner := ingest.NewRunner(ingest.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		Addresses:         addresses,
		Topic0:            topic0,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, storageSink, logger)

	logger.Info("ingest start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("addresses", len(addresses)),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	return storageSink.Close()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
