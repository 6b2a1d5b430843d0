package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"lendscope/internal/model"
)

// RunConfig holds runtime settings for one apply run.
type RunConfig struct {
	// EventsPath is the typed-event JSONL input, ordered by
	// (block, txIndex, logIndex).
	EventsPath string
	// RawLogsPath optionally points at the raw log JSONL of the same range;
	// when set, full transaction receipts become available for fallback
	// sibling correlation.
	RawLogsPath string
	StateStore  StateStore
	// SaveEvery persists the high-water mark after this many applied events.
	SaveEvery int
}

// Run streams the typed-event file through the engine. Every run replays
// the full file into a fresh store; the resulting entity state is flushed
// with upserts, so replaying already-persisted events is idempotent.
// Skipping a prefix would restart slot allocators and cumulative counters
// from the tail alone, so the stored timestamp is only a high-water mark:
// an input that ends before it is rejected as incomplete. Out-of-order
// input is fatal because the accounting contract requires strict emission
// order.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) error {
	if cfg.EventsPath == "" {
		return fmt.Errorf("events path is required")
	}
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = 1000
	}

	startTs, err := e.loadStartTimestamp(ctx, cfg.StateStore)
	if err != nil {
		return err
	}

	receipts, err := loadReceipts(cfg.RawLogsPath)
	if err != nil {
		return err
	}

	file, err := os.Open(cfg.EventsPath)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var applied int
	var maxTs uint64
	var lastOrder eventOrder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev model.LendingEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}

		order := eventOrder{Block: ev.BlockNumber, TxIndex: ev.TxIndex, LogIndex: ev.LogIndex}
		if order.before(lastOrder) {
			return fmt.Errorf("out-of-order event at %s:%d (block %d)", ev.TxHash, ev.LogIndex, ev.BlockNumber)
		}
		lastOrder = order

		if err := e.Apply(ev, receipts[strings.ToLower(ev.TxHash)]); err != nil {
			return fmt.Errorf("apply event %s:%d: %w", ev.TxHash, ev.LogIndex, err)
		}
		applied++
		if ev.Timestamp > maxTs {
			maxTs = ev.Timestamp
		}

		if cfg.StateStore != nil && applied%cfg.SaveEvery == 0 {
			if err := cfg.StateStore.Save(ctx, maxTs); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events: %w", err)
	}

	if maxTs < startTs {
		return fmt.Errorf("events file ends at timestamp %d, before stored high-water mark %d", maxTs, startTs)
	}

	if cfg.StateStore != nil && maxTs > 0 {
		if err := cfg.StateStore.Save(ctx, maxTs); err != nil {
			return err
		}
	}

	e.logger.Info("apply complete",
		zap.Int("applied", applied),
		zap.Int("pending_unconsumed", e.pending.Len()),
	)
	return nil
}

func (e *Engine) loadStartTimestamp(ctx context.Context, state StateStore) (uint64, error) {
	if state == nil {
		return 0, nil
	}
	last, ok, err := state.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

type eventOrder struct {
	Block    uint64
	TxIndex  uint64
	LogIndex uint64
}

func (o eventOrder) before(other eventOrder) bool {
	if o.Block != other.Block {
		return o.Block < other.Block
	}
	if o.TxIndex != other.TxIndex {
		return o.TxIndex < other.TxIndex
	}
	return o.LogIndex < other.LogIndex
}

// loadReceipts indexes a raw log JSONL file by transaction hash, each
// receipt's logs ordered by log index.
func loadReceipts(path string) (map[string][]model.LogRecord, error) {
	receipts := make(map[string][]model.LogRecord)
	if path == "" {
		return receipts, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw logs: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec model.LogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode raw log: %w", err)
		}
		key := strings.ToLower(rec.TxHash)
		receipts[key] = append(receipts[key], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan raw logs: %w", err)
	}

	for _, logs := range receipts {
		sort.Slice(logs, func(i, j int) bool { return logs[i].LogIndex < logs[j].LogIndex })
	}
	return receipts, nil
}
