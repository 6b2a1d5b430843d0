package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendscope/internal/model"
)

func writeEvents(t *testing.T, events []model.LendingEvent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return path
}

func orderedEvent(block, txIndex, logIndex, ts uint64) model.LendingEvent {
	ev := event(model.EventDeposit, "0xa", "100", "100", logIndex)
	ev.BlockNumber = block
	ev.TxIndex = txIndex
	ev.Timestamp = ts
	return ev
}

func TestRunAppliesInOrder(t *testing.T) {
	eng, mem := newTestEngine()

	path := writeEvents(t, []model.LendingEvent{
		orderedEvent(100, 0, 1, 1000),
		orderedEvent(100, 1, 0, 1010),
		orderedEvent(101, 0, 3, 1020),
	})

	statePath := filepath.Join(t.TempDir(), "state.json")
	state := &FileStateStore{Path: statePath}
	require.NoError(t, eng.Run(context.Background(), RunConfig{
		EventsPath: path,
		StateStore: state,
	}))

	market, _, err := mem.Market(testMarket)
	require.NoError(t, err)
	assert.True(t, market.Cumulative.DepositUSD.Equal(decimal.NewFromInt(300)))

	last, ok, err := state.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1020), last)
}

func TestRunRejectsOutOfOrderInput(t *testing.T) {
	eng, _ := newTestEngine()

	path := writeEvents(t, []model.LendingEvent{
		orderedEvent(101, 0, 1, 1000),
		orderedEvent(100, 0, 2, 1010),
	})

	err := eng.Run(context.Background(), RunConfig{EventsPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out-of-order")
}

func lifecycleEvent(kind model.EventKind, amount, postBalance string, block, logIndex, ts uint64) model.LendingEvent {
	ev := event(kind, "0xa", amount, postBalance, logIndex)
	ev.BlockNumber = block
	ev.Timestamp = ts
	return ev
}

// TestRunReplaysFullFileAfterRestart drives two sequential runs over a
// growing event file, the way a cron-driven apply would. Each run uses a
// fresh in-memory store, so position identity and cumulative counters are
// only correct if the second run replays from the start instead of resuming
// past the stored high-water mark.
func TestRunReplaysFullFileAfterRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	state := &FileStateStore{Path: statePath}

	history := []model.LendingEvent{
		lifecycleEvent(model.EventDeposit, "100", "100", 100, 1, 1000),
		lifecycleEvent(model.EventWithdraw, "100", "0", 101, 2, 1010),
	}

	eng, _ := newTestEngine()
	require.NoError(t, eng.Run(context.Background(), RunConfig{
		EventsPath: writeEvents(t, history),
		StateStore: state,
	}))

	// restart: new engine, new store, same state file, file grown by one event
	history = append(history, lifecycleEvent(model.EventDeposit, "50", "50", 102, 3, 1020))
	eng, mem := newTestEngine()
	require.NoError(t, eng.Run(context.Background(), RunConfig{
		EventsPath: writeEvents(t, history),
		StateStore: state,
	}))

	first, ok, err := mem.Position(model.PositionID("0xa", testMarket, model.SideLender, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, first.Open())

	second, ok, err := mem.Position(model.PositionID("0xa", testMarket, model.SideLender, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, second.Open())
	assert.Equal(t, "50", second.Balance.String())

	account, _, err := mem.Account("0xa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.ClosedPositionCount)
	assert.Equal(t, int64(1), account.OpenPositionCount)

	market, _, err := mem.Market(testMarket)
	require.NoError(t, err)
	assert.True(t, market.Cumulative.DepositUSD.Equal(decimal.NewFromInt(150)))

	last, ok, err := state.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1020), last)
}

func TestRunRejectsInputBehindHighWaterMark(t *testing.T) {
	eng, _ := newTestEngine()

	statePath := filepath.Join(t.TempDir(), "state.json")
	state := &FileStateStore{Path: statePath}
	require.NoError(t, state.Save(context.Background(), 2000))

	path := writeEvents(t, []model.LendingEvent{
		orderedEvent(100, 0, 1, 1000),
	})

	err := eng.Run(context.Background(), RunConfig{
		EventsPath: path,
		StateStore: state,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high-water mark")
}

func TestRunRequiresEventsPath(t *testing.T) {
	eng, _ := newTestEngine()
	assert.Error(t, eng.Run(context.Background(), RunConfig{}))
}
