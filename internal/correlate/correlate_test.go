package correlate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendscope/internal/model"
)

func TestTakeIsReadOnce(t *testing.T) {
	cache := NewCache()
	cache.Stash(Pending{TxHash: "0xAB", LogIndex: 7, From: "0xfrom", To: "0xto", Amount: big.NewInt(40)})

	got, ok := cache.Take("0xab", 7)
	require.True(t, ok)
	assert.Equal(t, "0xfrom", got.From)
	assert.Equal(t, "40", got.Amount.String())

	_, ok = cache.Take("0xab", 7)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTakeMissingKey(t *testing.T) {
	cache := NewCache()
	cache.Stash(Pending{TxHash: "0xab", LogIndex: 7})

	_, ok := cache.Take("0xab", 8)
	assert.False(t, ok)
	_, ok = cache.Take("0xcd", 7)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func receipt(indexes []uint64, topics map[uint64]string) []model.LogRecord {
	logs := make([]model.LogRecord, 0, len(indexes))
	for _, idx := range indexes {
		log := model.LogRecord{LogIndex: idx}
		if topic, ok := topics[idx]; ok {
			log.Topics = []string{topic}
		}
		logs = append(logs, log)
	}
	return logs
}

func TestScanSiblingFindsFirstMatchInWindow(t *testing.T) {
	logs := receipt([]uint64{3, 4, 5, 6, 7}, map[uint64]string{
		4: "0xother",
		6: "0xrepay",
		7: "0xrepay",
	})

	found, ok := ScanSibling(logs, 3, 10, func(topic0 string) bool { return topic0 == "0xrepay" })
	require.True(t, ok)
	assert.Equal(t, uint64(6), found.LogIndex)
}

func TestScanSiblingRespectsWindow(t *testing.T) {
	logs := receipt([]uint64{3, 4, 5, 6, 7}, map[uint64]string{7: "0xrepay"})

	_, ok := ScanSibling(logs, 3, 3, func(topic0 string) bool { return topic0 == "0xrepay" })
	assert.False(t, ok)

	found, ok := ScanSibling(logs, 3, 4, func(topic0 string) bool { return topic0 == "0xrepay" })
	require.True(t, ok)
	assert.Equal(t, uint64(7), found.LogIndex)
}

func TestScanSiblingMissingAnchor(t *testing.T) {
	logs := receipt([]uint64{3, 4}, map[uint64]string{4: "0xrepay"})

	_, ok := ScanSibling(logs, 99, 10, func(topic0 string) bool { return true })
	assert.False(t, ok)
}

func TestScanSiblingSkipsTopiclessLogs(t *testing.T) {
	logs := receipt([]uint64{1, 2, 3}, map[uint64]string{3: "0xrepay"})

	found, ok := ScanSibling(logs, 1, 5, func(topic0 string) bool { return topic0 == "0xrepay" })
	require.True(t, ok)
	assert.Equal(t, uint64(3), found.LogIndex)
}
