package model

import (
	"encoding/json"
	"testing"
)

func TestLogRecordFieldNames(t *testing.T) {
	record := LogRecord{
		ChainID:     1,
		BlockNumber: 19000000,
		TxHash:      "0xdef456",
		TxIndex:     7,
		LogIndex:    12,
		Address:     "0x1111111111111111111111111111111111111111",
		Topics:      []string{"0xaaa", "0xbbb"},
		Data:        "0xdeadbeef",
		Timestamp:   1700000000,
	}

	b, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"chain_id", "block_number", "tx_hash", "tx_index", "log_index", "address", "topics", "data", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %q in %s", key, b)
		}
	}
}

func TestLogRecordTopic0(t *testing.T) {
	record := LogRecord{Topics: []string{"0xaaa", "0xbbb"}}
	if got := record.Topic0(); got != "0xaaa" {
		t.Fatalf("unexpected topic0: %s", got)
	}

	var empty LogRecord
	if got := empty.Topic0(); got != "" {
		t.Fatalf("expected empty topic0, got %s", got)
	}
}
