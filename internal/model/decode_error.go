package model

// DecodeError is one line of the decode-error sidecar file. Failures are
// recorded instead of aborting the run so a malformed log never blocks
// the rest of the range.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}
