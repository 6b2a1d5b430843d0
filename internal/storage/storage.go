// Package storage provides the raw log sink between the fetch stage and
// the offline decode and apply stages.
package storage

import "lendscope/internal/model"

// Storage is a durable sink for raw log batches.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
	Close() error
}
