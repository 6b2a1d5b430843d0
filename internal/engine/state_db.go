package engine

import (
	"context"

	"lendscope/internal/store/postgres"
)

// DBStateStore keeps resume state in the engine_state table, one row per
// key. Name carries the protocol ("engine:aave-v3") so separate protocols
// can share one database without clobbering each other's cursor.
type DBStateStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBStateStore) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Store == nil {
		return 0, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, ts uint64) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, ts)
}
