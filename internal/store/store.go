// Package store defines the entity store consumed by the accounting engine:
// a typed load-by-id / save abstraction with no delete. The engine assumes
// exclusive single-writer access during one event's processing; any load or
// save error is fatal to the run.
package store

import "lendscope/internal/model"

// Store is the durable map from identity to typed record.
type Store interface {
	Account(id string) (*model.Account, bool, error)
	SaveAccount(a *model.Account) error

	Market(id string) (*model.Market, bool, error)
	SaveMarket(m *model.Market) error

	Protocol(id string) (*model.Protocol, bool, error)
	SaveProtocol(p *model.Protocol) error

	Position(id string) (*model.Position, bool, error)
	SavePosition(p *model.Position) error

	SavePositionSnapshot(s *model.PositionSnapshot) error

	InterestRate(id string) (*model.InterestRate, bool, error)
	SaveInterestRate(r *model.InterestRate) error

	MarketSnapshot(id string) (*model.MarketSnapshot, bool, error)
	SaveMarketSnapshot(s *model.MarketSnapshot) error

	ProtocolSnapshot(id string) (*model.ProtocolSnapshot, bool, error)
	SaveProtocolSnapshot(s *model.ProtocolSnapshot) error

	UsageSnapshot(id string) (*model.UsageSnapshot, bool, error)
	SaveUsageSnapshot(s *model.UsageSnapshot) error

	ActiveAccount(id string) (bool, error)
	SaveActiveAccount(id string) error
}
