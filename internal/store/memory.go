package store

import (
	"sort"

	"lendscope/internal/model"
)

// Memory is the in-process entity store backing one engine run. Records are
// held by pointer, so a loaded entity mutated and re-saved stays consistent;
// the accessor methods expose deterministic, id-sorted views for flushing.
type Memory struct {
	accounts          map[string]*model.Account
	markets           map[string]*model.Market
	protocols         map[string]*model.Protocol
	positions         map[string]*model.Position
	positionSnapshots map[string]*model.PositionSnapshot
	rates             map[string]*model.InterestRate
	marketSnapshots   map[string]*model.MarketSnapshot
	protocolSnapshots map[string]*model.ProtocolSnapshot
	usageSnapshots    map[string]*model.UsageSnapshot
	activeAccounts    map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:          make(map[string]*model.Account),
		markets:           make(map[string]*model.Market),
		protocols:         make(map[string]*model.Protocol),
		positions:         make(map[string]*model.Position),
		positionSnapshots: make(map[string]*model.PositionSnapshot),
		rates:             make(map[string]*model.InterestRate),
		marketSnapshots:   make(map[string]*model.MarketSnapshot),
		protocolSnapshots: make(map[string]*model.ProtocolSnapshot),
		usageSnapshots:    make(map[string]*model.UsageSnapshot),
		activeAccounts:    make(map[string]struct{}),
	}
}

func (m *Memory) Account(id string) (*model.Account, bool, error) {
	a, ok := m.accounts[id]
	return a, ok, nil
}

func (m *Memory) SaveAccount(a *model.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) Market(id string) (*model.Market, bool, error) {
	mk, ok := m.markets[id]
	return mk, ok, nil
}

func (m *Memory) SaveMarket(mk *model.Market) error {
	m.markets[mk.ID] = mk
	return nil
}

func (m *Memory) Protocol(id string) (*model.Protocol, bool, error) {
	p, ok := m.protocols[id]
	return p, ok, nil
}

func (m *Memory) SaveProtocol(p *model.Protocol) error {
	m.protocols[p.ID] = p
	return nil
}

func (m *Memory) Position(id string) (*model.Position, bool, error) {
	p, ok := m.positions[id]
	return p, ok, nil
}

func (m *Memory) SavePosition(p *model.Position) error {
	m.positions[p.ID] = p
	return nil
}

func (m *Memory) SavePositionSnapshot(s *model.PositionSnapshot) error {
	m.positionSnapshots[s.ID] = s
	return nil
}

func (m *Memory) InterestRate(id string) (*model.InterestRate, bool, error) {
	r, ok := m.rates[id]
	return r, ok, nil
}

func (m *Memory) SaveInterestRate(r *model.InterestRate) error {
	m.rates[r.ID] = r
	return nil
}

func (m *Memory) MarketSnapshot(id string) (*model.MarketSnapshot, bool, error) {
	s, ok := m.marketSnapshots[id]
	return s, ok, nil
}

func (m *Memory) SaveMarketSnapshot(s *model.MarketSnapshot) error {
	m.marketSnapshots[s.ID] = s
	return nil
}

func (m *Memory) ProtocolSnapshot(id string) (*model.ProtocolSnapshot, bool, error) {
	s, ok := m.protocolSnapshots[id]
	return s, ok, nil
}

func (m *Memory) SaveProtocolSnapshot(s *model.ProtocolSnapshot) error {
	m.protocolSnapshots[s.ID] = s
	return nil
}

func (m *Memory) UsageSnapshot(id string) (*model.UsageSnapshot, bool, error) {
	s, ok := m.usageSnapshots[id]
	return s, ok, nil
}

func (m *Memory) SaveUsageSnapshot(s *model.UsageSnapshot) error {
	m.usageSnapshots[s.ID] = s
	return nil
}

func (m *Memory) ActiveAccount(id string) (bool, error) {
	_, ok := m.activeAccounts[id]
	return ok, nil
}

func (m *Memory) SaveActiveAccount(id string) error {
	m.activeAccounts[id] = struct{}{}
	return nil
}

// Accounts returns every stored account sorted by id.
func (m *Memory) Accounts() []*model.Account {
	return sortedValues(m.accounts, func(a *model.Account) string { return a.ID })
}

// Markets returns every stored market sorted by id.
func (m *Memory) Markets() []*model.Market {
	return sortedValues(m.markets, func(mk *model.Market) string { return mk.ID })
}

// Protocols returns every stored protocol aggregate sorted by id.
func (m *Memory) Protocols() []*model.Protocol {
	return sortedValues(m.protocols, func(p *model.Protocol) string { return p.ID })
}

// Positions returns every stored position sorted by id.
func (m *Memory) Positions() []*model.Position {
	return sortedValues(m.positions, func(p *model.Position) string { return p.ID })
}

// PositionSnapshots returns every stored position snapshot sorted by id.
func (m *Memory) PositionSnapshots() []*model.PositionSnapshot {
	return sortedValues(m.positionSnapshots, func(s *model.PositionSnapshot) string { return s.ID })
}

// InterestRates returns every stored rate record sorted by id.
func (m *Memory) InterestRates() []*model.InterestRate {
	return sortedValues(m.rates, func(r *model.InterestRate) string { return r.ID })
}

// MarketSnapshots returns every stored market snapshot sorted by id.
func (m *Memory) MarketSnapshots() []*model.MarketSnapshot {
	return sortedValues(m.marketSnapshots, func(s *model.MarketSnapshot) string { return s.ID })
}

// ProtocolSnapshots returns every stored protocol snapshot sorted by id.
func (m *Memory) ProtocolSnapshots() []*model.ProtocolSnapshot {
	return sortedValues(m.protocolSnapshots, func(s *model.ProtocolSnapshot) string { return s.ID })
}

// UsageSnapshots returns every stored usage snapshot sorted by id.
func (m *Memory) UsageSnapshots() []*model.UsageSnapshot {
	return sortedValues(m.usageSnapshots, func(s *model.UsageSnapshot) string { return s.ID })
}

func sortedValues[T any](src map[string]T, id func(T) string) []T {
	out := make([]T, 0, len(src))
	for _, v := range src {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
