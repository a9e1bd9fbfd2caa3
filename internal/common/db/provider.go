package db

import (
	"fmt"
	"sync/atomic"
)

// Provider hands out the database handle repositories should use for
// their next operation.
type Provider interface {
	Current() Database
}

// StaticProvider wraps one fixed database handle. Tests and one-shot
// tools use it.
type StaticProvider struct {
	db Database
}

// NewStaticProvider creates a provider pinned to database.
func NewStaticProvider(database Database) *StaticProvider {
	return &StaticProvider{db: database}
}

// Current returns the pinned database.
func (p *StaticProvider) Current() Database {
	if p == nil {
		return nil
	}
	return p.db
}

// Manager swaps the active database handle atomically, so a reconnect
// does not require restarting the process.
type Manager struct {
	current atomic.Value
}

// NewManager creates a manager starting with database.
func NewManager(database Database) *Manager {
	m := &Manager{}
	m.current.Store(database)
	return m
}

// Current returns the active database.
func (m *Manager) Current() Database {
	if m == nil {
		return nil
	}
	value := m.current.Load()
	if value == nil {
		return nil
	}
	return value.(Database)
}

// Swap replaces the active database and returns the previous one, so
// the caller can close it once in-flight queries drain.
func (m *Manager) Swap(next Database) Database {
	prev := m.Current()
	m.current.Store(next)
	return prev
}

// CurrentDatabase fetches the provider's database, failing loudly when
// the wiring left either nil.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, fmt.Errorf("database provider is nil")
	}
	database := provider.Current()
	if database == nil {
		return nil, fmt.Errorf("database is nil")
	}
	return database, nil
}
