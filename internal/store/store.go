// Package store defines the persistence interface for the marketplace.
// Implementations include PostgreSQL, SQLite/MySQL via sqlx, a Redis
// read-through cache, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/agent-market/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrCorruptRow is returned when a stored value cannot be decoded.
	ErrCorruptRow = errors.New("store: corrupt row")
)

// LedgerStore persists the append-only negotiation ledger. Sequence ids are
// assigned by the caller; backends store them verbatim.
type LedgerStore interface {
	// InsertLedgerEntry appends an immutable ledger record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// ListLedgerEntries returns entries with from <= seq <= to in sequence
	// order. A zero to means "through the end".
	ListLedgerEntries(ctx context.Context, from, to uint64) ([]model.LedgerEntry, error)

	// LastLedgerSeq returns the highest stored sequence id, 0 if empty.
	LastLedgerSeq(ctx context.Context) (uint64, error)
}

// AgentStore persists agent snapshots between cycles.
type AgentStore interface {
	// SaveAgent inserts or replaces an agent snapshot.
	SaveAgent(ctx context.Context, agent *model.Agent) error

	// GetAgent retrieves an agent snapshot by ID.
	GetAgent(ctx context.Context, id string) (*model.Agent, error)

	// ListAgents returns all agent snapshots ordered by ID.
	ListAgents(ctx context.Context) ([]*model.Agent, error)
}

// Store is the full persistence interface.
type Store interface {
	LedgerStore
	AgentStore
}
