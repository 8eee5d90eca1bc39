// Package ledger is the append-only, totally ordered record of every resolved
// negotiation. It is the single source of truth for downstream analytics:
// entries are never rewritten or removed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/store"
)

var (
	// ErrWriteFailed wraps any backend failure during Append. Callers must
	// treat it as fatal: a lost entry corrupts the audit trail.
	ErrWriteFailed = errors.New("ledger: write failed")

	// ErrInvalidRange is returned by ReadRange for from < 1 or from > to.
	ErrInvalidRange = errors.New("ledger: invalid range")
)

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Ledger assigns sequence ids and writes entries through to its backend.
// A single mutex covers id assignment and the write, so ids are strictly
// increasing with no gaps and append order equals completion order.
type Ledger struct {
	mu      sync.Mutex
	backend store.LedgerStore
	lastSeq uint64
}

// Open resumes a ledger from its backend's last stored sequence id.
func Open(ctx context.Context, backend store.LedgerStore) (*Ledger, error) {
	last, err := backend.LastLedgerSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	return &Ledger{backend: backend, lastSeq: last}, nil
}

// Append assigns the next sequence id to entry and persists it. The entry's
// Seq field is overwritten. When the backend fails the id is not consumed.
func (l *Ledger) Append(ctx context.Context, entry *model.LedgerEntry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = l.lastSeq + 1
	if err := l.backend.InsertLedgerEntry(ctx, entry); err != nil {
		slog.Error("ledger append failed", "seq", entry.Seq, "session", entry.SessionID, "err", err)
		entry.Seq = 0
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	l.lastSeq = entry.Seq
	return entry.Seq, nil
}

// Len returns the number of appended entries.
func (l *Ledger) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// ReadAll returns every entry in sequence order.
func (l *Ledger) ReadAll(ctx context.Context) ([]model.LedgerEntry, error) {
	return l.backend.ListLedgerEntries(ctx, 1, 0)
}

// ReadRange returns entries with from <= seq <= to in sequence order.
func (l *Ledger) ReadRange(ctx context.Context, from, to uint64) ([]model.LedgerEntry, error) {
	if from < 1 || to < from {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}
	return l.backend.ListLedgerEntries(ctx, from, to)
}

// Flush is the explicit sync point for the orchestrator. Backends written
// synchronously need no flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.backend.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrWriteFailed, err)
		}
	}
	return nil
}
