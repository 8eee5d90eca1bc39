package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/agent-market/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// agent snapshots. Writes go to the primary store and refresh the cache;
// reads check Redis first then fall back to the primary. The ledger is never
// cached: it is the audit trail and always read from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	if err := s.primary.SaveAgent(ctx, a); err != nil {
		return err
	}
	s.cacheAgent(ctx, a)
	s.rdb.Del(ctx, agentListKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	data, err := s.rdb.Get(ctx, agentKey(id)).Bytes()
	if err == nil {
		var a model.Agent
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAgent(ctx, a)
	return a, nil
}

func (s *CachedStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	data, err := s.rdb.Get(ctx, agentListKey).Bytes()
	if err == nil {
		var agents []*model.Agent
		if json.Unmarshal(data, &agents) == nil {
			return agents, nil
		}
	}

	agents, err := s.primary.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(agents); err == nil {
		s.rdb.Set(ctx, agentListKey, data, s.ttl)
	}
	return agents, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, from, to uint64) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, from, to)
}

func (s *CachedStore) LastLedgerSeq(ctx context.Context) (uint64, error) {
	return s.primary.LastLedgerSeq(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAgent(ctx context.Context, a *model.Agent) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, agentKey(a.ID), data, s.ttl)
	}
}

const agentListKey = "agents:all"

func agentKey(id string) string { return fmt.Sprintf("agent:%s", id) }
