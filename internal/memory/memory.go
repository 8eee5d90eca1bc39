// Package memory records, per agent, the outcome of every past negotiation
// with each counterparty. Negotiation policies read it to bias strategy; the
// negotiation engine appends to it when a session resolves.
//
// Records are append-only: there is no delete or update.
package memory

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

// ErrEmptyAgentID is returned when a record or lookup names no agent.
var ErrEmptyAgentID = errors.New("memory: agent id and counterparty id are required")

// Store is the interaction memory contract.
type Store interface {
	// Record appends rec to agentID's history with counterpartyID, assigning
	// the per-agent sequence index. Returns the stored record.
	Record(ctx context.Context, agentID, counterpartyID string, rec model.InteractionRecord) (model.InteractionRecord, error)

	// History returns prior records for the pair in occurrence order. The
	// sequence is finite and may be ranged over more than once.
	History(ctx context.Context, agentID, counterpartyID string) (iter.Seq[model.InteractionRecord], error)

	// Snapshot returns every record agentID holds, keyed by counterparty.
	Snapshot(ctx context.Context, agentID string) (map[string][]model.InteractionRecord, error)
}

// shard holds one agent's memory. Each shard has its own lock, so sessions
// touching disjoint agents never contend.
type shard struct {
	mu      sync.RWMutex
	nextSeq uint64
	byPeer  map[string][]model.InteractionRecord
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	shards map[string]*shard
}

// NewMemoryStore creates an empty in-process memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shards: make(map[string]*shard)}
}

func (s *MemoryStore) shard(agentID string, create bool) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[agentID]
	if !ok && create {
		sh = &shard{byPeer: make(map[string][]model.InteractionRecord)}
		s.shards[agentID] = sh
	}
	return sh
}

func (s *MemoryStore) Record(_ context.Context, agentID, counterpartyID string, rec model.InteractionRecord) (model.InteractionRecord, error) {
	if agentID == "" || counterpartyID == "" {
		return model.InteractionRecord{}, ErrEmptyAgentID
	}
	sh := s.shard(agentID, true)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.nextSeq++
	rec.Seq = sh.nextSeq
	rec.CounterpartyID = counterpartyID
	sh.byPeer[counterpartyID] = append(sh.byPeer[counterpartyID], rec)
	return rec, nil
}

func (s *MemoryStore) History(_ context.Context, agentID, counterpartyID string) (iter.Seq[model.InteractionRecord], error) {
	if agentID == "" || counterpartyID == "" {
		return nil, ErrEmptyAgentID
	}
	sh := s.shard(agentID, false)
	if sh == nil {
		return slices.Values([]model.InteractionRecord(nil)), nil
	}

	sh.mu.RLock()
	records := slices.Clone(sh.byPeer[counterpartyID])
	sh.mu.RUnlock()

	return slices.Values(records), nil
}

func (s *MemoryStore) Snapshot(_ context.Context, agentID string) (map[string][]model.InteractionRecord, error) {
	out := make(map[string][]model.InteractionRecord)
	sh := s.shard(agentID, false)
	if sh == nil {
		return out, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for peer, recs := range sh.byPeer {
		out[peer] = slices.Clone(recs)
	}
	return out, nil
}

// Summary condenses a pair history for strategy decisions.
type Summary struct {
	Interactions int `json:"interactions"`
	Successes    int `json:"successes"`
	Failures     int `json:"failures"`
	// LastPrice is the most recent agreed or attempted price.
	LastPrice decimal.NullDecimal `json:"last_price"`
	// AvgAgreedPrice averages prices of successful interactions.
	AvgAgreedPrice decimal.NullDecimal `json:"avg_agreed_price"`
}

// Summarize folds a history sequence into a Summary.
func Summarize(records iter.Seq[model.InteractionRecord]) Summary {
	var sum Summary
	agreed := decimal.Zero
	for rec := range records {
		sum.Interactions++
		if rec.Outcome == model.OutcomeSuccess {
			sum.Successes++
			if rec.Price.Valid {
				agreed = agreed.Add(rec.Price.Decimal)
			}
		} else {
			sum.Failures++
		}
		if rec.Price.Valid {
			sum.LastPrice = rec.Price
		}
	}
	if sum.Successes > 0 {
		sum.AvgAgreedPrice = decimal.NewNullDecimal(agreed.Div(decimal.NewFromInt(int64(sum.Successes))))
	}
	return sum
}
