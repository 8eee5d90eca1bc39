// Package simulation is the reference marketplace orchestrator: it seeds a
// roster of agents, pairs listings with buyers each cycle, and drives the
// negotiation engine over them concurrently.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/catalog"
	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/store"
)

// ErrDuplicateAgent is returned when an agent ID is already on the roster.
var ErrDuplicateAgent = errors.New("simulation: agent already on roster")

// Snapshotter copies an agent consistently with concurrent commits.
type Snapshotter interface {
	Snapshot(a *model.Agent) *model.Agent
}

// SeedConfig sizes a freshly seeded roster.
type SeedConfig struct {
	NumAgents      int
	InitialCapital decimal.Decimal
	InventorySize  int
}

// Roster holds the live agents of a run. The *model.Agent values it hands
// out are shared with the negotiation engine, which serializes mutation.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*model.Agent
	store  store.AgentStore
}

// NewRoster creates an empty roster persisting through st.
func NewRoster(st store.AgentStore) *Roster {
	return &Roster{agents: make(map[string]*model.Agent), store: st}
}

// Add registers an agent.
func (r *Roster) Add(a *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID)
	}
	r.agents[a.ID] = a
	return nil
}

// Get returns the live agent with id.
func (r *Roster) Get(id string) (*model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns the live agents ordered by ID.
func (r *Roster) List() []*model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of agents.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Seed creates cfg.NumAgents agents cycling through the personalities, each
// with the initial capital and cfg.InventorySize random catalog items.
func (r *Roster) Seed(cfg SeedConfig, rng *rand.Rand) ([]*model.Agent, error) {
	personalities := model.Personalities()
	created := make([]*model.Agent, 0, cfg.NumAgents)

	for i := 0; i < cfg.NumAgents; i++ {
		p := personalities[i%len(personalities)]
		a := model.NewAgent(uuid.NewString(), fmt.Sprintf("%s_%d", p, i+1), p, cfg.InitialCapital)
		for j := 0; j < cfg.InventorySize; j++ {
			h, err := catalog.RandomHolding(rng)
			if err != nil {
				return nil, fmt.Errorf("simulation: seed inventory: %w", err)
			}
			if err := a.GiveItem(h); err != nil {
				return nil, fmt.Errorf("simulation: seed inventory: %w", err)
			}
		}
		if err := r.Add(a); err != nil {
			return nil, err
		}
		created = append(created, a)
	}
	return created, nil
}

// Load registers every agent persisted in the store.
func (r *Roster) Load(ctx context.Context) (int, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("simulation: load roster: %w", err)
	}
	for _, a := range agents {
		if err := r.Add(a); err != nil {
			return 0, err
		}
	}
	return len(agents), nil
}

// Save persists a consistent snapshot of every agent.
func (r *Roster) Save(ctx context.Context, snap Snapshotter) error {
	for _, a := range r.List() {
		if err := r.store.SaveAgent(ctx, snap.Snapshot(a)); err != nil {
			return fmt.Errorf("simulation: save agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// SaveAgents persists a consistent snapshot of the named agents, typically
// the two sides of a session that just committed. Unknown IDs are skipped.
func (r *Roster) SaveAgents(ctx context.Context, snap Snapshotter, ids ...string) error {
	var errs []error
	for _, id := range ids {
		a, ok := r.Get(id)
		if !ok {
			continue
		}
		if err := r.store.SaveAgent(ctx, snap.Snapshot(a)); err != nil {
			errs = append(errs, fmt.Errorf("simulation: save agent %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StartingCapital maps every agent to cfg's initial capital, the baseline
// for ledger replay of a freshly seeded run.
func StartingCapital(agents []*model.Agent, capital decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(agents))
	for _, a := range agents {
		out[a.ID] = capital
	}
	return out
}
