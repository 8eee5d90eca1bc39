package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/ledger"
	"github.com/atmx/agent-market/internal/metrics"
	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/negotiation"
	"github.com/atmx/agent-market/internal/policy"
)

// ListingsPerAgent caps how many items an agent lists each cycle.
const ListingsPerAgent = 2

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Concurrency int
	MaxRounds   int
	Seed        int64
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	Cycle    int `json:"cycle"`
	Sessions int `json:"sessions"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
	Warnings int `json:"warnings"`
}

func (s *CycleStats) add(status model.SessionStatus) {
	s.Sessions++
	switch status {
	case model.StatusAccepted:
		s.Accepted++
	case model.StatusRejected:
		s.Rejected++
	case model.StatusExpired:
		s.Expired++
	}
}

// Runner drives cycles of listing, browsing and negotiation.
type Runner struct {
	engine *negotiation.Engine
	roster *Roster
	ledger *ledger.Ledger
	cfg    RunnerConfig

	mu    sync.Mutex // serializes cycles
	rng   *rand.Rand
	cycle int
}

// NewRunner creates a runner. The seed makes pairing reproducible.
func NewRunner(engine *negotiation.Engine, roster *Roster, l *ledger.Ledger, cfg RunnerConfig) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		engine: engine,
		roster: roster,
		ledger: l,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)),
	}
}

// opportunity is a buyer's pick from the cycle's listings.
type opportunity struct {
	seller  *model.Agent
	buyer   *model.Agent
	listing policy.Listing
}

// plan runs the listing and browsing phases against a market snapshot of
// recent trades. Each agent lists up to ListingsPerAgent items; then, in
// random order, each agent picks at most one listing by another seller.
// A listing goes to the first buyer that picks it.
func (r *Runner) plan(ctx context.Context) ([]opportunity, analytics.MarketSnapshot, error) {
	entries, err := r.ledger.ReadAll(ctx)
	if err != nil {
		return nil, analytics.MarketSnapshot{}, fmt.Errorf("simulation: market snapshot: %w", err)
	}
	market := analytics.Snapshot(entries, analytics.RecentWindow)

	agents := r.roster.List()
	if len(agents) < 2 {
		return nil, market, nil
	}
	views := make(map[string]policy.AgentView, len(agents))
	byID := make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		views[a.ID] = policy.ViewOf(r.engine.Snapshot(a))
		byID[a.ID] = a
	}

	// Listing phase.
	var listings []policy.Listing
	for _, seller := range agents {
		items := views[seller.ID].Inventory
		r.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		if len(items) > ListingsPerAgent {
			items = items[:ListingsPerAgent]
		}
		for _, h := range items {
			listings = append(listings, policy.PriceListing(views[seller.ID], h, market))
		}
	}
	market.ActiveListings = len(listings)

	// Browsing phase.
	buyers := slices.Clone(agents)
	r.rng.Shuffle(len(buyers), func(i, j int) { buyers[i], buyers[j] = buyers[j], buyers[i] })

	var out []opportunity
	for _, buyer := range buyers {
		l, ok := policy.ChooseListing(views[buyer.ID], listings, market)
		if !ok {
			continue
		}
		listings = slices.DeleteFunc(listings, func(x policy.Listing) bool { return x.Item.ID == l.Item.ID })
		out = append(out, opportunity{seller: byID[l.SellerID], buyer: buyer, listing: l})
	}
	return out, market, nil
}

// RunCycle runs one cycle. Sessions run concurrently up to the configured
// limit. Per-session warnings are logged and counted; a fatal ledger error
// stops the cycle and is returned.
func (r *Runner) RunCycle(ctx context.Context) (CycleStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cycle++
	stats := CycleStats{Cycle: r.cycle}
	start := time.Now()

	opps, market, err := r.plan(ctx)
	if err != nil {
		return stats, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, o := range opps {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := r.engine.Negotiate(gctx, o.buyer, o.seller, o.listing.Item.ID, r.cfg.MaxRounds,
				negotiation.WithListing(o.listing.Asking, o.listing.Floor),
				negotiation.WithMarket(market),
			)
			if negotiation.IsFatal(err) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Warnings++
				slog.Warn("negotiation warning", "cycle", stats.Cycle, "buyer", o.buyer.ID, "seller", o.seller.ID, "item", o.listing.Item.ID, "err", err)
			}
			if res != nil {
				stats.add(res.Status)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	// Sessions committed before a stop still persist.
	saveCtx := context.WithoutCancel(ctx)
	flushErr := r.ledger.Flush(saveCtx)
	saveErr := r.roster.Save(saveCtx, r.engine)

	if waitErr != nil {
		return stats, errors.Join(fmt.Errorf("simulation: cycle %d: %w", stats.Cycle, waitErr), flushErr, saveErr)
	}
	if err := ctx.Err(); err != nil {
		return stats, errors.Join(err, flushErr, saveErr)
	}
	if flushErr != nil {
		return stats, fmt.Errorf("simulation: cycle %d: %w", stats.Cycle, flushErr)
	}
	if saveErr != nil {
		return stats, saveErr
	}

	metrics.SimulationCycles.Inc()
	slog.Info("simulation cycle complete",
		"cycle", stats.Cycle,
		"sessions", stats.Sessions,
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"expired", stats.Expired,
		"warnings", stats.Warnings,
		"duration", time.Since(start).String(),
	)
	return stats, nil
}

// Run runs cycles cycles, stopping at the first error.
func (r *Runner) Run(ctx context.Context, cycles int) ([]CycleStats, error) {
	all := make([]CycleStats, 0, cycles)
	for i := 0; i < cycles; i++ {
		stats, err := r.RunCycle(ctx)
		all = append(all, stats)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
