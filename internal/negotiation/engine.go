// Package negotiation runs bounded, alternating offer/counter-offer sessions
// between two agents over one item and commits the outcome to agent state,
// the ledger, and interaction memory.
//
// Sessions over disjoint agents run fully in parallel. Agents are locked only
// for the snapshot taken before the session and for the commit step; policy
// calls, which may be slow or remote, run without any lock held.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/guard"
	"github.com/atmx/agent-market/internal/ledger"
	"github.com/atmx/agent-market/internal/memory"
	"github.com/atmx/agent-market/internal/metrics"
	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/policy"
)

// DefaultMaxRounds is the round limit when none is configured.
const DefaultMaxRounds = 5

// SessionResult is what survives a session: its terminal state and the
// references written to the ledger and memory.
type SessionResult struct {
	SessionID   string              `json:"session_id"`
	BuyerID     string              `json:"buyer_id"`
	SellerID    string              `json:"seller_id"`
	ItemID      string              `json:"item_id"`
	Category    string              `json:"category"`
	Status      model.SessionStatus `json:"status"`
	Outcome     model.Outcome       `json:"outcome"`
	FinalPrice  decimal.NullDecimal `json:"final_price"`
	LastPrice   decimal.NullDecimal `json:"last_price"`
	// AskingPrice is the listed price the session opened against, if any.
	AskingPrice decimal.NullDecimal `json:"asking_price"`
	Rounds      int                 `json:"rounds"`
	LedgerSeq   uint64              `json:"ledger_seq"`
	Offers      []model.Offer       `json:"offers"`
	// Cause explains a non-Accepted ending that was not the policy's own
	// Reject or the round limit.
	Cause      string    `json:"cause,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Notifier receives every committed result. Notify must not block.
type Notifier interface {
	Notify(r SessionResult)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRounds sets the default round limit.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithGuard replaces the pre-commit checker.
func WithGuard(g guard.Checker) Option {
	return func(e *Engine) { e.guard = g }
}

// WithNotifier registers a receiver for committed results.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the time source for ledger and memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// sessionConfig is what a listed session carries beyond the item itself.
type sessionConfig struct {
	asking decimal.NullDecimal
	floor  decimal.NullDecimal
	market analytics.MarketSnapshot
}

// SessionOption configures one Negotiate call.
type SessionOption func(*sessionConfig)

// WithListing opens the session against a listing: both sides see the
// asking price, only the seller sees the floor.
func WithListing(asking, floor decimal.Decimal) SessionOption {
	return func(c *sessionConfig) {
		c.asking = decimal.NewNullDecimal(asking)
		c.floor = decimal.NewNullDecimal(floor)
	}
}

// WithMarket shows both sides the recent market picture.
func WithMarket(m analytics.MarketSnapshot) SessionOption {
	return func(c *sessionConfig) { c.market = m }
}

// Engine runs negotiation sessions. It is safe for concurrent use.
type Engine struct {
	policy    policy.Policy
	memory    memory.Store
	ledger    *ledger.Ledger
	guard     guard.Checker
	notifier  Notifier
	maxRounds int
	now       func() time.Time
	locks     *lockTable
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(p policy.Policy, mem memory.Store, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		policy:    p,
		memory:    mem,
		ledger:    l,
		guard:     guard.NewCommitGuard(0),
		maxRounds: DefaultMaxRounds,
		now:       time.Now,
		locks:     newLockTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxRounds returns the engine's default round limit.
func (e *Engine) MaxRounds() int { return e.maxRounds }

// Snapshot returns a deep copy of a taken under its lock, safe to read while
// sessions involving a are committing.
func (e *Engine) Snapshot(a *model.Agent) *model.Agent {
	unlock := e.locks.lock(a.ID)
	defer unlock()
	return a.Clone()
}

// side is one party's fixed view of the session.
type side struct {
	role      model.Role
	view      policy.AgentView
	peerID    string
	costBasis decimal.NullDecimal
	floor     decimal.NullDecimal
	memory    []model.InteractionRecord
}

// Negotiate runs one session of buyer trying to buy itemID from seller, for
// at most maxRounds rounds (0 selects the engine default).
//
// The returned error is one of:
//   - ErrInvalidTradeRequest, with a nil result and no side effects;
//   - ErrPolicyUnavailable or ErrPolicyInvalid, non-fatal, with an Expired
//     result that has been committed;
//   - ErrMemoryWrite, non-fatal, with a committed result;
//   - ErrLedgerWrite, fatal (see IsFatal), with nothing committed.
//
// A commit-time check failure (insufficient capital, holding limit, item
// gone) is not an error: the result is Rejected and Cause says why.
func (e *Engine) Negotiate(ctx context.Context, buyer, seller *model.Agent, itemID string, maxRounds int, opts ...SessionOption) (*SessionResult, error) {
	start := time.Now()

	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if maxRounds == 0 {
		maxRounds = e.maxRounds
	}
	if err := validateRequest(buyer, seller, itemID, maxRounds); err != nil {
		return nil, err
	}
	if err := validateListing(cfg); err != nil {
		return nil, err
	}

	buyerSide, sellerSide, item, err := e.prepare(ctx, buyer, seller, itemID)
	if err != nil {
		return nil, err
	}
	sellerSide.floor = cfg.floor

	sess := NewSession(ulid.Make().String(), buyer.ID, seller.ID, item, maxRounds)
	accepting, policyErr := e.run(ctx, sess, buyerSide, sellerSide, cfg)
	if policyErr != nil {
		slog.Warn("negotiation policy failure",
			"session", sess.ID,
			"buyer", buyer.ID,
			"seller", seller.ID,
			"round", sess.Round(),
			"err", policyErr,
		)
	}

	result, err := e.commit(ctx, sess, buyer, seller, accepting, policyErr)
	if err != nil && IsFatal(err) {
		return result, err
	}
	result.AskingPrice = cfg.asking

	metrics.NegotiationsTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.NegotiationRounds.Observe(float64(result.Rounds))
	metrics.NegotiationLatency.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())
	if result.FinalPrice.Valid {
		metrics.TradeVolume.WithLabelValues(result.Category).Add(result.FinalPrice.Decimal.InexactFloat64())
	}

	slog.Info("negotiation resolved",
		"session", result.SessionID,
		"buyer", result.BuyerID,
		"seller", result.SellerID,
		"item", result.ItemID,
		"status", result.Status,
		"rounds", result.Rounds,
		"price", priceString(result),
		"ledger_seq", result.LedgerSeq,
	)

	if e.notifier != nil {
		e.notifier.Notify(*result)
	}

	if policyErr != nil {
		return result, errors.Join(policyErr, err)
	}
	return result, err
}

func validateRequest(buyer, seller *model.Agent, itemID string, maxRounds int) error {
	switch {
	case buyer == nil || seller == nil:
		return fmt.Errorf("%w: buyer and seller are required", ErrInvalidTradeRequest)
	case buyer.ID == seller.ID:
		return fmt.Errorf("%w: agent %s cannot trade with itself", ErrInvalidTradeRequest, buyer.ID)
	case itemID == "":
		return fmt.Errorf("%w: item id is required", ErrInvalidTradeRequest)
	case maxRounds < 0:
		return fmt.Errorf("%w: max rounds must be positive, got %d", ErrInvalidTradeRequest, maxRounds)
	}
	return nil
}

func validateListing(cfg sessionConfig) error {
	switch {
	case !cfg.asking.Valid:
		return nil
	case !cfg.asking.Decimal.IsPositive():
		return fmt.Errorf("%w: asking price must be positive, got %s", ErrInvalidTradeRequest, cfg.asking.Decimal)
	case cfg.floor.Valid && cfg.floor.Decimal.GreaterThan(cfg.asking.Decimal):
		return fmt.Errorf("%w: floor %s exceeds asking price %s", ErrInvalidTradeRequest, cfg.floor.Decimal, cfg.asking.Decimal)
	}
	return nil
}

// prepare snapshots both agents under their locks and loads each side's
// memory of the other.
func (e *Engine) prepare(ctx context.Context, buyer, seller *model.Agent, itemID string) (side, side, model.Item, error) {
	unlock := e.locks.lock(buyer.ID, seller.ID)
	holding, ok := seller.Holding(itemID)
	buyerView, sellerView := policy.ViewOf(buyer), policy.ViewOf(seller)
	unlock()

	if !ok {
		return side{}, side{}, model.Item{}, fmt.Errorf("%w: seller %s does not hold %s", ErrInvalidTradeRequest, seller.ID, itemID)
	}

	b := side{role: model.RoleBuyer, view: buyerView, peerID: seller.ID, memory: e.recall(ctx, buyer.ID, seller.ID)}
	s := side{
		role:      model.RoleSeller,
		view:      sellerView,
		peerID:    buyer.ID,
		costBasis: decimal.NewNullDecimal(holding.CostBasis),
		memory:    e.recall(ctx, seller.ID, buyer.ID),
	}
	return b, s, holding.Item, nil
}

// recall loads prior records for the pair. A read failure degrades to an
// empty history; strategy bias is advisory.
func (e *Engine) recall(ctx context.Context, agentID, peerID string) []model.InteractionRecord {
	hist, err := e.memory.History(ctx, agentID, peerID)
	if err != nil {
		slog.Warn("memory read failed", "agent", agentID, "counterparty", peerID, "err", err)
		return nil
	}
	return slices.Collect(hist)
}

// run drives the session until it resolves or a responder accepts. An
// accept leaves the session Open: it only becomes Accepted if the commit
// checks pass. A policy failure expires the session and is returned.
func (e *Engine) run(ctx context.Context, s *Session, buyer, seller side, cfg sessionConfig) (bool, error) {
	current, other := buyer, seller
	for s.Status() == model.StatusOpen {
		c := policy.Context{
			Role:           current.role,
			Self:           current.view,
			CounterpartyID: current.peerID,
			Item:           s.Item,
			CostBasis:      current.costBasis,
			Round:          s.Round(),
			MaxRounds:      s.MaxRounds,
			History:        s.Offers(),
			Pending:        s.Pending(),
			Memory:         current.memory,
			Asking:         cfg.asking,
			Floor:          current.floor,
			Market:         cfg.market,
		}

		d, err := e.decide(ctx, c)
		if err != nil {
			s.Expire()
			return false, err
		}

		switch d.Action {
		case policy.ActionAccept:
			return true, nil
		case policy.ActionReject:
			s.Reject()
		case policy.ActionOffer:
			s.Propose(current.view.ID, d.Price)
		case policy.ActionCounter:
			s.Propose(current.view.ID, d.Price)
			if _, err := s.Advance(); err != nil {
				return false, err
			}
		}
		current, other = other, current
	}
	return false, nil
}

// decide calls the policy and classifies any failure.
func (e *Engine) decide(ctx context.Context, c policy.Context) (policy.Decision, error) {
	d, err := e.policy.Decide(ctx, c)
	if err != nil {
		if errors.Is(err, policy.ErrInvalid) {
			metrics.PolicyErrors.WithLabelValues("invalid").Inc()
			return policy.Decision{}, fmt.Errorf("%w: %s round %d: %w", ErrPolicyInvalid, c.Role, c.Round, err)
		}
		metrics.PolicyErrors.WithLabelValues("unavailable").Inc()
		return policy.Decision{}, fmt.Errorf("%w: %s round %d: %w", ErrPolicyUnavailable, c.Role, c.Round, err)
	}
	if err := policy.Validate(c, d); err != nil {
		metrics.PolicyErrors.WithLabelValues("invalid").Inc()
		return policy.Decision{}, fmt.Errorf("%w: %s round %d: %w", ErrPolicyInvalid, c.Role, c.Round, err)
	}
	return d, nil
}

// commit applies the session's outcome under both agents' locks: checks and
// the transfer, then exactly one ledger entry (the transfer is reverted if
// the append fails), then exactly two memory records.
func (e *Engine) commit(ctx context.Context, s *Session, buyer, seller *model.Agent, accepting bool, policyErr error) (*SessionResult, error) {
	unlock := e.locks.lock(buyer.ID, seller.ID)
	defer unlock()

	var cause string
	if policyErr != nil {
		cause = policyErr.Error()
	}

	now := e.now().UTC()

	// The transfer is applied before the ledger append so that a refused
	// transfer is recorded as a rejection; undo reverts it if the append fails.
	var (
		price decimal.Decimal
		undo  func()
	)
	if accepting {
		price = s.Pending().Price
		err := e.check(buyer, seller, s.Item, price)
		if err == nil {
			undo, err = transfer(buyer, seller, s.Item.ID, price, now)
			if err != nil {
				metrics.CommitRejections.WithLabelValues("transfer").Inc()
			}
		}
		if err != nil {
			cause = err.Error()
			s.Reject()
		} else {
			s.Accept()
		}
	}

	status := s.Status()
	outcome := model.OutcomeFor(status)

	result := &SessionResult{
		SessionID:  s.ID,
		BuyerID:    buyer.ID,
		SellerID:   seller.ID,
		ItemID:     s.Item.ID,
		Category:   s.Item.Category,
		Status:     status,
		Outcome:    outcome,
		LastPrice:  s.LastPrice(),
		Rounds:     s.Round(),
		Offers:     s.Offers(),
		Cause:      cause,
		ResolvedAt: now,
	}
	if status == model.StatusAccepted {
		result.FinalPrice = decimal.NewNullDecimal(price)
	}

	entry := &model.LedgerEntry{
		SessionID:  s.ID,
		BuyerID:    buyer.ID,
		SellerID:   seller.ID,
		ItemID:     s.Item.ID,
		Outcome:    outcome,
		Status:     status,
		FinalPrice: result.FinalPrice,
		Rounds:     result.Rounds,
		Timestamp:  now,
	}
	seq, err := e.ledger.Append(ctx, entry)
	if err != nil {
		if undo != nil {
			undo()
		}
		metrics.LedgerWriteFailures.Inc()
		slog.Error("ledger write failed, no agent mutated", "session", s.ID, "err", err)
		return result, fmt.Errorf("%w: session %s: %w", ErrLedgerWrite, s.ID, err)
	}
	result.LedgerSeq = seq

	// Both views carry the same outcome, price, rounds and ledger seq. A
	// failed negotiation remembers the last attempted price.
	recPrice := result.FinalPrice
	if !recPrice.Valid {
		recPrice = result.LastPrice
	}
	rec := model.InteractionRecord{
		ItemID:    s.Item.ID,
		Outcome:   outcome,
		Status:    status,
		Price:     recPrice,
		Rounds:    result.Rounds,
		LedgerSeq: seq,
		Timestamp: now,
	}
	var memErrs []error
	buyerRec, sellerRec := rec, rec
	buyerRec.Role, sellerRec.Role = model.RoleBuyer, model.RoleSeller
	if _, err := e.memory.Record(ctx, buyer.ID, seller.ID, buyerRec); err != nil {
		memErrs = append(memErrs, fmt.Errorf("%w: %s: %w", ErrMemoryWrite, buyer.ID, err))
	}
	if _, err := e.memory.Record(ctx, seller.ID, buyer.ID, sellerRec); err != nil {
		memErrs = append(memErrs, fmt.Errorf("%w: %s: %w", ErrMemoryWrite, seller.ID, err))
	}
	if len(memErrs) > 0 {
		slog.Error("memory write failed", "session", s.ID, "ledger_seq", seq, "err", errors.Join(memErrs...))
	}
	return result, errors.Join(memErrs...)
}

// check runs the commit-time validation. The caller holds both locks.
func (e *Engine) check(buyer, seller *model.Agent, item model.Item, price decimal.Decimal) error {
	if !seller.Owns(item.ID) {
		metrics.CommitRejections.WithLabelValues("item_unavailable").Inc()
		return fmt.Errorf("%w: %s", ErrItemUnavailable, item.ID)
	}
	if err := e.guard.Check(buyer, item, price); err != nil {
		reason := "guard"
		switch {
		case errors.Is(err, guard.ErrInsufficientCapital):
			reason = "insufficient_capital"
		case errors.Is(err, guard.ErrHoldingLimitExceeded):
			reason = "holding_limit"
		}
		metrics.CommitRejections.WithLabelValues(reason).Inc()
		return err
	}
	// The guard is replaceable; capital never goes negative regardless.
	if !buyer.CanAfford(price) {
		metrics.CommitRejections.WithLabelValues("insufficient_capital").Inc()
		return fmt.Errorf("%w: agent %s", guard.ErrInsufficientCapital, buyer.ID)
	}
	return nil
}

// transfer moves price from buyer to seller and the item from seller to
// buyer through the agents' own checked mutators. On error nothing is left
// changed. The returned func reverts a successful transfer. The caller holds
// both locks.
func transfer(buyer, seller *model.Agent, itemID string, price decimal.Decimal, now time.Time) (func(), error) {
	sold, err := seller.TakeItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrItemUnavailable, err)
	}
	if err := buyer.Debit(price); err != nil {
		seller.GiveItem(sold)
		return nil, fmt.Errorf("%w: %w", guard.ErrInsufficientCapital, err)
	}
	if err := buyer.GiveItem(model.Holding{Item: sold.Item, CostBasis: price, AcquiredAt: now}); err != nil {
		buyer.Credit(price)
		seller.GiveItem(sold)
		return nil, err
	}
	seller.Credit(price)

	profit := price.Sub(sold.CostBasis)
	seller.TotalProfit = seller.TotalProfit.Add(profit)
	seller.TotalSales++
	buyer.TotalPurchases++

	return func() {
		buyer.TakeItem(itemID)
		buyer.Credit(price)
		buyer.TotalPurchases--
		seller.Debit(price)
		seller.GiveItem(sold)
		seller.TotalProfit = seller.TotalProfit.Sub(profit)
		seller.TotalSales--
	}, nil
}

func priceString(r *SessionResult) string {
	if r.FinalPrice.Valid {
		return r.FinalPrice.Decimal.StringFixed(2)
	}
	if r.LastPrice.Valid {
		return "last " + r.LastPrice.Decimal.StringFixed(2)
	}
	return "none"
}
