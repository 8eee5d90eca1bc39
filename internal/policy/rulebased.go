package policy

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"slices"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/memory"
	"github.com/atmx/agent-market/internal/model"
)

// traits parameterize the rule-based strategy for one personality.
type traits struct {
	openRatio  float64 // buyer opening bid, fraction of reference value
	maxPay     float64 // buyer ceiling, fraction of reference value
	markup     float64 // seller opening ask over max(reference, cost)
	minMargin  float64 // seller floor over cost basis
	concession float64 // share of the remaining gap given up each round
	slack      float64 // accept when within this fraction of the own target
	walkAway   int     // from this round on, out-of-range prices are rejected
	memoryBias float64 // adjustment when past dealings with the peer failed
	volatility float64 // amplitude of mood noise
}

var traitTable = map[model.Personality]traits{
	model.AggressiveTrader: {openRatio: 0.60, maxPay: 0.95, markup: 0.65, minMargin: 0.10, concession: 0.15, slack: 0.01, walkAway: 3, memoryBias: 0.05},
	model.PatientInvestor:  {openRatio: 0.80, maxPay: 1.05, markup: 0.25, minMargin: 0.15, concession: 0.25, slack: 0.03, walkAway: 5, memoryBias: 0.10},
	model.Opportunist:      {openRatio: 0.70, maxPay: 1.00, markup: 0.35, minMargin: 0.10, concession: 0.30, slack: 0.02, walkAway: 4, memoryBias: 0.08},
	model.RiskTaker:        {openRatio: 0.85, maxPay: 1.20, markup: 0.50, minMargin: 0.00, concession: 0.40, slack: 0.05, walkAway: 5, volatility: 0.10},
	model.Conservative:     {openRatio: 0.75, maxPay: 0.95, markup: 0.20, minMargin: 0.12, concession: 0.20, slack: 0.01, walkAway: 4, memoryBias: 0.05},
	model.Specialist:       {openRatio: 0.70, maxPay: 1.05, markup: 0.40, minMargin: 0.10, concession: 0.15, slack: 0.02, walkAway: 5, memoryBias: 0.05},
	model.Emotional:        {openRatio: 0.75, maxPay: 1.05, markup: 0.30, minMargin: 0.10, concession: 0.30, slack: 0.04, walkAway: 4, memoryBias: 0.15, volatility: 0.25},
	model.DataDriven:       {openRatio: 0.78, maxPay: 1.00, markup: 0.25, minMargin: 0.15, concession: 0.25, slack: 0.01, walkAway: 5, memoryBias: 0.10},
	model.Social:           {openRatio: 0.85, maxPay: 1.10, markup: 0.20, minMargin: 0.08, concession: 0.35, slack: 0.05, walkAway: 5, memoryBias: 0.12},
	model.Chaotic:          {openRatio: 0.70, maxPay: 1.10, markup: 0.50, minMargin: 0.00, concession: 0.50, slack: 0.10, walkAway: 5, volatility: 0.50},
}

// RuleBased is a deterministic, local policy driven by a per-personality
// trait table. Emotional and chaotic personalities drift with a smooth
// noise-derived mood, so the same seed reproduces the same run.
type RuleBased struct {
	noise opensimplex.Noise
}

// NewRuleBased creates a rule-based policy whose mood noise is seeded by seed.
func NewRuleBased(seed int64) *RuleBased {
	return &RuleBased{noise: opensimplex.NewNormalized(seed)}
}

func (p *RuleBased) Decide(ctx context.Context, c Context) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	t := p.adjust(baseTraits(c.Self, c.Item.Category), c)
	sum := memory.Summarize(slices.Values(c.Memory))

	if c.Role == model.RoleSeller {
		return p.sell(c, t, sum), nil
	}
	return p.buy(c, t, sum), nil
}

// adjust applies mood and memory to the base traits.
func (p *RuleBased) adjust(t traits, c Context) traits {
	if m := p.mood(c, t.volatility); m != 0 {
		t.openRatio *= 1 + m/2
		t.maxPay *= 1 + m
		t.minMargin -= m / 2
		t.concession = clamp(t.concession*(1+m), 0.05, 0.9)
	}

	var failures, successes int
	for _, rec := range c.Memory {
		if rec.Outcome == model.OutcomeSuccess {
			successes++
		} else {
			failures++
		}
	}
	if failures > successes {
		t.openRatio *= 1 + t.memoryBias
		t.maxPay *= 1 + t.memoryBias/2
		t.concession = clamp(t.concession+t.memoryBias, 0.05, 0.9)
		t.minMargin -= t.memoryBias / 2
	}
	t.minMargin = clamp(t.minMargin, -0.2, 1)
	return t
}

// mood samples noise in [-volatility, volatility). It moves smoothly with
// the round and the number of past dealings, and differs per agent pair.
func (p *RuleBased) mood(c Context, volatility float64) float64 {
	if volatility == 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(c.Self.ID))
	h.Write([]byte(c.CounterpartyID))
	y := float64(h.Sum64()%10000) / 100
	x := float64(len(c.Memory)) + float64(c.Round)*0.35
	return (p.noise.Eval2(x, y)*2 - 1) * volatility
}

func (p *RuleBased) buy(c Context, t traits, sum memory.Summary) Decision {
	ref := marketValue(c.Item, c.Market)
	limit := scale(ref, t.maxPay)
	if limit.GreaterThan(c.Self.Capital) {
		limit = c.Self.Capital
	}
	// Never pay over the listed price.
	if c.Asking.Valid && limit.GreaterThan(c.Asking.Decimal) {
		limit = c.Asking.Decimal
	}
	if limit.LessThan(minPrice) {
		return Decision{Action: ActionReject, Message: "I can't afford this right now"}
	}

	open := scale(ref, t.openRatio)
	if sum.AvgAgreedPrice.Valid {
		open = midpoint(open, scale(sum.AvgAgreedPrice.Decimal, 0.95))
	}
	open = money(decimal.Min(open, limit))

	if c.Opening() {
		return Decision{
			Action:  ActionOffer,
			Price:   open,
			Message: fmt.Sprintf("I'd like to offer $%s for %s", open.StringFixed(2), c.Item.Name),
		}
	}

	ask := c.Pending.Price
	bid := money(open.Add(limit.Sub(open).Mul(progress(t.concession, c.Round))))

	if ask.LessThanOrEqual(limit) && ask.LessThanOrEqual(scale(bid, 1+t.slack)) {
		return Decision{Action: ActionAccept, Message: fmt.Sprintf("Deal at $%s", ask.StringFixed(2))}
	}
	if c.Round >= t.walkAway && ask.GreaterThan(limit) {
		return Decision{Action: ActionReject, Message: "I am going to pass"}
	}

	if last, ok := lastOwnPrice(c); ok && bid.LessThan(last) {
		bid = last
	}
	if bid.GreaterThanOrEqual(ask) {
		if ask.LessThanOrEqual(limit) {
			return Decision{Action: ActionAccept, Message: fmt.Sprintf("Deal at $%s", ask.StringFixed(2))}
		}
		bid = money(limit)
	}
	return Decision{
		Action:  ActionCounter,
		Price:   bid,
		Message: fmt.Sprintf("How about $%s?", bid.StringFixed(2)),
	}
}

func (p *RuleBased) sell(c Context, t traits, sum memory.Summary) Decision {
	cost := c.Item.ReferenceValue
	if c.CostBasis.Valid {
		cost = c.CostBasis.Decimal
	}
	floor := money(scale(cost, 1+t.minMargin))
	if c.Floor.Valid {
		floor = c.Floor.Decimal
	}

	var ask0 decimal.Decimal
	if c.Asking.Valid {
		ask0 = c.Asking.Decimal
	} else {
		ask0 = scale(decimal.Max(marketValue(c.Item, c.Market), cost), 1+t.markup)
		if sum.AvgAgreedPrice.Valid {
			ask0 = midpoint(ask0, scale(sum.AvgAgreedPrice.Decimal, 1.05))
		}
	}
	ask0 = money(decimal.Max(ask0, floor))

	if c.Opening() {
		return Decision{Action: ActionOffer, Price: ask0, Message: fmt.Sprintf("Asking $%s", ask0.StringFixed(2))}
	}

	bid := c.Pending.Price
	ask := money(floor.Add(ask0.Sub(floor).Mul(decimal.NewFromInt(1).Sub(progress(t.concession, c.Round)))))

	if bid.GreaterThanOrEqual(floor) && bid.GreaterThanOrEqual(scale(ask, 1-t.slack)) {
		return Decision{Action: ActionAccept, Message: fmt.Sprintf("I accept $%s. Deal", bid.StringFixed(2))}
	}
	if c.Round >= t.walkAway && bid.LessThan(floor) {
		return Decision{Action: ActionReject, Message: fmt.Sprintf("Sorry, I cannot accept $%s", bid.StringFixed(2))}
	}
	if ask.LessThanOrEqual(bid) {
		return Decision{Action: ActionAccept, Message: fmt.Sprintf("I accept $%s. Deal", bid.StringFixed(2))}
	}
	return Decision{
		Action:  ActionCounter,
		Price:   ask,
		Message: fmt.Sprintf("I can do $%s", ask.StringFixed(2)),
	}
}

// lastOwnPrice returns the most recent price this side proposed.
func lastOwnPrice(c Context) (decimal.Decimal, bool) {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].ProposerID == c.Self.ID {
			return c.History[i].Price, true
		}
	}
	return decimal.Zero, false
}

var minPrice = decimal.New(1, -2)

// money rounds to cents, never below one cent.
func money(d decimal.Decimal) decimal.Decimal {
	d = d.Round(2)
	if d.LessThan(minPrice) {
		return minPrice
	}
	return d
}

func scale(d decimal.Decimal, f float64) decimal.Decimal {
	return d.Mul(decimal.NewFromFloat(f))
}

func midpoint(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(decimal.NewFromInt(2))
}

// progress is the share of the gap conceded by round: 0 in round 1,
// approaching 1 as rounds pass.
func progress(concession float64, round int) decimal.Decimal {
	if round < 1 {
		round = 1
	}
	return decimal.NewFromFloat(1 - math.Pow(1-concession, float64(round-1)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
