// Package policy defines the decision contract the negotiation engine
// consults each round, along with the implementations that ship with the
// marketplace.
//
// A policy sees a snapshot of one side of a session and returns what that
// side does next. Everything personality-specific lives behind this
// interface; the engine never branches on personality.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/model"
)

var (
	// ErrUnavailable is returned when the policy could not produce a
	// decision at all (remote call failed, timed out).
	ErrUnavailable = errors.New("policy: unavailable")

	// ErrInvalid is returned when the policy produced a decision that cannot
	// be parsed or is not legal in the current position.
	ErrInvalid = errors.New("policy: invalid decision")
)

// Action is the move a side makes.
type Action string

const (
	ActionOffer   Action = "OFFER"
	ActionAccept  Action = "ACCEPT"
	ActionCounter Action = "COUNTER"
	ActionReject  Action = "REJECT"
)

// ParseAction parses an action name, case-sensitively.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionOffer, ActionAccept, ActionCounter, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalid, s)
}

// Decision is a policy's answer for one turn. Price is meaningful only for
// Offer and Counter.
type Decision struct {
	Action  Action          `json:"action"`
	Price   decimal.Decimal `json:"price"`
	Message string          `json:"message,omitempty"`
}

func Offer(price decimal.Decimal) Decision   { return Decision{Action: ActionOffer, Price: price} }
func Counter(price decimal.Decimal) Decision { return Decision{Action: ActionCounter, Price: price} }
func Accept() Decision                       { return Decision{Action: ActionAccept} }
func Reject() Decision                       { return Decision{Action: ActionReject} }

// AgentView is the read-only snapshot of the deciding agent.
type AgentView struct {
	ID             string
	Name           string
	Personality    model.Personality
	Capital        decimal.Decimal
	Inventory      []model.Holding
	TotalSales     int
	TotalPurchases int
	TotalProfit    decimal.Decimal
}

// ViewOf snapshots an agent. The caller must hold the agent's lock.
func ViewOf(a *model.Agent) AgentView {
	return AgentView{
		ID:             a.ID,
		Name:           a.Name,
		Personality:    a.Personality,
		Capital:        a.Capital,
		Inventory:      a.Items(),
		TotalSales:     a.TotalSales,
		TotalPurchases: a.TotalPurchases,
		TotalProfit:    a.TotalProfit,
	}
}

// CountCategory returns how many held items belong to category.
func (v AgentView) CountCategory(category string) int {
	n := 0
	for _, h := range v.Inventory {
		if h.Item.Category == category {
			n++
		}
	}
	return n
}

// Context is everything a policy may look at for one decision.
type Context struct {
	Role           model.Role
	Self           AgentView
	CounterpartyID string
	Item           model.Item
	// CostBasis is what the seller paid for the item. It is set only when
	// Role is RoleSeller.
	CostBasis decimal.NullDecimal
	Round     int
	MaxRounds int
	History   []model.Offer
	// Pending is the offer on the table, nil when the side must open.
	Pending *model.Offer
	// Memory holds prior interactions with CounterpartyID, oldest first.
	Memory []model.InteractionRecord
	// Asking is the listed price, when the item was listed.
	Asking decimal.NullDecimal
	// Floor is the lowest price the seller listed as acceptable. It is set
	// only when Role is RoleSeller.
	Floor decimal.NullDecimal
	// Market is the recent price picture across categories.
	Market analytics.MarketSnapshot
}

// Opening reports whether the deciding side must open the session.
func (c Context) Opening() bool {
	return c.Pending == nil
}

// Policy decides one turn of a negotiation. Implementations must be safe for
// concurrent use; the engine runs many sessions at once.
type Policy interface {
	Decide(ctx context.Context, c Context) (Decision, error)
}

// Func adapts a plain function to Policy.
type Func func(ctx context.Context, c Context) (Decision, error)

func (f Func) Decide(ctx context.Context, c Context) (Decision, error) {
	return f(ctx, c)
}

// ByRole dispatches to a separate policy for each side.
func ByRole(buyer, seller Policy) Policy {
	return Func(func(ctx context.Context, c Context) (Decision, error) {
		if c.Role == model.RoleSeller {
			return seller.Decide(ctx, c)
		}
		return buyer.Decide(ctx, c)
	})
}

// Validate checks that d is a legal move in position c. The opener may Offer
// a positive price or Reject; a responder may Accept, Counter with a
// positive price, or Reject.
func Validate(c Context, d Decision) error {
	if c.Opening() {
		switch d.Action {
		case ActionReject:
			return nil
		case ActionOffer:
			if !d.Price.IsPositive() {
				return fmt.Errorf("%w: offer price must be positive, got %s", ErrInvalid, d.Price)
			}
			return nil
		}
		return fmt.Errorf("%w: %s is not a legal opening move", ErrInvalid, d.Action)
	}

	switch d.Action {
	case ActionAccept, ActionReject:
		return nil
	case ActionCounter:
		if !d.Price.IsPositive() {
			return fmt.Errorf("%w: counter price must be positive, got %s", ErrInvalid, d.Price)
		}
		return nil
	}
	return fmt.Errorf("%w: %s is not a legal response", ErrInvalid, d.Action)
}
