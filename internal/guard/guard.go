// Package guard implements the checks a negotiated Accept must pass before
// it commits: the buyer must be able to pay, and must stay within the
// per-category holding limit.
//
// A failed check never mutates any agent. The negotiation engine converts it
// into a Rejected session.
package guard

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

var (
	// ErrInsufficientCapital is returned when paying the agreed price would
	// drive the buyer's capital below zero.
	ErrInsufficientCapital = errors.New("guard: insufficient capital")

	// ErrHoldingLimitExceeded is returned when the buyer already holds the
	// maximum number of items in the item's category.
	ErrHoldingLimitExceeded = errors.New("guard: holding limit exceeded")
)

// Checker validates a trade before commit.
type Checker interface {
	Check(buyer *model.Agent, item model.Item, price decimal.Decimal) error
}

// CommitGuard enforces capital and concentration limits.
type CommitGuard struct {
	// MaxPerCategory is the maximum number of items of one category a buyer
	// may hold after the trade. Zero disables the limit.
	MaxPerCategory int
}

// NewCommitGuard creates a guard with the given per-category limit.
func NewCommitGuard(maxPerCategory int) *CommitGuard {
	if maxPerCategory < 0 {
		maxPerCategory = 0
	}
	return &CommitGuard{MaxPerCategory: maxPerCategory}
}

// Check returns nil if buyer may pay price for item.
func (g *CommitGuard) Check(buyer *model.Agent, item model.Item, price decimal.Decimal) error {
	// 1. Capital.
	if !buyer.CanAfford(price) {
		return fmt.Errorf("%w: agent %s has %s, price %s",
			ErrInsufficientCapital, buyer.ID, buyer.Capital.StringFixed(2), price.StringFixed(2))
	}

	// 2. Concentration by category.
	if g.MaxPerCategory > 0 && buyer.CountCategory(item.Category) >= g.MaxPerCategory {
		return fmt.Errorf("%w: agent %s holds %d %s items (max %d)",
			ErrHoldingLimitExceeded, buyer.ID, buyer.CountCategory(item.Category), item.Category, g.MaxPerCategory)
	}

	return nil
}
