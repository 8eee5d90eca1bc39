package guard

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func buyerWith(capital float64, categories ...string) *model.Agent {
	a := model.NewAgent("buyer", "Buyer", model.Conservative, d(capital))
	for i, c := range categories {
		a.GiveItem(model.Holding{
			Item:      model.Item{ID: c + string(rune('a'+i)), Category: c},
			CostBasis: d(10),
		})
	}
	return a
}

func TestCheck_WithinLimits(t *testing.T) {
	g := NewCommitGuard(2)
	err := g.Check(buyerWith(100, "TOOLS"), model.Item{Category: "TOOLS"}, d(100))
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestCheck_InsufficientCapital(t *testing.T) {
	g := NewCommitGuard(0)
	err := g.Check(buyerWith(50), model.Item{Category: "TOOLS"}, d(50.01))
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Errorf("expected ErrInsufficientCapital, got %v", err)
	}
}

func TestCheck_HoldingLimit(t *testing.T) {
	g := NewCommitGuard(2)
	buyer := buyerWith(1000, "TOOLS", "TOOLS", "SPORTS")

	err := g.Check(buyer, model.Item{Category: "TOOLS"}, d(10))
	if !errors.Is(err, ErrHoldingLimitExceeded) {
		t.Errorf("expected ErrHoldingLimitExceeded, got %v", err)
	}

	// A different category is unaffected.
	if err := g.Check(buyer, model.Item{Category: "SPORTS"}, d(10)); err != nil {
		t.Errorf("expected nil for SPORTS, got %v", err)
	}
}

func TestCheck_ZeroLimitDisabled(t *testing.T) {
	g := NewCommitGuard(-3)
	buyer := buyerWith(1000, "TOOLS", "TOOLS", "TOOLS")
	if err := g.Check(buyer, model.Item{Category: "TOOLS"}, d(10)); err != nil {
		t.Errorf("expected no holding limit, got %v", err)
	}
}

func TestCheck_DoesNotMutate(t *testing.T) {
	g := NewCommitGuard(1)
	buyer := buyerWith(10, "TOOLS")
	g.Check(buyer, model.Item{Category: "TOOLS"}, d(100))
	if !buyer.Capital.Equal(d(10)) || len(buyer.Inventory) != 1 {
		t.Errorf("guard mutated buyer: %+v", buyer)
	}
}
