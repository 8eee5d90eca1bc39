package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeCapital is returned when a debit would leave capital below zero.
	ErrNegativeCapital = errors.New("model: capital cannot go negative")

	// ErrItemNotHeld is returned when an agent does not own the item.
	ErrItemNotHeld = errors.New("model: item not in inventory")

	// ErrItemAlreadyHeld is returned when an agent is given an item it already owns.
	ErrItemAlreadyHeld = errors.New("model: item already in inventory")
)

// Agent is a simulated trader. Agent carries no synchronization of its own;
// callers sharing an agent across goroutines must serialize access.
type Agent struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Personality    Personality        `json:"personality"`
	Capital        decimal.Decimal    `json:"capital"`
	Inventory      map[string]Holding `json:"inventory"` // item ID → holding
	TotalSales     int                `json:"total_sales"`
	TotalPurchases int                `json:"total_purchases"`
	TotalProfit    decimal.Decimal    `json:"total_profit"` // seller-side realized profit
}

// NewAgent creates an agent with an empty inventory.
func NewAgent(id, name string, p Personality, capital decimal.Decimal) *Agent {
	return &Agent{
		ID:          id,
		Name:        name,
		Personality: p,
		Capital:     capital,
		Inventory:   make(map[string]Holding),
	}
}

// Owns reports whether the agent holds the item.
func (a *Agent) Owns(itemID string) bool {
	_, ok := a.Inventory[itemID]
	return ok
}

// Holding returns the holding for itemID.
func (a *Agent) Holding(itemID string) (Holding, bool) {
	h, ok := a.Inventory[itemID]
	return h, ok
}

// CanAfford reports whether paying price keeps capital non-negative.
func (a *Agent) CanAfford(price decimal.Decimal) bool {
	return a.Capital.GreaterThanOrEqual(price)
}

// Debit removes price from capital.
func (a *Agent) Debit(price decimal.Decimal) error {
	if !a.CanAfford(price) {
		return fmt.Errorf("%w: agent %s has %s, needs %s",
			ErrNegativeCapital, a.ID, a.Capital.String(), price.String())
	}
	a.Capital = a.Capital.Sub(price)
	return nil
}

// Credit adds price to capital.
func (a *Agent) Credit(price decimal.Decimal) {
	a.Capital = a.Capital.Add(price)
}

// TakeItem removes the item from inventory and returns its holding.
func (a *Agent) TakeItem(itemID string) (Holding, error) {
	h, ok := a.Inventory[itemID]
	if !ok {
		return Holding{}, fmt.Errorf("%w: %s (agent %s)", ErrItemNotHeld, itemID, a.ID)
	}
	delete(a.Inventory, itemID)
	return h, nil
}

// GiveItem adds a holding to inventory.
func (a *Agent) GiveItem(h Holding) error {
	if a.Inventory == nil {
		a.Inventory = make(map[string]Holding)
	}
	if _, ok := a.Inventory[h.Item.ID]; ok {
		return fmt.Errorf("%w: %s (agent %s)", ErrItemAlreadyHeld, h.Item.ID, a.ID)
	}
	a.Inventory[h.Item.ID] = h
	return nil
}

// Items returns holdings ordered by item ID.
func (a *Agent) Items() []Holding {
	out := make([]Holding, 0, len(a.Inventory))
	for _, h := range a.Inventory {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ID < out[j].Item.ID })
	return out
}

// CountCategory returns how many held items belong to category.
func (a *Agent) CountCategory(category string) int {
	n := 0
	for _, h := range a.Inventory {
		if h.Item.Category == category {
			n++
		}
	}
	return n
}

// InventoryValue sums cost basis across holdings.
func (a *Agent) InventoryValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range a.Inventory {
		total = total.Add(h.CostBasis)
	}
	return total
}

// TotalAssets is capital plus inventory value.
func (a *Agent) TotalAssets() decimal.Decimal {
	return a.Capital.Add(a.InventoryValue())
}

// Clone returns a deep copy safe to hand to other goroutines.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Inventory = make(map[string]Holding, len(a.Inventory))
	for id, h := range a.Inventory {
		c.Inventory[id] = h
	}
	return &c
}
