// Package catalog defines the product categories traded in the marketplace,
// item ID parsing and validation, and the draws used to seed inventories.
package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

// Supported product categories.
const (
	CategoryElectronics  = "ELECTRONICS"
	CategoryFurniture    = "FURNITURE"
	CategoryCollectibles = "COLLECTIBLES"
	CategoryAppliances   = "APPLIANCES"
	CategoryTools        = "TOOLS"
	CategorySports       = "SPORTS"
)

// baseValues is the base market value per category.
var baseValues = map[string]decimal.Decimal{
	CategoryElectronics:  decimal.NewFromInt(1000),
	CategoryFurniture:    decimal.NewFromInt(500),
	CategoryCollectibles: decimal.NewFromInt(800),
	CategoryAppliances:   decimal.NewFromInt(600),
	CategoryTools:        decimal.NewFromInt(400),
	CategorySports:       decimal.NewFromInt(300),
}

var productNames = map[string][]string{
	CategoryElectronics:  {"Laptop", "Headphones", "Camera", "Tablet"},
	CategoryFurniture:    {"Desk", "Armchair", "Bookshelf", "Lamp"},
	CategoryCollectibles: {"Vintage Watch", "Comic Book", "Trading Card", "Coin Set"},
	CategoryAppliances:   {"Blender", "Microwave", "Espresso Machine", "Vacuum"},
	CategoryTools:        {"Drill", "Toolbox", "Circular Saw", "Wrench Set"},
	CategorySports:       {"Bicycle", "Tennis Racket", "Kayak Paddle", "Skateboard"},
}

// itemIDRegex matches: ITEM-{CATEGORY}-{8 hex}
// Example: ITEM-FURNITURE-3f9a01bc
var itemIDRegex = regexp.MustCompile(`^ITEM-([A-Z]+)-([0-9a-f]{8})$`)

var (
	ErrInvalidItemID   = errors.New("catalog: invalid item id format")
	ErrUnknownCategory = errors.New("catalog: unsupported category")
)

var (
	// MinCostFraction and MaxCostFraction bound acquisition cost relative to
	// the reference value.
	MinCostFraction = decimal.NewFromFloat(0.5)
	MaxCostFraction = decimal.NewFromInt(1)

	// ReferenceJitter is the maximum relative deviation of an item's
	// reference value from its category base.
	ReferenceJitter = 0.10
)

// Categories returns the supported categories in sorted order.
func Categories() []string {
	out := make([]string, 0, len(baseValues))
	for c := range baseValues {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// BaseValue returns the base market value of a category.
func BaseValue(category string) (decimal.Decimal, error) {
	v, ok := baseValues[category]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return v, nil
}

// ParseItemID validates an item ID and returns its category.
// Format: ITEM-{CATEGORY}-{8 hex}
func ParseItemID(id string) (string, error) {
	matches := itemIDRegex.FindStringSubmatch(id)
	if matches == nil {
		return "", fmt.Errorf("%w: %s (expected ITEM-{category}-{8 hex})", ErrInvalidItemID, id)
	}
	category := matches[1]
	if _, ok := baseValues[category]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return category, nil
}

// NewItemID generates a fresh ID for an item of the given category.
func NewItemID(category string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("ITEM-%s-%s", category, hex[:8])
}

// NewItem creates an item of the given category with a reference value
// jittered around the category base. The name is drawn from the category's
// product list when empty.
func NewItem(category, name string, rng *rand.Rand) (model.Item, error) {
	base, err := BaseValue(category)
	if err != nil {
		return model.Item{}, err
	}
	if name == "" {
		names := productNames[category]
		name = names[rng.IntN(len(names))]
	}
	jitter := 1 + (rng.Float64()*2-1)*ReferenceJitter
	ref := base.Mul(decimal.NewFromFloat(jitter)).Round(2)

	return model.Item{
		ID:             NewItemID(category),
		Name:           name,
		Category:       category,
		ReferenceValue: ref,
	}, nil
}

// CostBasis draws an acquisition cost in [50%, 100%] of the item's
// reference value.
func CostBasis(item model.Item, rng *rand.Rand) decimal.Decimal {
	span := MaxCostFraction.Sub(MinCostFraction)
	frac := MinCostFraction.Add(span.Mul(decimal.NewFromFloat(rng.Float64())))
	cost := item.ReferenceValue.Mul(frac).Round(2)
	if cost.LessThan(item.ReferenceValue.Mul(MinCostFraction)) {
		cost = item.ReferenceValue.Mul(MinCostFraction).Round(2)
	}
	return cost
}

// RandomHolding draws a random category, product, and cost basis.
func RandomHolding(rng *rand.Rand) (model.Holding, error) {
	cats := Categories()
	item, err := NewItem(cats[rng.IntN(len(cats))], "", rng)
	if err != nil {
		return model.Holding{}, err
	}
	return model.Holding{Item: item, CostBasis: CostBasis(item, rng)}, nil
}
