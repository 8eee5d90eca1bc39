package policy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/model"
)

// minBargain is the lowest ratio of a buyer's limit to the asking price
// worth opening a negotiation over.
const minBargain = 0.6

// trendShift moves a valuation with a category's recent trend.
const trendShift = 0.05

// Listing is an item put up for sale at an asking price, with the lowest
// price its seller will take.
type Listing struct {
	SellerID  string          `json:"seller_id"`
	Item      model.Item      `json:"item"`
	CostBasis decimal.Decimal `json:"-"`
	Asking    decimal.Decimal `json:"asking_price"`
	Floor     decimal.Decimal `json:"-"`
}

// baseTraits returns the personality's traits with the specialist premium
// applied for its own category. Mood and memory do not apply when listing.
func baseTraits(self AgentView, category string) traits {
	t, ok := traitTable[self.Personality]
	if !ok {
		t = traitTable[model.Conservative]
	}
	if self.Personality == model.Specialist && self.CountCategory(category) >= 2 {
		t.markup += 0.20
		t.minMargin = 0.20
		t.maxPay += 0.10
	}
	return t
}

// marketValue blends an item's reference value with the recent category
// average and leans with the trend.
func marketValue(item model.Item, m analytics.MarketSnapshot) decimal.Decimal {
	v := item.ReferenceValue
	if avg := m.AvgPrice(item.Category); avg.Valid {
		v = midpoint(v, avg.Decimal)
	}
	switch m.Trend(item.Category) {
	case analytics.TrendRising:
		v = scale(v, 1+trendShift)
	case analytics.TrendFalling:
		v = scale(v, 1-trendShift)
	}
	return v
}

// PriceListing decides the asking price and floor a seller lists h at.
// The floor never exceeds the asking price.
func PriceListing(self AgentView, h model.Holding, m analytics.MarketSnapshot) Listing {
	t := baseTraits(self, h.Item.Category)
	floor := money(scale(h.CostBasis, 1+t.minMargin))
	asking := money(scale(decimal.Max(marketValue(h.Item, m), h.CostBasis), 1+t.markup))
	return Listing{
		SellerID:  self.ID,
		Item:      h.Item,
		CostBasis: h.CostBasis,
		Asking:    decimal.Max(asking, floor),
		Floor:     floor,
	}
}

// ChooseListing picks the listing self most wants to negotiate for: the one
// whose asking price leaves the most room under what self would pay. Own listings,
// items self already holds, and listings priced far beyond reach are
// skipped. Ties go to the lower item ID.
func ChooseListing(self AgentView, listings []Listing, m analytics.MarketSnapshot) (Listing, bool) {
	type candidate struct {
		l     Listing
		score decimal.Decimal
	}
	held := make(map[string]bool, len(self.Inventory))
	for _, h := range self.Inventory {
		held[h.Item.ID] = true
	}

	var cands []candidate
	for _, l := range listings {
		if l.SellerID == self.ID || held[l.Item.ID] || !l.Asking.IsPositive() {
			continue
		}
		t := baseTraits(self, l.Item.Category)
		limit := decimal.Min(scale(marketValue(l.Item, m), t.maxPay), self.Capital)
		if limit.LessThan(minPrice) {
			continue
		}
		score := limit.Div(l.Asking)
		if score.LessThan(decimal.NewFromFloat(minBargain)) {
			continue
		}
		cands = append(cands, candidate{l: l, score: score})
	}
	if len(cands) == 0 {
		return Listing{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].score.Equal(cands[j].score) {
			return cands[i].score.GreaterThan(cands[j].score)
		}
		return cands[i].l.Item.ID < cands[j].l.Item.ID
	})
	return cands[0].l, true
}
