package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/model"
)

func toolsMarket(avg float64, trend string) analytics.MarketSnapshot {
	return analytics.MarketSnapshot{Categories: map[string]analytics.CategoryStats{
		"TOOLS": {Count: 4, AvgPrice: d(avg), Trend: trend},
	}}
}

func TestPriceListing(t *testing.T) {
	self := AgentView{ID: "seller", Personality: model.Conservative}
	h := model.Holding{Item: item(), CostBasis: d(300)}

	l := PriceListing(self, h, analytics.MarketSnapshot{})
	if !l.Asking.Equal(d(480)) || !l.Floor.Equal(d(336)) || l.SellerID != "seller" {
		t.Errorf("no market data: %+v", l)
	}

	l = PriceListing(self, h, toolsMarket(500, analytics.TrendRising))
	if !l.Asking.Equal(d(567)) || !l.Floor.Equal(d(336)) {
		t.Errorf("rising market: asking %s floor %s", l.Asking, l.Floor)
	}

	h.CostBasis = d(1000)
	l = PriceListing(AgentView{ID: "seller", Personality: model.AggressiveTrader}, h, analytics.MarketSnapshot{})
	if l.Floor.GreaterThan(l.Asking) || !l.Floor.Equal(d(1100)) {
		t.Errorf("underwater item: asking %s floor %s", l.Asking, l.Floor)
	}
}

func TestChooseListing(t *testing.T) {
	listing := func(id, seller string, asking float64) Listing {
		it := item()
		it.ID = id
		return Listing{SellerID: seller, Item: it, Asking: d(asking), Floor: d(1)}
	}
	self := AgentView{
		ID:          "buyer",
		Personality: model.Conservative,
		Capital:     d(1000),
		Inventory:   []model.Holding{{Item: model.Item{ID: "ITEM-TOOLS-000000ff", Category: "TOOLS"}}},
	}
	listings := []Listing{
		listing("ITEM-TOOLS-00000001", "buyer", 10),
		listing("ITEM-TOOLS-000000ff", "x", 10),
		listing("ITEM-TOOLS-0000000a", "x", 480),
		listing("ITEM-TOOLS-0000000b", "y", 420),
		listing("ITEM-TOOLS-0000000c", "z", 1000),
	}

	got, ok := ChooseListing(self, listings, analytics.MarketSnapshot{})
	if !ok || got.Item.ID != "ITEM-TOOLS-0000000b" {
		t.Errorf("expected the best bargain, got %+v (%v)", got, ok)
	}

	self.Capital = d(100)
	if got, ok := ChooseListing(self, listings, analytics.MarketSnapshot{}); ok {
		t.Errorf("expected nothing within reach, got %+v", got)
	}

	if _, ok := ChooseListing(self, nil, analytics.MarketSnapshot{}); ok {
		t.Error("expected no choice from no listings")
	}
}

func TestRuleBased_SellerHoldsListedFloor(t *testing.T) {
	p := NewRuleBased(1)

	c := sellerCtx(model.Conservative, 380, 5)
	if got, _ := p.Decide(context.Background(), c); got.Action == ActionReject {
		t.Fatalf("without a listing the bid is still in range, got %+v", got)
	}

	c.Asking = decimal.NewNullDecimal(d(480))
	c.Floor = decimal.NewNullDecimal(d(390))
	if got, _ := p.Decide(context.Background(), c); got.Action != ActionReject {
		t.Errorf("expected a bid under the listed floor to be rejected late, got %+v", got)
	}
}

func TestRuleBased_BuyerNeverPaysOverAsking(t *testing.T) {
	p := NewRuleBased(1)
	ask := model.Offer{ProposerID: "seller", Price: d(430), Round: 5}

	c := buyerCtx(model.Social, 1000)
	c.Round = 5
	c.History = []model.Offer{ask}
	c.Pending = &ask
	if got, _ := p.Decide(context.Background(), c); got.Action != ActionAccept {
		t.Fatalf("expected accept without a listing, got %+v", got)
	}

	c.Asking = decimal.NewNullDecimal(d(400))
	if got, _ := p.Decide(context.Background(), c); got.Action == ActionAccept {
		t.Errorf("accepted %s over the listed price", ask.Price)
	}
}

func TestRuleBased_BuyerAnchorsOnMarket(t *testing.T) {
	p := NewRuleBased(1)

	c := buyerCtx(model.Conservative, 1000)
	plain, _ := p.Decide(context.Background(), c)

	c.Market = toolsMarket(200, analytics.TrendFalling)
	market, _ := p.Decide(context.Background(), c)

	if !plain.Price.Equal(d(300)) || !market.Price.Equal(d(213.75)) {
		t.Errorf("expected openings 300 and 213.75, got %s and %s", plain.Price, market.Price)
	}
}

func TestBuildPrompt_ListingAndMarket(t *testing.T) {
	c := sellerCtx(model.Conservative, 380, 2)
	c.Asking = decimal.NewNullDecimal(d(480))
	c.Floor = decimal.NewNullDecimal(d(336))
	c.Market = toolsMarket(410, analytics.TrendStable)

	got := buildPrompt(c)
	for _, want := range []string{"Listed at: $480.00", "minimum acceptable price: $336.00", "Recent TOOLS average: $410.00, trend stable"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	if got := buildPrompt(buyerCtx(model.Conservative, 100)); !strings.Contains(got, "No recent market data for TOOLS") || strings.Contains(got, "minimum acceptable") {
		t.Errorf("unexpected buyer prompt:\n%s", got)
	}
}
