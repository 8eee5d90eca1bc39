package analytics

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func entry(seq uint64, buyer, seller, item string, status model.SessionStatus, price float64, rounds int) model.LedgerEntry {
	e := model.LedgerEntry{
		Seq:      seq,
		BuyerID:  buyer,
		SellerID: seller,
		ItemID:   item,
		Outcome:  model.OutcomeFor(status),
		Status:   status,
		Rounds:   rounds,
	}
	if status == model.StatusAccepted {
		e.FinalPrice = decimal.NewNullDecimal(d(price))
	}
	return e
}

func TestCompute_Totals(t *testing.T) {
	entries := []model.LedgerEntry{
		entry(1, "a", "b", "ITEM-TOOLS-00000001", model.StatusAccepted, 100, 2),
		entry(2, "b", "a", "ITEM-TOOLS-00000002", model.StatusRejected, 0, 1),
		entry(3, "a", "c", "ITEM-SPORTS-00000003", model.StatusExpired, 0, 5),
		entry(4, "c", "b", "ITEM-TOOLS-00000004", model.StatusAccepted, 200, 4),
	}
	r := Compute(entries, nil)

	tot := r.Totals
	if tot.Negotiations != 4 || tot.Successes != 2 || tot.Rejected != 1 || tot.Expired != 1 {
		t.Errorf("unexpected counts %+v", tot)
	}
	if tot.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", tot.SuccessRate)
	}
	if !tot.Volume.Equal(d(300)) || !tot.AvgPrice.Equal(d(150)) {
		t.Errorf("unexpected volume %s avg %s", tot.Volume, tot.AvgPrice)
	}
	if tot.AvgRounds != 3 {
		t.Errorf("expected avg rounds 3, got %v", tot.AvgRounds)
	}

	if len(r.PriceTrend) != 2 || !r.PriceTrend[1].RunningAvg.Equal(d(150)) {
		t.Errorf("unexpected price trend %+v", r.PriceTrend)
	}
	if _, ok := r.Categories["SPORTS"]; ok {
		t.Error("failed sessions must not contribute category prices")
	}
}

func TestCompute_CategoryStats(t *testing.T) {
	var entries []model.LedgerEntry
	for i, p := range []float64{100, 100, 120, 130} {
		entries = append(entries, entry(uint64(i+1), "a", "b", "ITEM-FURNITURE-0000000a", model.StatusAccepted, p, 1))
	}
	r := Compute(entries, nil)

	s := r.Categories["FURNITURE"]
	if s.Count != 4 || !s.AvgPrice.Equal(d(112.5)) {
		t.Errorf("unexpected stats %+v", s)
	}
	// Population std dev of {100,100,120,130} is ~12.99.
	if !s.StdDev.Equal(d(12.99)) {
		t.Errorf("expected std dev 12.99, got %s", s.StdDev)
	}
	if s.Trend != TrendRising {
		t.Errorf("expected rising trend, got %s", s.Trend)
	}
}

func TestTrend(t *testing.T) {
	cases := []struct {
		prices []float64
		want   string
	}{
		{[]float64{100, 100}, TrendInsufficient},
		{[]float64{100, 100, 101, 102}, TrendStable},
		{[]float64{100, 100, 90, 80}, TrendFalling},
		{[]float64{100, 110, 120}, TrendRising},
	}
	for _, tc := range cases {
		var ds []decimal.Decimal
		for _, p := range tc.prices {
			ds = append(ds, d(p))
		}
		if got := trend(ds); got != tc.want {
			t.Errorf("trend(%v) = %s, want %s", tc.prices, got, tc.want)
		}
	}
}

func TestCompute_AgentsAndLeaderboards(t *testing.T) {
	var agents []*model.Agent
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		a := model.NewAgent(name, name, model.Social, d(float64(100*(i+1))))
		a.TotalProfit = d(float64(60 - 10*i))
		a.TotalSales = 2
		agents = append(agents, a)
	}
	agents[5].GiveItem(model.Holding{Item: model.Item{ID: "ITEM-TOOLS-00000001", Category: "TOOLS"}, CostBasis: d(50)})

	entries := []model.LedgerEntry{
		entry(1, "a", "b", "ITEM-TOOLS-00000001", model.StatusAccepted, 40, 1),
		entry(2, "a", "c", "ITEM-TOOLS-00000002", model.StatusRejected, 0, 1),
	}
	r := Compute(entries, agents)

	if len(r.Agents) != 6 || r.Agents[0].ID != "a" {
		t.Fatalf("unexpected agents %+v", r.Agents)
	}
	if !r.Agents[0].NetCashFlow.Equal(d(-40)) || !r.Agents[1].NetCashFlow.Equal(d(40)) || !r.Agents[2].NetCashFlow.IsZero() {
		t.Errorf("unexpected cash flow: a %s b %s c %s", r.Agents[0].NetCashFlow, r.Agents[1].NetCashFlow, r.Agents[2].NetCashFlow)
	}
	if !r.Agents[0].AvgProfitPerSale.Equal(d(30)) {
		t.Errorf("expected avg profit per sale 30, got %s", r.Agents[0].AvgProfitPerSale)
	}

	if len(r.TopByProfit) != 5 || r.TopByProfit[0].ID != "a" || r.TopByProfit[4].ID != "e" {
		t.Errorf("unexpected profit leaderboard %+v", r.TopByProfit)
	}
	if r.TopByAssets[0].ID != "f" || !r.TopByAssets[0].TotalAssets.Equal(d(650)) {
		t.Errorf("unexpected asset leaderboard head %+v", r.TopByAssets[0])
	}
}

func TestCompute_Empty(t *testing.T) {
	r := Compute(nil, nil)
	if r.Totals.Negotiations != 0 || r.Totals.SuccessRate != 0 || len(r.PriceTrend) != 0 {
		t.Errorf("unexpected empty report %+v", r)
	}
}

func TestSnapshot_RecentWindow(t *testing.T) {
	entries := []model.LedgerEntry{
		entry(1, "a", "b", "ITEM-ELECTRONICS-00000001", model.StatusAccepted, 900, 2),
		entry(2, "a", "b", "ITEM-TOOLS-00000002", model.StatusAccepted, 100, 2),
		entry(3, "a", "b", "ITEM-TOOLS-00000003", model.StatusAccepted, 100, 2),
		entry(4, "b", "a", "ITEM-TOOLS-00000004", model.StatusRejected, 0, 1),
		entry(5, "a", "c", "ITEM-TOOLS-00000005", model.StatusAccepted, 200, 3),
		entry(6, "c", "b", "ITEM-TOOLS-00000006", model.StatusAccepted, 200, 4),
	}
	m := Snapshot(entries, 4)

	avg := m.AvgPrice("TOOLS")
	if !avg.Valid || !avg.Decimal.Equal(d(150)) {
		t.Errorf("expected TOOLS avg 150, got %v", avg)
	}
	if got := m.Trend("TOOLS"); got != TrendRising {
		t.Errorf("expected rising TOOLS trend, got %s", got)
	}
	if m.AvgPrice("ELECTRONICS").Valid {
		t.Error("trades outside the window must not count")
	}
	if got := m.Trend("ELECTRONICS"); got != TrendInsufficient {
		t.Errorf("expected insufficient data, got %s", got)
	}

	if all := Snapshot(entries, 0); all.Categories["ELECTRONICS"].Count != 1 || all.Categories["TOOLS"].Count != 4 {
		t.Errorf("unbounded window: %+v", all.Categories)
	}
	if empty := Snapshot(nil, RecentWindow); len(empty.Categories) != 0 {
		t.Errorf("expected empty snapshot, got %+v", empty)
	}
}
