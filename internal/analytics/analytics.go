// Package analytics computes run-level statistics from the ledger and agent
// snapshots: success rates, category price stability and trend, and agent
// profitability.
//
// Analytics only reads. Rejected and Expired sessions contribute zero cash
// flow; the success-rate breakdown still counts them separately.
package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/catalog"
	"github.com/atmx/agent-market/internal/model"
)

// Trend labels for category prices.
const (
	TrendRising       = "rising"
	TrendFalling      = "falling"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// trendThreshold is the relative change between the first-half and
// second-half average that counts as a trend.
var trendThreshold = decimal.NewFromFloat(0.05)

// topN is the length of the leaderboards.
const topN = 5

type Totals struct {
	Negotiations int             `json:"negotiations"`
	Successes    int             `json:"successes"`
	Rejected     int             `json:"rejected"`
	Expired      int             `json:"expired"`
	SuccessRate  float64         `json:"success_rate"`
	Volume       decimal.Decimal `json:"volume"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	AvgRounds    float64         `json:"avg_rounds"`
}

type CategoryStats struct {
	Count       int             `json:"count"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	StdDev      decimal.Decimal `json:"std_dev"`
	VariancePct float64         `json:"variance_pct"`
	Trend       string          `json:"trend"`
}

type AgentPerformance struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Personality      model.Personality `json:"personality"`
	Capital          decimal.Decimal   `json:"capital"`
	InventoryCount   int               `json:"inventory_count"`
	InventoryValue   decimal.Decimal   `json:"inventory_value"`
	TotalAssets      decimal.Decimal   `json:"total_assets"`
	TotalSales       int               `json:"total_sales"`
	TotalPurchases   int               `json:"total_purchases"`
	TotalProfit      decimal.Decimal   `json:"total_profit"`
	AvgProfitPerSale decimal.Decimal   `json:"avg_profit_per_sale"`
	// NetCashFlow is received minus paid across successful ledger entries.
	NetCashFlow decimal.Decimal `json:"net_cash_flow"`
}

// TrendPoint is one successful trade in ledger order with the running
// average agreed price up to and including it.
type TrendPoint struct {
	Seq        uint64          `json:"seq"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	RunningAvg decimal.Decimal `json:"running_avg"`
}

type Report struct {
	Totals      Totals                   `json:"totals"`
	Categories  map[string]CategoryStats `json:"categories"`
	Agents      []AgentPerformance       `json:"agents"`
	TopByProfit []AgentPerformance       `json:"top_by_profit"`
	TopByAssets []AgentPerformance       `json:"top_by_assets"`
	PriceTrend  []TrendPoint             `json:"price_trend"`
}

// Compute builds a report. entries must be in ledger order.
func Compute(entries []model.LedgerEntry, agents []*model.Agent) Report {
	r := Report{
		Categories:  make(map[string]CategoryStats),
		Agents:      []AgentPerformance{},
		TopByProfit: []AgentPerformance{},
		TopByAssets: []AgentPerformance{},
		PriceTrend:  []TrendPoint{},
	}

	byCategory := make(map[string][]decimal.Decimal)
	cash := make(map[string]decimal.Decimal)
	rounds := 0
	running := decimal.Zero

	for _, e := range entries {
		r.Totals.Negotiations++
		rounds += e.Rounds

		switch e.Status {
		case model.StatusRejected:
			r.Totals.Rejected++
		case model.StatusExpired:
			r.Totals.Expired++
		}
		if e.Outcome != model.OutcomeSuccess || !e.FinalPrice.Valid {
			continue
		}

		price := e.FinalPrice.Decimal
		r.Totals.Successes++
		r.Totals.Volume = r.Totals.Volume.Add(price)
		cash[e.SellerID] = cash[e.SellerID].Add(price)
		cash[e.BuyerID] = cash[e.BuyerID].Sub(price)

		cat, err := catalog.ParseItemID(e.ItemID)
		if err != nil {
			cat = "UNKNOWN"
		}
		byCategory[cat] = append(byCategory[cat], price)

		running = running.Add(price)
		r.PriceTrend = append(r.PriceTrend, TrendPoint{
			Seq:        e.Seq,
			Category:   cat,
			Price:      price,
			RunningAvg: running.Div(decimal.NewFromInt(int64(r.Totals.Successes))).Round(2),
		})
	}

	if r.Totals.Negotiations > 0 {
		r.Totals.SuccessRate = float64(r.Totals.Successes) / float64(r.Totals.Negotiations)
		r.Totals.AvgRounds = float64(rounds) / float64(r.Totals.Negotiations)
	}
	if r.Totals.Successes > 0 {
		r.Totals.AvgPrice = r.Totals.Volume.Div(decimal.NewFromInt(int64(r.Totals.Successes))).Round(2)
	}

	for cat, prices := range byCategory {
		r.Categories[cat] = categoryStats(prices)
	}

	for _, a := range agents {
		r.Agents = append(r.Agents, performance(a, cash[a.ID]))
	}
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].ID < r.Agents[j].ID })

	r.TopByProfit = top(r.Agents, func(a AgentPerformance) decimal.Decimal { return a.TotalProfit })
	r.TopByAssets = top(r.Agents, func(a AgentPerformance) decimal.Decimal { return a.TotalAssets })
	return r
}

func categoryStats(prices []decimal.Decimal) CategoryStats {
	n := decimal.NewFromInt(int64(len(prices)))
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	avg := sum.Div(n)

	variance := decimal.Zero
	for _, p := range prices {
		diff := p.Sub(avg)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(n)
	std := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))

	s := CategoryStats{
		Count:    len(prices),
		AvgPrice: avg.Round(2),
		StdDev:   std.Round(2),
		Trend:    trend(prices),
	}
	if avg.IsPositive() {
		s.VariancePct = std.Div(avg).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return s
}

// trend compares the average of the first half of prices with the second.
func trend(prices []decimal.Decimal) string {
	if len(prices) < 3 {
		return TrendInsufficient
	}
	mid := len(prices) / 2
	first, second := mean(prices[:mid]), mean(prices[mid:])
	if !first.IsPositive() {
		return TrendStable
	}
	change := second.Sub(first).Div(first)
	switch {
	case change.GreaterThan(trendThreshold):
		return TrendRising
	case change.LessThan(trendThreshold.Neg()):
		return TrendFalling
	}
	return TrendStable
}

func mean(ds []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range ds {
		sum = sum.Add(d)
	}
	return sum.Div(decimal.NewFromInt(int64(len(ds))))
}

func performance(a *model.Agent, cash decimal.Decimal) AgentPerformance {
	p := AgentPerformance{
		ID:             a.ID,
		Name:           a.Name,
		Personality:    a.Personality,
		Capital:        a.Capital,
		InventoryCount: len(a.Inventory),
		InventoryValue: a.InventoryValue(),
		TotalAssets:    a.TotalAssets(),
		TotalSales:     a.TotalSales,
		TotalPurchases: a.TotalPurchases,
		TotalProfit:    a.TotalProfit,
		NetCashFlow:    cash,
	}
	if a.TotalSales > 0 {
		p.AvgProfitPerSale = a.TotalProfit.Div(decimal.NewFromInt(int64(a.TotalSales))).Round(2)
	}
	return p
}

// top returns up to topN agents ordered by key, descending, ties by ID.
func top(agents []AgentPerformance, key func(AgentPerformance) decimal.Decimal) []AgentPerformance {
	sorted := make([]AgentPerformance, len(agents))
	copy(sorted, agents)
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i]).GreaterThan(key(sorted[j]))
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

// RecentWindow is how many of the latest successful trades a market
// snapshot covers.
const RecentWindow = 20

// MarketSnapshot is the recent price picture agents consult when listing
// and browsing.
type MarketSnapshot struct {
	ActiveListings int                      `json:"active_listings"`
	Categories     map[string]CategoryStats `json:"categories"`
}

// Snapshot summarizes the last window successful trades in entries, which
// must be in ledger order. A non-positive window covers every trade.
func Snapshot(entries []model.LedgerEntry, window int) MarketSnapshot {
	var recent []model.LedgerEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if window > 0 && len(recent) == window {
			break
		}
		if e := entries[i]; e.Outcome == model.OutcomeSuccess && e.FinalPrice.Valid {
			recent = append(recent, e)
		}
	}

	byCategory := make(map[string][]decimal.Decimal)
	for i := len(recent) - 1; i >= 0; i-- {
		cat, err := catalog.ParseItemID(recent[i].ItemID)
		if err != nil {
			cat = "UNKNOWN"
		}
		byCategory[cat] = append(byCategory[cat], recent[i].FinalPrice.Decimal)
	}

	m := MarketSnapshot{Categories: make(map[string]CategoryStats, len(byCategory))}
	for cat, prices := range byCategory {
		m.Categories[cat] = categoryStats(prices)
	}
	return m
}

// AvgPrice returns the recent average price in category, if any traded.
func (m MarketSnapshot) AvgPrice(category string) decimal.NullDecimal {
	s, ok := m.Categories[category]
	if !ok || s.Count == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(s.AvgPrice)
}

// Trend returns the recent price trend in category.
func (m MarketSnapshot) Trend(category string) string {
	if s, ok := m.Categories[category]; ok {
		return s.Trend
	}
	return TrendInsufficient
}
