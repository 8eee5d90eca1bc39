// Package export writes ledger entries and agent state as CSV for offline
// analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/atmx/agent-market/internal/model"
)

// LedgerHeader is the column order of WriteLedgerCSV.
var LedgerHeader = []string{
	"seq", "session_id", "buyer_id", "seller_id", "item_id",
	"outcome", "status", "final_price", "rounds", "timestamp",
}

// AgentHeader is the column order of WriteAgentsCSV.
var AgentHeader = []string{
	"agent_id", "name", "personality", "capital", "inventory_count",
	"inventory_value", "total_sales", "total_purchases", "total_profit", "total_assets",
}

// WriteLedgerCSV writes a header and one row per entry. A failed
// negotiation has an empty final_price.
func WriteLedgerCSV(w io.Writer, entries []model.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return fmt.Errorf("export: ledger header: %w", err)
	}
	for _, e := range entries {
		price := ""
		if e.FinalPrice.Valid {
			price = e.FinalPrice.Decimal.StringFixed(2)
		}
		row := []string{
			strconv.FormatUint(e.Seq, 10),
			e.SessionID,
			e.BuyerID,
			e.SellerID,
			e.ItemID,
			string(e.Outcome),
			string(e.Status),
			price,
			strconv.Itoa(e.Rounds),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: ledger row %d: %w", e.Seq, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAgentsCSV writes a header and one row per agent.
func WriteAgentsCSV(w io.Writer, agents []*model.Agent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AgentHeader); err != nil {
		return fmt.Errorf("export: agent header: %w", err)
	}
	for _, a := range agents {
		row := []string{
			a.ID,
			a.Name,
			string(a.Personality),
			a.Capital.StringFixed(2),
			strconv.Itoa(len(a.Inventory)),
			a.InventoryValue().StringFixed(2),
			strconv.Itoa(a.TotalSales),
			strconv.Itoa(a.TotalPurchases),
			a.TotalProfit.StringFixed(2),
			a.TotalAssets().StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: agent row %s: %w", a.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
