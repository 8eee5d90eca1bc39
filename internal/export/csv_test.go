package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

func TestWriteLedgerCSV(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	entries := []model.LedgerEntry{
		{
			Seq: 1, SessionID: "s1", BuyerID: "a", SellerID: "b", ItemID: "ITEM-TOOLS-00000001",
			Outcome: model.OutcomeSuccess, Status: model.StatusAccepted,
			FinalPrice: decimal.NewNullDecimal(decimal.NewFromFloat(80.5)), Rounds: 2, Timestamp: ts,
		},
		{
			Seq: 2, SessionID: "s2", BuyerID: "b", SellerID: "a", ItemID: "ITEM-TOOLS-00000002",
			Outcome: model.OutcomeFailure, Status: model.StatusExpired, Rounds: 5, Timestamp: ts,
		},
	}

	var buf bytes.Buffer
	if err := WriteLedgerCSV(&buf, entries); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "seq" || rows[0][9] != "timestamp" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][7] != "80.50" || rows[1][6] != "ACCEPTED" || rows[1][9] != "2026-03-01T12:00:00.0000005Z" {
		t.Errorf("unexpected success row %v", rows[1])
	}
	if rows[2][7] != "" || rows[2][8] != "5" {
		t.Errorf("unexpected failure row %v", rows[2])
	}
}

func TestWriteAgentsCSV(t *testing.T) {
	a := model.NewAgent("agent-1", "Alice", model.DataDriven, decimal.NewFromInt(500))
	a.GiveItem(model.Holding{Item: model.Item{ID: "ITEM-TOOLS-00000001"}, CostBasis: decimal.NewFromInt(120)})
	a.TotalSales = 3

	var buf bytes.Buffer
	if err := WriteAgentsCSV(&buf, []*model.Agent{a}); err != nil {
		t.Fatal(err)
	}
	rows, _ := csv.NewReader(&buf).ReadAll()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := []string{"agent-1", "Alice", "Data_Driven", "500.00", "1", "120.00", "3", "0", "0.00", "620.00"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Errorf("column %s: got %q, want %q", AgentHeader[i], rows[1][i], v)
		}
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteLedgerCSV_WriterError(t *testing.T) {
	if err := WriteLedgerCSV(failWriter{}, nil); err == nil {
		t.Error("expected error from failing writer")
	}
}
