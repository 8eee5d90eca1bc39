package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		MaxRounds:      5,
		NumAgents:      4,
		InitialCapital: decimal.NewFromInt(5000),
		InventorySize:  3,
		SimConcurrency: 2,
		SimSeed:        42,
	}
}

func TestNew_InMemory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Roster.Len() != 4 {
		t.Fatalf("expected 4 seeded agents, got %d", a.Roster.Len())
	}
	if _, err := a.Runner.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Ledger.Len() == 0 {
		t.Error("expected ledger entries after a cycle")
	}
}

func TestPopulate_ResumesFromSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "market.db")

	first, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Runner.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	seq := first.Ledger.Len()
	first.Close()

	second, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if err := second.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Roster.Len() != 4 {
		t.Errorf("expected 4 loaded agents, got %d", second.Roster.Len())
	}
	if second.Ledger.Len() != seq {
		t.Errorf("ledger did not resume: %d vs %d", second.Ledger.Len(), seq)
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "not a url"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for invalid REDIS_URL")
	}
}
