package config

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "MAX_ROUNDS", "NUM_AGENTS", "INITIAL_CAPITAL", "SIM_SEED", "DATABASE_URL"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "8080" || c.MaxRounds != 5 || c.NumAgents != 10 || c.SimSeed != 42 {
		t.Errorf("unexpected defaults %+v", c)
	}
	if !c.InitialCapital.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected default capital 5000, got %s", c.InitialCapital)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_ROUNDS", "7")
	t.Setenv("INITIAL_CAPITAL", "1234.50")
	t.Setenv("SIM_SEED", "-3")
	t.Setenv("GEMINI_MODEL", "gemini-pro")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "9090" || c.MaxRounds != 7 || c.SimSeed != -3 || c.GeminiModel != "gemini-pro" {
		t.Errorf("overrides not applied: %+v", c)
	}
	if !c.InitialCapital.Equal(decimal.NewFromFloat(1234.5)) {
		t.Errorf("expected capital 1234.50, got %s", c.InitialCapital)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("MAX_ROUNDS", "0")
	t.Setenv("NUM_AGENTS", "many")
	t.Setenv("INITIAL_CAPITAL", "-10")

	_, err := Load()
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}
