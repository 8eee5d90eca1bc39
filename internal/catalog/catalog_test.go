package catalog

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func TestParseItemID_Valid(t *testing.T) {
	cat, err := ParseItemID("ITEM-FURNITURE-3f9a01bc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat != CategoryFurniture {
		t.Errorf("expected category=FURNITURE, got %s", cat)
	}
}

func TestParseItemID_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"ITEM",
		"ITEM-FURNITURE",
		"ITEM-FURNITURE-3f9a01b",   // too short
		"ITEM-FURNITURE-3F9A01BC",  // upper-case hex
		"ITEM-furniture-3f9a01bc",  // lower-case category
		"GOOD-FURNITURE-3f9a01bc",  // wrong prefix
		"ITEM-FURNITURE-3f9a01bc0", // too long
	}
	for _, id := range tests {
		if _, err := ParseItemID(id); !errors.Is(err, ErrInvalidItemID) {
			t.Errorf("expected ErrInvalidItemID for %q, got %v", id, err)
		}
	}
}

func TestParseItemID_UnknownCategory(t *testing.T) {
	_, err := ParseItemID("ITEM-GROCERIES-3f9a01bc")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestNewItemID_RoundTrips(t *testing.T) {
	for _, c := range Categories() {
		id := NewItemID(c)
		got, err := ParseItemID(id)
		if err != nil {
			t.Fatalf("generated id %q does not parse: %v", id, err)
		}
		if got != c {
			t.Errorf("category = %s, want %s", got, c)
		}
	}
}

func TestNewItem_ReferenceWithinJitter(t *testing.T) {
	rng := testRNG()
	for i := 0; i < 200; i++ {
		item, err := NewItem(CategoryElectronics, "", rng)
		if err != nil {
			t.Fatalf("new item: %v", err)
		}
		if item.ReferenceValue.LessThan(d(900)) || item.ReferenceValue.GreaterThan(d(1100)) {
			t.Errorf("reference %s outside ±10%% of 1000", item.ReferenceValue)
		}
		if item.Name == "" {
			t.Error("expected a product name")
		}
	}
}

func TestNewItem_UnknownCategory(t *testing.T) {
	if _, err := NewItem("GROCERIES", "milk", testRNG()); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestCostBasis_Bounds(t *testing.T) {
	rng := testRNG()
	item, _ := NewItem(CategoryTools, "Drill", rng)
	low := item.ReferenceValue.Mul(MinCostFraction)
	for i := 0; i < 500; i++ {
		c := CostBasis(item, rng)
		if c.LessThan(low.Round(2)) || c.GreaterThan(item.ReferenceValue) {
			t.Fatalf("cost basis %s outside [%s, %s]", c, low, item.ReferenceValue)
		}
	}
}

func TestBaseValue(t *testing.T) {
	v, err := BaseValue(CategorySports)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(d(300)) {
		t.Errorf("expected 300, got %s", v)
	}
}
