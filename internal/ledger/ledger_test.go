package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func entry(buyer, seller string, price float64) *model.LedgerEntry {
	e := &model.LedgerEntry{
		SessionID: "s",
		BuyerID:   buyer,
		SellerID:  seller,
		ItemID:    "ITEM-TOOLS-0000000a",
		Outcome:   model.OutcomeFailure,
		Status:    model.StatusRejected,
		Rounds:    1,
		Timestamp: time.Now().UTC(),
	}
	if price > 0 {
		e.Outcome = model.OutcomeSuccess
		e.Status = model.StatusAccepted
		e.FinalPrice = decimal.NewNullDecimal(d(price))
	}
	return e
}

// failingStore fails inserts while fail is set.
type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (f *failingStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.InsertLedgerEntry(ctx, e)
}

func TestAppend_AssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, store.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}

	for want := uint64(1); want <= 3; want++ {
		e := entry("b", "s", 10)
		got, err := l.Append(ctx, e)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if got != want || e.Seq != want {
			t.Errorf("expected seq %d, got %d (entry %d)", want, got, e.Seq)
		}
	}
	if l.Len() != 3 {
		t.Errorf("expected len 3, got %d", l.Len())
	}
}

func TestAppend_FailureConsumesNoSeq(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	l, _ := Open(ctx, fs)

	l.Append(ctx, entry("b", "s", 0))

	fs.fail = true
	if _, err := l.Append(ctx, entry("b", "s", 0)); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}

	fs.fail = false
	seq, err := l.Append(ctx, entry("b", "s", 0))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("expected seq 2 after failed append, got %d", seq)
	}

	all, _ := l.ReadAll(ctx)
	for i, e := range all {
		if e.Seq != uint64(i+1) {
			t.Errorf("gap in ledger at index %d: seq %d", i, e.Seq)
		}
	}
}

func TestOpen_ResumesFromBackend(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	first, _ := Open(ctx, ms)
	first.Append(ctx, entry("b", "s", 5))
	first.Append(ctx, entry("b", "s", 6))

	second, err := Open(ctx, ms)
	if err != nil {
		t.Fatal(err)
	}
	seq, _ := second.Append(ctx, entry("b", "s", 7))
	if seq != 3 {
		t.Errorf("expected resumed seq 3, got %d", seq)
	}
}

func TestAppend_ConcurrentNoGaps(t *testing.T) {
	ctx := context.Background()
	l, _ := Open(ctx, store.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Append(ctx, entry("b", "s", 1)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	all, _ := l.ReadAll(ctx)
	if len(all) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
	}
}

func TestReadRange(t *testing.T) {
	ctx := context.Background()
	l, _ := Open(ctx, store.NewMemoryStore())
	for i := 0; i < 5; i++ {
		l.Append(ctx, entry("b", "s", 1))
	}

	got, err := l.ReadRange(ctx, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Seq != 2 || got[2].Seq != 4 {
		t.Errorf("unexpected range: %+v", got)
	}

	if _, err := l.ReadRange(ctx, 0, 3); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange for from=0, got %v", err)
	}
	if _, err := l.ReadRange(ctx, 4, 2); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange for from>to, got %v", err)
	}
}

func TestReplay_ReproducesCapital(t *testing.T) {
	starting := map[string]decimal.Decimal{
		"alice": d(100),
		"bob":   d(100),
		"carol": d(50),
	}
	entries := []model.LedgerEntry{
		*entry("alice", "bob", 30),
		*entry("carol", "alice", 0), // failure: no transfer
		*entry("bob", "carol", 45.5),
		*entry("carol", "alice", 20),
	}

	got := Replay(entries, starting)

	want := map[string]decimal.Decimal{
		"alice": d(90),
		"bob":   d(84.5),
		"carol": d(75.5),
	}
	for id, w := range want {
		if !got[id].Equal(w) {
			t.Errorf("%s: got %s, want %s", id, got[id], w)
		}
	}

	total := decimal.Zero
	for _, c := range got {
		total = total.Add(c)
	}
	if !total.Equal(d(250)) {
		t.Errorf("replay is not zero-sum: total %s", total)
	}
	if !starting["alice"].Equal(d(100)) {
		t.Error("Replay modified the starting map")
	}

	partial := Replay(entries[:1], starting)
	if !partial["alice"].Equal(d(70)) {
		t.Errorf("prefix replay: alice = %s, want 70", partial["alice"])
	}
}

func TestFlush_NoopForSyncBackend(t *testing.T) {
	l, _ := Open(context.Background(), store.NewMemoryStore())
	if err := l.Flush(context.Background()); err != nil {
		t.Errorf("flush: %v", err)
	}
}
