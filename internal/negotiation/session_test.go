package negotiation

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

func TestSession_RoundNeverExceedsMax(t *testing.T) {
	s := NewSession("s1", "b", "s", model.Item{ID: "x"}, 3)
	advanced := 0
	for i := 0; i < 10; i++ {
		ok, err := s.Advance()
		if err != nil {
			break
		}
		if ok {
			advanced++
		}
	}
	if advanced != 2 || s.Round() != 3 {
		t.Errorf("expected 2 advances to round 3, got %d to round %d", advanced, s.Round())
	}
	if s.Status() != model.StatusExpired {
		t.Errorf("expected Expired, got %s", s.Status())
	}
}

func TestSession_ClosedRejectsTransitions(t *testing.T) {
	s := NewSession("s1", "b", "s", model.Item{ID: "x"}, 5)
	if err := s.Propose("b", decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	if err := s.Accept(); err != nil {
		t.Fatal(err)
	}

	if err := s.Propose("s", decimal.NewFromInt(20)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Propose: expected ErrSessionClosed, got %v", err)
	}
	if err := s.Reject(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Reject: expected ErrSessionClosed, got %v", err)
	}
	if _, err := s.Advance(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Advance: expected ErrSessionClosed, got %v", err)
	}
	if s.Status() != model.StatusAccepted {
		t.Errorf("status changed after close: %s", s.Status())
	}
}

func TestSession_AcceptNeedsOffer(t *testing.T) {
	s := NewSession("s1", "b", "s", model.Item{ID: "x"}, 5)
	if err := s.Accept(); err == nil {
		t.Error("expected error accepting with no offer")
	}
	if s.Status() != model.StatusOpen {
		t.Errorf("expected Open, got %s", s.Status())
	}
}

func TestSession_OffersTaggedWithRound(t *testing.T) {
	s := NewSession("s1", "b", "s", model.Item{ID: "x"}, 5)
	s.Propose("b", decimal.NewFromInt(10))
	s.Propose("s", decimal.NewFromInt(30))
	s.Advance()
	s.Propose("b", decimal.NewFromInt(20))

	offers := s.Offers()
	if len(offers) != 3 || offers[0].Round != 1 || offers[1].Round != 1 || offers[2].Round != 2 {
		t.Errorf("unexpected offers %+v", offers)
	}
	if !s.LastPrice().Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected last price 20, got %v", s.LastPrice())
	}

	if err := s.Propose("stranger", decimal.NewFromInt(1)); err == nil {
		t.Error("expected error for a non-party proposer")
	}

	offers[0].Price = decimal.NewFromInt(999)
	if s.Offers()[0].Price.Equal(decimal.NewFromInt(999)) {
		t.Error("Offers returned shared storage")
	}
}

func TestLockTable_OrderedAndDeduplicated(t *testing.T) {
	lt := newLockTable()

	// Same agent twice must not self-deadlock.
	unlock := lt.lock("a", "a")
	unlock()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			u := lt.lock("a", "b")
			counter++
			u()
		}()
		go func() {
			defer wg.Done()
			u := lt.lock("b", "a")
			counter++
			u()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("expected 100 critical sections, got %d", counter)
	}
}
