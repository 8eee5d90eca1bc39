package negotiation

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

// Session is one bounded bargaining exchange between a buyer and a seller
// over a single item. It is owned by the Negotiate call that created it.
//
// The round starts at 1 and never exceeds MaxRounds. Once the status leaves
// Open every transition returns ErrSessionClosed.
type Session struct {
	ID        string
	BuyerID   string
	SellerID  string
	Item      model.Item
	MaxRounds int

	status model.SessionStatus
	round  int
	offers []model.Offer
}

// NewSession opens a session at round 1.
func NewSession(id, buyerID, sellerID string, item model.Item, maxRounds int) *Session {
	return &Session{
		ID:        id,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Item:      item,
		MaxRounds: maxRounds,
		status:    model.StatusOpen,
		round:     1,
	}
}

func (s *Session) Status() model.SessionStatus { return s.status }
func (s *Session) Round() int                  { return s.round }

// Offers returns a copy of the offer history.
func (s *Session) Offers() []model.Offer {
	return slices.Clone(s.offers)
}

// Pending returns the most recent offer, or nil before the opening offer.
func (s *Session) Pending() *model.Offer {
	if len(s.offers) == 0 {
		return nil
	}
	o := s.offers[len(s.offers)-1]
	return &o
}

// LastPrice is the last attempted price, null if nobody proposed one.
func (s *Session) LastPrice() decimal.NullDecimal {
	if p := s.Pending(); p != nil {
		return decimal.NewNullDecimal(p.Price)
	}
	return decimal.NullDecimal{}
}

// Propose appends an offer tagged with the current round.
func (s *Session) Propose(proposerID string, price decimal.Decimal) error {
	if s.status != model.StatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.ID, s.status)
	}
	if proposerID != s.BuyerID && proposerID != s.SellerID {
		return fmt.Errorf("negotiation: %s is not a party to session %s", proposerID, s.ID)
	}
	s.offers = append(s.offers, model.Offer{ProposerID: proposerID, Price: price, Round: s.round})
	return nil
}

// Advance moves to the next round. At the round limit the session expires
// instead and Advance reports false.
func (s *Session) Advance() (bool, error) {
	if s.status != model.StatusOpen {
		return false, fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.ID, s.status)
	}
	if s.round >= s.MaxRounds {
		s.status = model.StatusExpired
		return false, nil
	}
	s.round++
	return true, nil
}

// Accept resolves the session on the pending offer.
func (s *Session) Accept() error {
	if s.Pending() == nil {
		return fmt.Errorf("negotiation: session %s has no offer to accept", s.ID)
	}
	return s.close(model.StatusAccepted)
}

func (s *Session) Reject() error { return s.close(model.StatusRejected) }
func (s *Session) Expire() error { return s.close(model.StatusExpired) }

func (s *Session) close(status model.SessionStatus) error {
	if s.status != model.StatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.ID, s.status)
	}
	s.status = status
	return nil
}
