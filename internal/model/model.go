// Package model defines the core domain types shared across the marketplace.
// Money is shopspring/decimal throughout, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a tradable good. ReferenceValue is a negotiation anchor, not an
// authoritative price.
type Item struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Category       string          `json:"category" db:"category"`
	ReferenceValue decimal.Decimal `json:"reference_value" db:"reference_value"`
}

// Holding is an item in an agent's inventory together with what the owner
// paid for it.
type Holding struct {
	Item       Item            `json:"item"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// Offer is one price proposal inside a negotiation session.
type Offer struct {
	ProposerID string          `json:"proposer_id"`
	Price      decimal.Decimal `json:"price"`
	Round      int             `json:"round"`
}

// SessionStatus is the state of a negotiation session.
type SessionStatus string

const (
	StatusOpen     SessionStatus = "OPEN"
	StatusAccepted SessionStatus = "ACCEPTED"
	StatusRejected SessionStatus = "REJECTED"
	StatusExpired  SessionStatus = "EXPIRED"
)

// Terminal reports whether the status is one of the final states.
func (s SessionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// Outcome is the coarse success/failure result of a resolved negotiation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// OutcomeFor maps a terminal status to its outcome. Rejected and Expired are
// both failures.
func OutcomeFor(s SessionStatus) Outcome {
	if s == StatusAccepted {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Role is the side an agent played in a negotiation.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// InteractionRecord is one agent's view of a resolved negotiation with a
// counterparty. Records are append-only and never mutated.
type InteractionRecord struct {
	Seq            uint64              `json:"seq"` // per-agent occurrence index
	CounterpartyID string              `json:"counterparty_id"`
	Role           Role                `json:"role"`
	ItemID         string              `json:"item_id"`
	Outcome        Outcome             `json:"outcome"`
	Status         SessionStatus       `json:"status"`
	Price          decimal.NullDecimal `json:"price"` // agreed, or last attempted
	Rounds         int                 `json:"rounds"`
	LedgerSeq      uint64              `json:"ledger_seq"`
	Timestamp      time.Time           `json:"timestamp"`
}

// LedgerEntry is an immutable record of a resolved negotiation.
// Once appended, an entry is never modified or deleted.
// Schema: {seq, buyer, seller, item, outcome, final price, rounds, timestamp}
type LedgerEntry struct {
	Seq        uint64              `json:"seq" db:"seq"`
	SessionID  string              `json:"session_id" db:"session_id"`
	BuyerID    string              `json:"buyer_id" db:"buyer_id"`
	SellerID   string              `json:"seller_id" db:"seller_id"`
	ItemID     string              `json:"item_id" db:"item_id"`
	Outcome    Outcome             `json:"outcome" db:"outcome"`
	Status     SessionStatus       `json:"status" db:"status"`           // REJECTED vs EXPIRED granularity
	FinalPrice decimal.NullDecimal `json:"final_price" db:"final_price"` // set only on SUCCESS
	Rounds     int                 `json:"rounds" db:"rounds"`
	Timestamp  time.Time           `json:"timestamp" db:"timestamp"`
}
