package negotiation

import "errors"

var (
	// ErrInvalidTradeRequest is returned before any session starts: missing
	// agents, buyer == seller, item not held by the seller, or a negative
	// round limit. No ledger entry or memory record is written.
	ErrInvalidTradeRequest = errors.New("negotiation: invalid trade request")

	// ErrPolicyUnavailable is returned alongside an Expired result when the
	// decision policy failed to respond. Non-fatal.
	ErrPolicyUnavailable = errors.New("negotiation: policy unavailable")

	// ErrPolicyInvalid is returned alongside an Expired result when the
	// decision policy returned an illegal or unparseable decision. Non-fatal.
	ErrPolicyInvalid = errors.New("negotiation: policy returned invalid decision")

	// ErrItemUnavailable is the cause recorded when an accepted item left
	// the seller's inventory while the session was running.
	ErrItemUnavailable = errors.New("negotiation: item no longer held by seller")

	// ErrLedgerWrite is fatal to the run: the audit trail could not be
	// extended and no agent was mutated.
	ErrLedgerWrite = errors.New("negotiation: ledger write failed")

	// ErrMemoryWrite is returned when a memory record could not be stored
	// after the ledger entry and the transfer committed. Non-fatal.
	ErrMemoryWrite = errors.New("negotiation: memory write failed")

	// ErrSessionClosed is returned by any transition on a resolved session.
	ErrSessionClosed = errors.New("negotiation: session closed")
)

// IsFatal reports whether err must abort the surrounding run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLedgerWrite)
}
