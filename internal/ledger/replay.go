package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

// Replay reproduces agent capital from the ledger alone: starting capital
// plus every successful entry's transfer (buyer pays, seller receives).
// Agents absent from starting begin at zero. The starting map is not
// modified.
func Replay(entries []model.LedgerEntry, starting map[string]decimal.Decimal) map[string]decimal.Decimal {
	capital := make(map[string]decimal.Decimal, len(starting))
	for id, c := range starting {
		capital[id] = c
	}
	for _, e := range entries {
		if e.Outcome != model.OutcomeSuccess || !e.FinalPrice.Valid {
			continue
		}
		price := e.FinalPrice.Decimal
		capital[e.BuyerID] = capital[e.BuyerID].Sub(price)
		capital[e.SellerID] = capital[e.SellerID].Add(price)
	}
	return capital
}
