// Package api provides the HTTP handlers for starting negotiations and
// querying the ledger, agents, interaction memory and analytics.
//
// All monetary values use shopspring/decimal and serialize as strings.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/export"
	"github.com/atmx/agent-market/internal/ledger"
	"github.com/atmx/agent-market/internal/memory"
	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/negotiation"
	"github.com/atmx/agent-market/internal/simulation"
)

// Service serves the marketplace over HTTP. Agent state is read through
// engine snapshots so handlers never race with a commit.
//
// A fatal ledger failure halts the service: later negotiations are refused
// with 503 until the process restarts.
type Service struct {
	engine *negotiation.Engine
	roster *simulation.Roster
	ledger *ledger.Ledger
	memory memory.Store

	onFatal  func(error)
	haltOnce sync.Once
	mu       sync.RWMutex
	halted   error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFatalHandler registers fn to run once when the service halts.
func WithFatalHandler(fn func(error)) ServiceOption {
	return func(s *Service) { s.onFatal = fn }
}

// NewService creates the HTTP service.
func NewService(e *negotiation.Engine, roster *simulation.Roster, l *ledger.Ledger, mem memory.Store, opts ...ServiceOption) *Service {
	s := &Service{engine: e, roster: roster, ledger: l, memory: mem}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Halt stops the service accepting negotiations. Only the first cause is
// kept and the fatal handler runs at most once.
func (s *Service) Halt(err error) {
	s.haltOnce.Do(func() {
		s.mu.Lock()
		s.halted = err
		s.mu.Unlock()
		if s.onFatal != nil {
			s.onFatal(err)
		}
	})
}

// Halted returns the cause of a halt, or nil.
func (s *Service) Halted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}

// Register mounts the handlers on r.
func (s *Service) Register(r chi.Router) {
	r.Post("/negotiations", s.StartNegotiation)
	r.Get("/ledger", s.GetLedger)
	r.Get("/ledger.csv", s.GetLedgerCSV)
	r.Get("/agents", s.ListAgents)
	r.Get("/agents/{agentID}", s.GetAgent)
	r.Get("/agents/{agentID}/memory", s.GetMemory)
	r.Get("/agents/{agentID}/memory/{counterpartyID}", s.GetPairMemory)
	r.Get("/analytics", s.GetAnalytics)
	r.Get("/market", s.GetMarket)
}

// --- Request/Response types ---

// NegotiationRequest is the JSON body for POST /negotiations.
type NegotiationRequest struct {
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	ItemID    string `json:"item_id"`
	MaxRounds int    `json:"max_rounds"` // 0 → engine default
	// AskingPrice and MinAcceptable list the item first. Both or neither.
	AskingPrice   decimal.NullDecimal `json:"asking_price"`
	MinAcceptable decimal.NullDecimal `json:"min_acceptable"`
}

// NegotiationResponse is a resolved session. Warning is set when the session
// ended because a policy failed or a memory write was lost.
type NegotiationResponse struct {
	*negotiation.SessionResult
	Warning string `json:"warning,omitempty"`
}

// PairMemory is one counterparty's history and its summary.
type PairMemory struct {
	CounterpartyID string                    `json:"counterparty_id"`
	Records        []model.InteractionRecord `json:"records"`
	Summary        memory.Summary            `json:"summary"`
}

// --- HTTP Handlers ---

// StartNegotiation handles POST /api/v1/negotiations
func (s *Service) StartNegotiation(w http.ResponseWriter, r *http.Request) {
	if err := s.Halted(); err != nil {
		writeError(w, "market halted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	var req NegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BuyerID == "" || req.SellerID == "" || req.ItemID == "" {
		writeError(w, "buyer_id, seller_id and item_id are required", http.StatusBadRequest)
		return
	}
	if req.AskingPrice.Valid != req.MinAcceptable.Valid {
		writeError(w, "asking_price and min_acceptable go together", http.StatusBadRequest)
		return
	}

	buyer, ok := s.roster.Get(req.BuyerID)
	if !ok {
		writeError(w, "agent not found: "+req.BuyerID, http.StatusNotFound)
		return
	}
	seller, ok := s.roster.Get(req.SellerID)
	if !ok {
		writeError(w, "agent not found: "+req.SellerID, http.StatusNotFound)
		return
	}

	entries, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		writeError(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	opts := []negotiation.SessionOption{negotiation.WithMarket(analytics.Snapshot(entries, analytics.RecentWindow))}
	if req.AskingPrice.Valid {
		opts = append(opts, negotiation.WithListing(req.AskingPrice.Decimal, req.MinAcceptable.Decimal))
	}

	res, err := s.engine.Negotiate(r.Context(), buyer, seller, req.ItemID, req.MaxRounds, opts...)
	switch {
	case negotiation.IsFatal(err):
		slog.Error("negotiation aborted", "buyer", req.BuyerID, "seller", req.SellerID, "err", err)
		s.Halt(err)
		writeError(w, "failed to record negotiation", http.StatusInternalServerError)
		return
	case errors.Is(err, negotiation.ErrInvalidTradeRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, negotiation.ErrItemUnavailable):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil && res == nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := NegotiationResponse{SessionResult: res}
	var warnings []error
	if err != nil {
		warnings = append(warnings, err)
	}
	if res.Status == model.StatusAccepted {
		if serr := s.roster.SaveAgents(r.Context(), s.engine, buyer.ID, seller.ID); serr != nil {
			slog.Error("agent save failed", "buyer", buyer.ID, "seller", seller.ID, "err", serr)
			warnings = append(warnings, serr)
		}
	}
	if len(warnings) > 0 {
		resp.Warning = errors.Join(warnings...).Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLedger handles GET /api/v1/ledger?from=&to=
// Both bounds are inclusive; a missing bound extends to that end.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		entries []model.LedgerEntry
		err     error
	)
	if q.Get("from") == "" && q.Get("to") == "" {
		entries, err = s.ledger.ReadAll(ctx)
	} else {
		from, ferr := seqParam(q.Get("from"), 1)
		to, terr := seqParam(q.Get("to"), max(s.ledger.Len(), from))
		if ferr != nil || terr != nil {
			writeError(w, "from and to must be unsigned integers", http.StatusBadRequest)
			return
		}
		entries, err = s.ledger.ReadRange(ctx, from, to)
		if errors.Is(err, ledger.ErrInvalidRange) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err != nil {
		writeError(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetLedgerCSV handles GET /api/v1/ledger.csv
func (s *Service) GetLedgerCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		writeError(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.csv"`)
	if err := export.WriteLedgerCSV(w, entries); err != nil {
		slog.Error("ledger csv write failed", "err", err)
	}
}

// ListAgents handles GET /api/v1/agents
func (s *Service) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots())
}

// GetAgent handles GET /api/v1/agents/{agentID}
func (s *Service) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.roster.Get(chi.URLParam(r, "agentID"))
	if !ok {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot(a))
}

// GetMemory handles GET /api/v1/agents/{agentID}/memory
// Returns every counterparty the agent remembers, ordered by ID.
func (s *Service) GetMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.roster.Get(agentID); !ok {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}

	byPeer, err := s.memory.Snapshot(r.Context(), agentID)
	if err != nil {
		writeError(w, "failed to read memory", http.StatusInternalServerError)
		return
	}
	out := make([]PairMemory, 0, len(byPeer))
	for peer, recs := range byPeer {
		out = append(out, PairMemory{
			CounterpartyID: peer,
			Records:        recs,
			Summary:        memory.Summarize(slices.Values(recs)),
		})
	}
	slices.SortFunc(out, func(a, b PairMemory) int {
		return strings.Compare(a.CounterpartyID, b.CounterpartyID)
	})
	writeJSON(w, http.StatusOK, out)
}

// GetPairMemory handles GET /api/v1/agents/{agentID}/memory/{counterpartyID}
func (s *Service) GetPairMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	peerID := chi.URLParam(r, "counterpartyID")
	if _, ok := s.roster.Get(agentID); !ok {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}

	hist, err := s.memory.History(r.Context(), agentID, peerID)
	if err != nil {
		writeError(w, "failed to read memory", http.StatusInternalServerError)
		return
	}
	recs := slices.Collect(hist)
	if recs == nil {
		recs = []model.InteractionRecord{}
	}
	writeJSON(w, http.StatusOK, PairMemory{
		CounterpartyID: peerID,
		Records:        recs,
		Summary:        memory.Summarize(hist),
	})
}

// GetAnalytics handles GET /api/v1/analytics
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		writeError(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Compute(entries, s.snapshots()))
}

// GetMarket handles GET /api/v1/market
// Returns the recent per-category prices agents list and browse against.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		writeError(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Snapshot(entries, analytics.RecentWindow))
}

func (s *Service) snapshots() []*model.Agent {
	live := s.roster.List()
	out := make([]*model.Agent, len(live))
	for i, a := range live {
		out[i] = s.engine.Snapshot(a)
	}
	return out
}

func seqParam(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
