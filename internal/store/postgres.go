package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/agent-market/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq         BIGINT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	buyer_id    TEXT NOT NULL,
	seller_id   TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	status      TEXT NOT NULL,
	final_price NUMERIC,
	rounds      INTEGER NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	personality     TEXT NOT NULL,
	capital         NUMERIC NOT NULL CHECK (capital >= 0),
	total_sales     INTEGER NOT NULL,
	total_purchases INTEGER NOT NULL,
	total_profit    NUMERIC NOT NULL,
	inventory_json  JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_buyer ON ledger_entries(buyer_id);
CREATE INDEX IF NOT EXISTS idx_ledger_seller ON ledger_entries(seller_id);
`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (seq, session_id, buyer_id, seller_id, item_id, outcome, status, final_price, rounds, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10)`,
		int64(e.Seq), e.SessionID, e.BuyerID, e.SellerID, e.ItemID,
		string(e.Outcome), string(e.Status), nullDecimalText(e.FinalPrice),
		e.Rounds, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, from, to uint64) ([]model.LedgerEntry, error) {
	query := `SELECT seq, session_id, buyer_id, seller_id, item_id, outcome, status,
	                 final_price::TEXT, rounds, timestamp
	          FROM ledger_entries WHERE seq >= $1`
	args := []any{int64(from)}
	if to != 0 {
		query += ` AND seq <= $2`
		args = append(args, int64(to))
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) LastLedgerSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_entries`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last ledger seq: %w", err)
	}
	return uint64(seq), nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	inv, err := json.Marshal(a.Inventory)
	if err != nil {
		return fmt.Errorf("marshal inventory %s: %w", a.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, personality, capital, total_sales, total_purchases, total_profit, inventory_json)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     personality = EXCLUDED.personality,
		     capital = EXCLUDED.capital,
		     total_sales = EXCLUDED.total_sales,
		     total_purchases = EXCLUDED.total_purchases,
		     total_profit = EXCLUDED.total_profit,
		     inventory_json = EXCLUDED.inventory_json`,
		a.ID, a.Name, string(a.Personality), a.Capital.String(),
		a.TotalSales, a.TotalPurchases, a.TotalProfit.String(), inv,
	)
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, personality, capital::TEXT, total_sales, total_purchases,
		        total_profit::TEXT, inventory_json
		 FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, personality, capital::TEXT, total_sales, total_purchases,
		        total_profit::TEXT, inventory_json
		 FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var personality, capitalS, profitS string
	var inv []byte

	if err := row.Scan(&a.ID, &a.Name, &personality, &capitalS,
		&a.TotalSales, &a.TotalPurchases, &profitS, &inv); err != nil {
		return nil, err
	}
	a.Personality = model.Personality(personality)
	var err error
	if a.Capital, err = parseDecimal("capital", a.ID, capitalS); err != nil {
		return nil, err
	}
	if a.TotalProfit, err = parseDecimal("total_profit", a.ID, profitS); err != nil {
		return nil, err
	}
	a.Inventory = make(map[string]model.Holding)
	if err := json.Unmarshal(inv, &a.Inventory); err != nil {
		return nil, fmt.Errorf("unmarshal inventory %s: %w", a.ID, err)
	}
	return &a, nil
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var seq int64
		var outcome, status string
		var priceS *string

		if err := rows.Scan(&seq, &e.SessionID, &e.BuyerID, &e.SellerID, &e.ItemID,
			&outcome, &status, &priceS, &e.Rounds, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Seq = uint64(seq)
		e.Outcome = model.Outcome(outcome)
		e.Status = model.SessionStatus(status)
		price, err := parseNullDecimal(priceS)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", e.Seq, err)
		}
		e.FinalPrice = price

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullDecimalText(n decimal.NullDecimal) *string {
	if !n.Valid {
		return nil
	}
	s := n.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: final_price %q: %w", ErrCorruptRow, *s, err)
	}
	return decimal.NewNullDecimal(v), nil
}

func parseDecimal(column, id, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s of %s = %q: %w", ErrCorruptRow, column, id, s, err)
	}
	return v, nil
}
