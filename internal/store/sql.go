package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/atmx/agent-market/internal/model"
)

// SQLStore implements Store over database/sql through sqlx. It runs on the
// pure-Go SQLite driver for local runs and on MySQL for shared deployments.
// Money is stored as decimal strings; timestamps as unix nanoseconds.
type SQLStore struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLStore, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; keep one connection to avoid SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	return newSQLStore(conn)
}

// OpenMySQL connects to MySQL with the given DSN.
func OpenMySQL(dsn string) (*SQLStore, error) {
	conn, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return newSQLStore(conn)
}

func newSQLStore(conn *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.conn.Close()
}

// Statements are executed one at a time; the MySQL driver rejects
// multi-statement Exec by default.
var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq         BIGINT PRIMARY KEY,
		session_id  VARCHAR(64) NOT NULL,
		buyer_id    VARCHAR(64) NOT NULL,
		seller_id   VARCHAR(64) NOT NULL,
		item_id     VARCHAR(64) NOT NULL,
		outcome     VARCHAR(16) NOT NULL,
		status      VARCHAR(16) NOT NULL,
		final_price VARCHAR(64),
		rounds      INTEGER NOT NULL,
		ts_unix_ns  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id              VARCHAR(64) PRIMARY KEY,
		name            VARCHAR(128) NOT NULL,
		personality     VARCHAR(32) NOT NULL,
		capital         VARCHAR(64) NOT NULL,
		total_sales     INTEGER NOT NULL,
		total_purchases INTEGER NOT NULL,
		total_profit    VARCHAR(64) NOT NULL,
		inventory_json  TEXT NOT NULL
	)`,
}

func (s *SQLStore) migrate() error {
	for _, stmt := range sqlSchema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type ledgerRow struct {
	Seq        int64          `db:"seq"`
	SessionID  string         `db:"session_id"`
	BuyerID    string         `db:"buyer_id"`
	SellerID   string         `db:"seller_id"`
	ItemID     string         `db:"item_id"`
	Outcome    string         `db:"outcome"`
	Status     string         `db:"status"`
	FinalPrice sql.NullString `db:"final_price"`
	Rounds     int            `db:"rounds"`
	TSUnixNano int64          `db:"ts_unix_ns"`
}

func (r ledgerRow) entry() (model.LedgerEntry, error) {
	var price *string
	if r.FinalPrice.Valid {
		price = &r.FinalPrice.String
	}
	final, err := parseNullDecimal(price)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("ledger entry %d: %w", r.Seq, err)
	}
	return model.LedgerEntry{
		Seq:        uint64(r.Seq),
		SessionID:  r.SessionID,
		BuyerID:    r.BuyerID,
		SellerID:   r.SellerID,
		ItemID:     r.ItemID,
		Outcome:    model.Outcome(r.Outcome),
		Status:     model.SessionStatus(r.Status),
		FinalPrice: final,
		Rounds:     r.Rounds,
		Timestamp:  time.Unix(0, r.TSUnixNano).UTC(),
	}, nil
}

func (s *SQLStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	var price sql.NullString
	if e.FinalPrice.Valid {
		price = sql.NullString{String: e.FinalPrice.Decimal.String(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, s.conn.Rebind(
		`INSERT INTO ledger_entries (seq, session_id, buyer_id, seller_id, item_id, outcome, status, final_price, rounds, ts_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		int64(e.Seq), e.SessionID, e.BuyerID, e.SellerID, e.ItemID,
		string(e.Outcome), string(e.Status), price, e.Rounds, e.Timestamp.UnixNano(),
	)
	return err
}

func (s *SQLStore) ListLedgerEntries(ctx context.Context, from, to uint64) ([]model.LedgerEntry, error) {
	query := `SELECT seq, session_id, buyer_id, seller_id, item_id, outcome, status,
	                 final_price, rounds, ts_unix_ns
	          FROM ledger_entries WHERE seq >= ?`
	args := []any{int64(from)}
	if to != 0 {
		query += ` AND seq <= ?`
		args = append(args, int64(to))
	}
	query += ` ORDER BY seq`

	var rows []ledgerRow
	if err := s.conn.SelectContext(ctx, &rows, s.conn.Rebind(query), args...); err != nil {
		return nil, err
	}
	entries := make([]model.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLStore) LastLedgerSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.conn.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM ledger_entries`); err != nil {
		return 0, fmt.Errorf("last ledger seq: %w", err)
	}
	return uint64(seq), nil
}

type agentRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	Personality    string `db:"personality"`
	Capital        string `db:"capital"`
	TotalSales     int    `db:"total_sales"`
	TotalPurchases int    `db:"total_purchases"`
	TotalProfit    string `db:"total_profit"`
	InventoryJSON  string `db:"inventory_json"`
}

func (r agentRow) agent() (*model.Agent, error) {
	a := &model.Agent{
		ID:             r.ID,
		Name:           r.Name,
		Personality:    model.Personality(r.Personality),
		TotalSales:     r.TotalSales,
		TotalPurchases: r.TotalPurchases,
		Inventory:      make(map[string]model.Holding),
	}
	var err error
	if a.Capital, err = parseDecimal("capital", r.ID, r.Capital); err != nil {
		return nil, err
	}
	if a.TotalProfit, err = parseDecimal("total_profit", r.ID, r.TotalProfit); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.InventoryJSON), &a.Inventory); err != nil {
		return nil, fmt.Errorf("unmarshal inventory %s: %w", r.ID, err)
	}
	return a, nil
}

// SaveAgent replaces the agent row inside a transaction (delete + insert is
// portable across SQLite and MySQL).
func (s *SQLStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	inv, err := json.Marshal(a.Inventory)
	if err != nil {
		return fmt.Errorf("marshal inventory %s: %w", a.ID, err)
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM agents WHERE id = ?`), a.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO agents (id, name, personality, capital, total_sales, total_purchases, total_profit, inventory_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, string(a.Personality), a.Capital.String(),
		a.TotalSales, a.TotalPurchases, a.TotalProfit.String(), string(inv),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var row agentRow
	err := s.conn.GetContext(ctx, &row, s.conn.Rebind(
		`SELECT id, name, personality, capital, total_sales, total_purchases, total_profit, inventory_json
		 FROM agents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return row.agent()
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	var rows []agentRow
	if err := s.conn.SelectContext(ctx, &rows,
		`SELECT id, name, personality, capital, total_sales, total_purchases, total_profit, inventory_json
		 FROM agents ORDER BY id`); err != nil {
		return nil, err
	}
	agents := make([]*model.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.agent()
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}
