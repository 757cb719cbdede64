package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"quantsim/internal/stats"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunRecorder = (*SQLiteStore)(nil)
var _ RunRecorder = (*NoopRecorder)(nil)

// SQLiteStore persists backtest run results in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the result tables if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			start_ts   INTEGER NOT NULL,
			end_ts     INTEGER NOT NULL,
			rebalance  TEXT,
			universe   TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS equity_curve (
			run_id TEXT NOT NULL,
			ts     INTEGER NOT NULL,
			equity REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON equity_curve(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS executed_orders (
			run_id       TEXT NOT NULL,
			order_id     TEXT,
			portfolio_id TEXT,
			ts           INTEGER NOT NULL,
			asset        TEXT,
			quantity     INTEGER,
			price        REAL,
			commission   REAL
		)`,
		`CREATE TABLE IF NOT EXISTS dividends (
			run_id              TEXT NOT NULL,
			ts                  INTEGER NOT NULL,
			phase               TEXT,
			total_cash          REAL,
			total_reinvested    INTEGER,
			assets_paid         INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS cash_snapshots (
			run_id TEXT NOT NULL,
			ts     INTEGER NOT NULL,
			cash   REAL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun writes the run and its statistics in a single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, info RunInfo, st *stats.Stats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	created := info.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, start_ts, end_ts, rebalance, universe, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Start.UnixMilli(), info.End.UnixMilli(), info.Rebalance, strings.Join(info.Universe, ","), created.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, p := range st.EquityCurve() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO equity_curve (run_id, ts, equity) VALUES (?, ?, ?)`,
			info.ID, p.Date.UnixMilli(), p.Equity,
		); err != nil {
			return fmt.Errorf("insert equity: %w", err)
		}
	}

	for _, o := range st.ExecutedOrders() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO executed_orders (run_id, order_id, portfolio_id, ts, asset, quantity, price, commission) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			info.ID, o.OrderID, o.PortfolioID, o.Timestamp.UnixMilli(), o.Asset, o.Quantity, o.Price, o.Commission,
		); err != nil {
			return fmt.Errorf("insert executed order: %w", err)
		}
	}

	for _, d := range st.Dividends() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dividends (run_id, ts, phase, total_cash, total_reinvested, assets_paid) VALUES (?, ?, ?, ?, ?, ?)`,
			info.ID, d.Date.UnixMilli(), string(d.Phase), d.TotalCashDividend, d.TotalReinvestedQuantity, len(d.Entries),
		); err != nil {
			return fmt.Errorf("insert dividend: %w", err)
		}
	}

	for _, snap := range st.Snapshots() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cash_snapshots (run_id, ts, cash) VALUES (?, ?, ?)`,
			info.ID, snap.Timestamp.UnixMilli(), snap.Cash,
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}

	return tx.Commit()
}

// EquityCurve loads the stored equity curve of a run.
func (s *SQLiteStore) EquityCurve(ctx context.Context, runID string) ([]stats.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity FROM equity_curve WHERE run_id = ? ORDER BY ts`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stats.EquityPoint
	for rows.Next() {
		var ms int64
		var eq float64
		if err := rows.Scan(&ms, &eq); err != nil {
			return nil, err
		}
		out = append(out, stats.EquityPoint{Date: time.UnixMilli(ms).UTC(), Equity: eq})
	}
	return out, rows.Err()
}
