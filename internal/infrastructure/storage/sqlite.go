package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// SQLiteJournal implements domain.TradeJournal.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			avg_price INTEGER NOT NULL,
			exit_price INTEGER NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

func (j *SQLiteJournal) SaveFill(ctx context.Context, fill *domain.Fill) error {
	createdAt := fill.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO fills (order_id, symbol, side, quantity, price, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		fill.OrderID, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, createdAt)
	return err
}

func (j *SQLiteJournal) ListFills(ctx context.Context, limit int) ([]*domain.Fill, error) {
	query := `SELECT order_id, symbol, side, quantity, price, created_at
			  FROM fills ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Quantity, &f.Price, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

func (j *SQLiteJournal) SavePositionHistory(ctx context.Context, history *domain.PositionHistory) error {
	query := `INSERT INTO position_history (symbol, quantity, avg_price, exit_price, closed_at)
			  VALUES (?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		history.Symbol, history.Quantity, history.AvgPrice, history.ExitPrice, history.ClosedAt)
	return err
}

func (j *SQLiteJournal) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, symbol, quantity, avg_price, exit_price, closed_at
			  FROM position_history ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		if err := rows.Scan(&h.ID, &h.Symbol, &h.Quantity, &h.AvgPrice, &h.ExitPrice, &h.ClosedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

func (j *SQLiteJournal) SaveSessionLog(ctx context.Context, message string) error {
	query := `INSERT INTO session_log (message, created_at) VALUES (?, ?)`
	_, err := j.db.ExecContext(ctx, query, message, time.Now())
	return err
}
