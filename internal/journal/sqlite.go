// Package journal persists completed orders. The journal is append-only:
// the bot writes one row per order that reaches a terminal state and never
// reads it back; reconciliation against venue statements happens offline.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS completed_orders (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange            TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	order_id            TEXT NOT NULL,
	venue_order_id      TEXT NOT NULL DEFAULT '',
	side                TEXT NOT NULL,
	order_type          TEXT NOT NULL,
	status              TEXT NOT NULL,
	price               TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	quantity_cumulative TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	recorded_at         INTEGER NOT NULL
)`

// SQLiteJournal implements core.IOrderJournal on a local sqlite file.
// Prices and quantities are stored as decimal strings, timestamps as unix
// seconds except recorded_at which keeps nanoseconds for ordering.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// WAL keeps writers from blocking on crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordCompleted(ctx context.Context, exchange string, order *core.SpotOrder) error {
	if order == nil || order.Pair == nil {
		return fmt.Errorf("%w: journal entry without order", apperrors.ErrInvalidOrderParameter)
	}

	query := `INSERT INTO completed_orders
		(exchange, symbol, order_id, venue_order_id, side, order_type, status,
		 price, quantity, quantity_cumulative, created_at, updated_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		exchange,
		order.Pair.TradingPair(),
		order.OrderID,
		order.VenueOrderID,
		string(order.Side),
		string(order.Type),
		string(order.Status),
		order.Price.String(),
		order.Quantity.String(),
		order.QuantityCumulative.String(),
		order.CreatedAt,
		order.UpdatedAt,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record completed order %s: %w", order.OrderID, err)
	}
	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
