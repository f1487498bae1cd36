package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedOrder(id string) *core.SpotOrder {
	pair := core.NewPair("ETH", "USDT", 10)
	o := core.NewSpotOrder(pair, decimal.NewFromInt(2), decimal.RequireFromString("2000.5"), core.SideBuy, core.TypeLimit)
	o.OrderID = id
	o.VenueOrderID = "987654"
	o.Status = core.OrderStatusFilled
	o.QuantityCumulative = decimal.NewFromInt(2)
	return o
}

func TestSQLiteJournalRecordsCompletion(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	order := completedOrder("meld_fmfw_journal")
	require.NoError(t, j.RecordCompleted(context.Background(), "FMFW", order))

	var (
		exchange, symbol, orderID, venueID, side, orderType, status string
		price, quantity, cumulative                                 string
		createdAt, updatedAt                                        int64
	)
	row := j.db.QueryRow(`SELECT exchange, symbol, order_id, venue_order_id,
		side, order_type, status, price, quantity, quantity_cumulative,
		created_at, updated_at FROM completed_orders`)
	require.NoError(t, row.Scan(&exchange, &symbol, &orderID, &venueID, &side,
		&orderType, &status, &price, &quantity, &cumulative, &createdAt, &updatedAt))

	assert.Equal(t, "FMFW", exchange)
	assert.Equal(t, "ETHUSDT", symbol)
	assert.Equal(t, "meld_fmfw_journal", orderID)
	assert.Equal(t, "987654", venueID)
	assert.Equal(t, "BUY", side)
	assert.Equal(t, "LIMIT", orderType)
	assert.Equal(t, "FILLED", status)
	assert.Equal(t, "2000.5", price)
	assert.Equal(t, "2", quantity)
	assert.Equal(t, "2", cumulative)
	assert.Equal(t, order.CreatedAt, createdAt)
	assert.Equal(t, order.UpdatedAt, updatedAt)
}

func TestSQLiteJournalAppendsInArrivalOrder(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.RecordCompleted(ctx, "FMFW", completedOrder("meld_fmfw_first")))
	require.NoError(t, j.RecordCompleted(ctx, "FMFW", completedOrder("meld_fmfw_second")))

	rows, err := j.db.Query(`SELECT order_id FROM completed_orders ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"meld_fmfw_first", "meld_fmfw_second"}, ids)
}

func TestSQLiteJournalWALMode(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteJournalRejectsNilOrder(t *testing.T) {
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	err = j.RecordCompleted(context.Background(), "FMFW", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOrderParameter))
}

func TestSQLiteJournalSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.RecordCompleted(ctx, "FMFW", completedOrder("meld_fmfw_before")))
	require.NoError(t, j.Close())

	j, err = NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.RecordCompleted(ctx, "FMFW", completedOrder("meld_fmfw_after")))

	var count int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM completed_orders").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMemoryJournalClonesEntries(t *testing.T) {
	j := NewMemoryJournal()
	defer j.Close()

	order := completedOrder("meld_fmfw_mem")
	require.NoError(t, j.RecordCompleted(context.Background(), "BITRUE", order))

	order.Status = core.OrderStatusCanceled

	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "BITRUE", entries[0].Exchange)
	assert.Equal(t, core.OrderStatusFilled, entries[0].Order.Status)
}
