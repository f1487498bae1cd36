// Package mock provides an in-memory venue implementing the connector
// contract. Tests script its market data and failures instead of standing
// up HTTP fixtures.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"

	"github.com/shopspring/decimal"
)

// Operation names accepted by SetFailure
const (
	OpInventory    = "inventory"
	OpOrderBook    = "order_book"
	OpTickers      = "tickers"
	OpCandles      = "candles"
	OpActiveOrders = "active_orders"
	OpCreate       = "create"
	OpCancel       = "cancel"
	OpCancelAll    = "cancel_all"
	OpQuery        = "query"
)

// Connector is an in-memory venue. Market data is whatever the test loaded;
// orders rest until FillOrder or a cancel touches them. A duplicate client
// order id on create is rejected the way real venues reject it.
type Connector struct {
	name string

	mu       sync.RWMutex
	balances map[string]core.Balance
	books    map[string]*core.OrderBook
	tickers  map[string]*core.Tickers
	candles  map[string]*core.PriceCandles

	orders       map[string]*core.SpotOrder
	venueCounter int64

	failures     map[string]error
	absentOrders map[string]bool
}

func NewConnector(name string) *Connector {
	return &Connector{
		name:         name,
		balances:     make(map[string]core.Balance),
		books:        make(map[string]*core.OrderBook),
		tickers:      make(map[string]*core.Tickers),
		candles:      make(map[string]*core.PriceCandles),
		orders:       make(map[string]*core.SpotOrder),
		venueCounter: 1000,
		failures:     make(map[string]error),
		absentOrders: make(map[string]bool),
	}
}

func (m *Connector) GetName() string { return m.name }

func (m *Connector) Configure(cfg core.ConnectorConfig) error { return nil }

// SetFailure scripts an error for one operation; nil clears it
func (m *Connector) SetFailure(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, operation)
		return
	}
	m.failures[operation] = err
}

// SetOrderAbsent makes per-order operations yield no answer for the id, as
// if the venue response for that order never arrived.
func (m *Connector) SetOrderAbsent(orderID string, absent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !absent {
		delete(m.absentOrders, orderID)
		return
	}
	m.absentOrders[orderID] = true
}

func (m *Connector) SetBalance(token string, free, used decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] = core.Balance{Free: free, Used: used, Total: free.Add(used)}
}

func (m *Connector) SetOrderBook(symbol string, book *core.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[symbol] = book
}

func (m *Connector) SetTickers(symbol string, tickers *core.Tickers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = tickers
}

func (m *Connector) SetCandles(symbol string, candles *core.PriceCandles) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SeedOrder plants an order directly on the venue, as if it predates this
// process. Used by cold-start tests.
func (m *Connector) SeedOrder(order *core.SpotOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.OrderID] = order.Clone()
}

// FillOrder advances an order's executed quantity. The order turns FILLED
// once the full quantity is reached.
func (m *Connector) FillOrder(orderID string, quantity decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	o.QuantityCumulative = o.QuantityCumulative.Add(quantity)
	if o.QuantityCumulative.GreaterThanOrEqual(o.Quantity) {
		o.QuantityCumulative = o.Quantity
		o.Status = core.OrderStatusFilled
	} else {
		o.Status = core.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().Unix()
	return nil
}

// Order returns a copy of the venue's record for the id
func (m *Connector) Order(orderID string) (*core.SpotOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OpenOrderCount reports how many venue orders are still live
func (m *Connector) OpenOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			n++
		}
	}
	return n
}

func (m *Connector) GetInventoryBalance(ctx context.Context) (map[string]core.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpInventory]; err != nil {
		return nil, err
	}
	out := make(map[string]core.Balance, len(m.balances))
	for token, b := range m.balances {
		out[token] = b
	}
	return out, nil
}

func (m *Connector) GetOrderBook(ctx context.Context) (map[string]*core.OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpOrderBook]; err != nil {
		return nil, err
	}
	out := make(map[string]*core.OrderBook, len(m.books))
	for symbol, book := range m.books {
		out[symbol] = book
	}
	return out, nil
}

func (m *Connector) GetTickers(ctx context.Context) (map[string]*core.Tickers, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpTickers]; err != nil {
		return nil, err
	}
	out := make(map[string]*core.Tickers, len(m.tickers))
	for symbol, tk := range m.tickers {
		out[symbol] = tk
	}
	return out, nil
}

func (m *Connector) GetTradingCandles(ctx context.Context, period core.CandlePeriod) (map[string]*core.PriceCandles, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpCandles]; err != nil {
		return nil, err
	}
	out := make(map[string]*core.PriceCandles, len(m.candles))
	for symbol, c := range m.candles {
		out[symbol] = c
	}
	return out, nil
}

func (m *Connector) GetActiveSpotOrders(ctx context.Context) ([]*core.SpotOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpActiveOrders]; err != nil {
		return nil, err
	}
	active := make([]*core.SpotOrder, 0)
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			active = append(active, o.Clone())
		}
	}
	return active, nil
}

func (m *Connector) CreateSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpCreate]; err != nil {
		return nil, err
	}
	if order == nil || order.Pair == nil {
		return nil, apperrors.ErrInvalidOrderParameter
	}
	if m.absentOrders[order.OrderID] {
		return nil, fmt.Errorf("%w: create %s", apperrors.ErrTimeout, order.OrderID)
	}
	if _, exists := m.orders[order.OrderID]; exists {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, order.OrderID)
	}

	m.venueCounter++
	stored := order.Clone()
	stored.VenueOrderID = strconv.FormatInt(m.venueCounter, 10)
	stored.Status = core.OrderStatusNew
	now := time.Now().Unix()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.orders[stored.OrderID] = stored
	return stored.Clone(), nil
}

func (m *Connector) CreateSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	results := make([]*core.SpotOrder, len(orders))
	for i, o := range orders {
		if o == nil {
			continue
		}
		created, err := m.CreateSpotOrder(ctx, o)
		if err != nil {
			continue
		}
		results[i] = created
	}
	return results
}

func (m *Connector) CancelSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpCancel]; err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.ErrInvalidOrderParameter
	}
	if m.absentOrders[order.OrderID] {
		return nil, fmt.Errorf("%w: cancel %s", apperrors.ErrTimeout, order.OrderID)
	}
	stored, ok := m.orders[order.OrderID]
	if !ok || stored.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, order.OrderID)
	}
	stored.Status = core.OrderStatusCanceled
	stored.UpdatedAt = time.Now().Unix()
	return stored.Clone(), nil
}

func (m *Connector) CancelSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	results := make([]*core.SpotOrder, len(orders))
	for i, o := range orders {
		if o == nil {
			continue
		}
		cancelled, err := m.CancelSpotOrder(ctx, o)
		if err != nil {
			continue
		}
		results[i] = cancelled
	}
	return results
}

func (m *Connector) CancelAllSpotOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpCancelAll]; err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			o.Status = core.OrderStatusCanceled
			o.UpdatedAt = now
		}
	}
	return nil
}

func (m *Connector) QueryOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[OpQuery]; err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.ErrInvalidOrderParameter
	}
	if m.absentOrders[order.OrderID] {
		return nil, fmt.Errorf("%w: query %s", apperrors.ErrTimeout, order.OrderID)
	}
	stored, ok := m.orders[order.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, order.OrderID)
	}
	return stored.Clone(), nil
}

func (m *Connector) QueryOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	results := make([]*core.SpotOrder, len(orders))
	for i, o := range orders {
		if o == nil {
			continue
		}
		queried, err := m.QueryOrder(ctx, o)
		if err != nil {
			continue
		}
		results[i] = queried
	}
	return results
}
