// Package core defines the domain entities and core interfaces for the spot bot
package core

import (
	"context"
	"time"
)

// ConnectorConfig carries everything a venue connector needs before its
// first request. Connectors are created empty by the registry and
// configured once.
type ConnectorConfig struct {
	Pairs       []*Pair
	Account     Account
	RetryNum    int
	Timeout     time.Duration // per-attempt HTTP timeout
	CallTimeout time.Duration // budget for a whole call including retries
	BaseURL     string        // override for tests, empty = venue default
}

// IConnector is the uniform surface over one venue's REST API. Map results
// are keyed by Pair.TradingPair(). Batch operations return positionally
// aligned slices with nil entries where the venue gave no usable answer.
type IConnector interface {
	GetName() string
	Configure(cfg ConnectorConfig) error

	GetInventoryBalance(ctx context.Context) (map[string]Balance, error)
	GetOrderBook(ctx context.Context) (map[string]*OrderBook, error)
	GetTickers(ctx context.Context) (map[string]*Tickers, error)
	GetTradingCandles(ctx context.Context, period CandlePeriod) (map[string]*PriceCandles, error)
	GetActiveSpotOrders(ctx context.Context) ([]*SpotOrder, error)

	CreateSpotOrder(ctx context.Context, order *SpotOrder) (*SpotOrder, error)
	CreateSpotOrders(ctx context.Context, orders []*SpotOrder) []*SpotOrder
	CancelSpotOrder(ctx context.Context, order *SpotOrder) (*SpotOrder, error)
	CancelSpotOrders(ctx context.Context, orders []*SpotOrder) []*SpotOrder
	CancelAllSpotOrders(ctx context.Context) error
	QueryOrder(ctx context.Context, order *SpotOrder) (*SpotOrder, error)
	QueryOrders(ctx context.Context, orders []*SpotOrder) []*SpotOrder
}

// IStrategy is a pluggable strategy body. Run is invoked once per interval
// for every exchange that reported readiness; implementations interact with
// the market solely through the exchange facade they were constructed with.
type IStrategy interface {
	Run(ctx context.Context) error
}

// IOrderJournal records orders that reached a terminal state. Implementations
// are write-only during a run; nothing reads the journal back.
type IOrderJournal interface {
	RecordCompleted(ctx context.Context, exchange string, order *SpotOrder) error
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
