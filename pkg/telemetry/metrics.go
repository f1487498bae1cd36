package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersActive         = "meld_bot_orders_active"
	MetricOrdersPlacedTotal    = "meld_bot_orders_placed_total"
	MetricOrdersCompletedTotal = "meld_bot_orders_completed_total"
	MetricOrdersRejectedTotal  = "meld_bot_orders_rejected_total"
	MetricIntervalsTotal       = "meld_bot_intervals_total"
	MetricFetchFailuresTotal   = "meld_bot_fetch_failures_total"
	MetricInventoryFree        = "meld_bot_inventory_free"
	MetricBacklogSize          = "meld_bot_backlog_size"
	MetricMarketReady          = "meld_bot_market_ready"
)

// PairKey labels per-pair observable state
type PairKey struct {
	Exchange string
	Pair     string
}

// TokenKey labels per-token observable state
type TokenKey struct {
	Exchange string
	Token    string
}

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersCompletedTotal metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	IntervalsTotal       metric.Int64Counter
	FetchFailuresTotal   metric.Int64Counter
	OrdersActive         metric.Int64ObservableGauge
	InventoryFree        metric.Float64ObservableGauge
	BacklogSize          metric.Int64ObservableGauge
	MarketReady          metric.Int64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	activeOrdersMap  map[PairKey]int64
	backlogSizeMap   map[PairKey]int64
	inventoryFreeMap map[TokenKey]float64
	marketReadyMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments are
// bound to the ambient meter provider on first use; callers that install a
// real provider afterwards rebind through InitMetrics.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap:  make(map[PairKey]int64),
			backlogSizeMap:   make(map[PairKey]int64),
			inventoryFreeMap: make(map[TokenKey]float64),
			marketReadyMap:   make(map[string]int64),
		}
		_ = globalMetrics.InitMetrics(GetMeter("meld_bot"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to venues"))
	if err != nil {
		return err
	}

	m.OrdersCompletedTotal, err = meter.Int64Counter(MetricOrdersCompletedTotal, metric.WithDescription("Total orders that reached a terminal state"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total order batches rejected by the inventory pre-flight check"))
	if err != nil {
		return err
	}

	m.IntervalsTotal, err = meter.Int64Counter(MetricIntervalsTotal, metric.WithDescription("Total completed loop intervals"))
	if err != nil {
		return err
	}

	m.FetchFailuresTotal, err = meter.Int64Counter(MetricFetchFailuresTotal, metric.WithDescription("Total fetch operations that returned nothing"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently tracked open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(
					attribute.String("exchange", key.Exchange),
					attribute.String("pair", key.Pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BacklogSize, err = meter.Int64ObservableGauge(MetricBacklogSize, metric.WithDescription("Number of withheld order remainders awaiting recovery"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.backlogSizeMap {
				obs.Observe(val, metric.WithAttributes(
					attribute.String("exchange", key.Exchange),
					attribute.String("pair", key.Pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.InventoryFree, err = meter.Float64ObservableGauge(MetricInventoryFree, metric.WithDescription("Free balance per token from the latest snapshot"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.inventoryFreeMap {
				obs.Observe(val, metric.WithAttributes(
					attribute.String("exchange", key.Exchange),
					attribute.String("token", key.Token)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.MarketReady, err = meter.Int64ObservableGauge(MetricMarketReady, metric.WithDescription("Market readiness per exchange (1=ready, 0=not ready)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for exch, val := range m.marketReadyMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("exchange", exch)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(exchange, pair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[PairKey{Exchange: exchange, Pair: pair}] = count
}

func (m *MetricsHolder) SetBacklogSize(exchange, pair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlogSizeMap[PairKey{Exchange: exchange, Pair: pair}] = count
}

func (m *MetricsHolder) SetInventoryFree(exchange, token string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventoryFreeMap[TokenKey{Exchange: exchange, Token: token}] = free
}

func (m *MetricsHolder) SetMarketReady(exchange string, ready bool) {
	val := int64(0)
	if ready {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketReadyMap[exchange] = val
}

func (m *MetricsHolder) GetActiveOrders() map[PairKey]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[PairKey]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetMarketReady() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.marketReadyMap {
		res[k] = v
	}
	return res
}
