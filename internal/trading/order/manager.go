// Package order tracks client orders through their lifecycle buckets, from
// strategy submission to venue-confirmed completion.
package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"
	"meld_bot/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// Manager aggregates one SubManager per configured pair and owns client
// order id generation. All bucket transitions are invoked by the exchange
// loop goroutine; the mutex exists for the read-only views consumed by the
// status hub and metrics callbacks.
type Manager struct {
	exchange string
	prefix   string
	logger   core.ILogger

	mu      sync.RWMutex
	symbols []string
	subs    map[string]*SubManager

	onCompleted func(*core.SpotOrder)

	addedCounter     metric.Int64Counter
	completedCounter metric.Int64Counter
	backlogCounter   metric.Int64Counter
}

// NewManager builds a manager with one sub-manager per pair
func NewManager(exchangeName, clientOrderPrefix string, pairs []*core.Pair, logger core.ILogger) *Manager {
	meter := telemetry.GetMeter("order-manager")
	addedCounter, _ := meter.Int64Counter("orders_submitted_total",
		metric.WithDescription("Total number of orders accepted for posting"))
	completedCounter, _ := meter.Int64Counter("orders_completed_total",
		metric.WithDescription("Total number of orders that reached a terminal state"))
	backlogCounter, _ := meter.Int64Counter("orders_backlogged_total",
		metric.WithDescription("Total number of orders parked on the backlog"))

	m := &Manager{
		exchange:         exchangeName,
		prefix:           clientOrderPrefix,
		logger:           logger.WithField("component", "order_manager").WithField("exchange", exchangeName),
		symbols:          make([]string, 0, len(pairs)),
		subs:             make(map[string]*SubManager, len(pairs)),
		addedCounter:     addedCounter,
		completedCounter: completedCounter,
		backlogCounter:   backlogCounter,
	}
	for _, pair := range pairs {
		symbol := pair.TradingPair()
		m.symbols = append(m.symbols, symbol)
		m.subs[symbol] = newSubManager(symbol)
	}
	return m
}

// SetCompletionHook registers a callback fired once per order transition
// into COMPLETED, outside the manager lock.
func (m *Manager) SetCompletionHook(fn func(*core.SpotOrder)) {
	m.mu.Lock()
	m.onCompleted = fn
	m.mu.Unlock()
}

// NewOrderID builds a process-unique client order id of at most 32 chars:
// prefix, lowercased exchange name, an underscore, then uuid hex truncated
// to the remaining budget.
func (m *Manager) NewOrderID() string {
	exchange := strings.ToLower(m.exchange)
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")

	keep := 32 - len(m.prefix) - len(exchange) - 1
	if keep > len(raw) {
		keep = len(raw)
	}
	if keep < 4 {
		keep = 4
	}
	return m.prefix + exchange + "_" + raw[:keep]
}

// sub resolves the sub-manager for an order's pair
func (m *Manager) sub(o *core.SpotOrder) (*SubManager, bool) {
	if o.Pair == nil {
		return nil, false
	}
	sub, ok := m.subs[o.Pair.TradingPair()]
	return sub, ok
}

// knows reports whether any sub-manager already holds the id
func (m *Manager) knows(orderID string) bool {
	for _, sub := range m.subs {
		if _, ok := sub.activeStatus[orderID]; ok {
			return true
		}
	}
	return false
}

// divide groups non-nil orders by pair symbol, dropping orders on symbols
// this manager was not configured with.
func (m *Manager) divide(spotOrders []*core.SpotOrder) map[string][]*core.SpotOrder {
	divided := make(map[string][]*core.SpotOrder, len(m.symbols))
	for _, o := range spotOrders {
		if o == nil {
			continue
		}
		if _, ok := m.sub(o); !ok {
			m.logger.Warn("dropping order on unconfigured symbol", "order_id", o.OrderID)
			continue
		}
		symbol := o.Pair.TradingPair()
		divided[symbol] = append(divided[symbol], o)
	}
	return divided
}

func (m *Manager) fireCompleted(hook func(*core.SpotOrder), completed []*core.SpotOrder) {
	if len(completed) == 0 {
		return
	}
	m.completedCounter.Add(context.Background(), int64(len(completed)))
	if hook == nil {
		return
	}
	for _, o := range completed {
		hook(o)
	}
}

// AddPostOrders registers a batch of fresh orders as INITIALIZED. Orders
// without an id get one assigned. The whole batch is validated before any
// state changes: an unknown pair or a reused id rejects everything.
func (m *Manager) AddPostOrders(spotOrders []*core.SpotOrder) error {
	if len(spotOrders) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(spotOrders))
	for _, o := range spotOrders {
		if o == nil {
			return fmt.Errorf("%w: nil order in post batch", apperrors.ErrInvalidOrderParameter)
		}
		if _, ok := m.sub(o); !ok {
			return fmt.Errorf("%w: order pair not configured", apperrors.ErrInvalidSymbol)
		}
		if o.OrderID == "" {
			o.OrderID = m.NewOrderID()
		}
		if m.knows(o.OrderID) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, o.OrderID)
		}
		if _, dup := seen[o.OrderID]; dup {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, o.OrderID)
		}
		seen[o.OrderID] = struct{}{}
	}

	for _, o := range spotOrders {
		sub, _ := m.sub(o)
		sub.addPost(o)
	}
	m.addedCounter.Add(context.Background(), int64(len(spotOrders)))
	return nil
}

// InitializedOrders flattens the INITIALIZED buckets across pairs into one
// POST batch and promotes every order to HANGING_POSTING.
func (m *Manager) InitializedOrders() []*core.SpotOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		batch = append(batch, m.subs[symbol].takeInitialized()...)
	}
	return batch
}

// PostedOrders applies the venue responses of a POST batch. Nil entries are
// absent responses; their orders drop back to INITIALIZED for the next
// interval.
func (m *Manager) PostedOrders(results []*core.SpotOrder) {
	m.mu.Lock()
	divided := m.divide(results)
	completed := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		completed = append(completed, m.subs[symbol].applyPosted(divided[symbol])...)
	}
	hook := m.onCompleted
	m.mu.Unlock()

	m.fireCompleted(hook, completed)
}

// AddCancelOrders queues ACTIVE orders for cancellation
func (m *Manager) AddCancelOrders(spotOrders []*core.SpotOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	divided := m.divide(spotOrders)
	for _, symbol := range m.symbols {
		m.subs[symbol].queueCancel(divided[symbol])
	}
}

// CancelAll queues every ACTIVE order on every pair for cancellation
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, symbol := range m.symbols {
		sub := m.subs[symbol]
		sub.queueCancel(sub.bucket(core.LifecycleActive))
	}
}

// CancelledOrders flattens the CANCELLED_LIST buckets into one DELETE batch
// and promotes every order to HANGING_CANCELLING.
func (m *Manager) CancelledOrders() []*core.SpotOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		batch = append(batch, m.subs[symbol].takeCancelled()...)
	}
	return batch
}

// CancelledResults applies the venue responses of a DELETE batch. Orders
// with absent responses return to CANCELLED_LIST and are retried.
func (m *Manager) CancelledResults(results []*core.SpotOrder) {
	m.mu.Lock()
	divided := m.divide(results)
	completed := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		completed = append(completed, m.subs[symbol].applyCancelled(divided[symbol])...)
	}
	hook := m.onCompleted
	m.mu.Unlock()

	m.fireCompleted(hook, completed)
}

// UpdateState applies query results for the tracked orders requested this
// interval. results must align positionally with requested; a nil entry
// marks its pair short, and short pairs skip their state update entirely
// this interval. The returned error wraps ErrInsufficientOrders and names
// the short pairs.
func (m *Manager) UpdateState(requested, results []*core.SpotOrder) error {
	if len(requested) == 0 {
		return nil
	}
	if len(results) != len(requested) {
		return fmt.Errorf("%w: %d results for %d tracked orders",
			apperrors.ErrInsufficientOrders, len(results), len(requested))
	}

	short := make(map[string]struct{})
	perPair := make(map[string][]*core.SpotOrder, len(m.symbols))
	for i, req := range requested {
		if req == nil {
			continue
		}
		symbol := req.Pair.TradingPair()
		if results[i] == nil {
			short[symbol] = struct{}{}
			continue
		}
		perPair[symbol] = append(perPair[symbol], results[i])
	}

	m.mu.Lock()
	completed := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		if _, skip := short[symbol]; skip {
			continue
		}
		if batch := perPair[symbol]; len(batch) > 0 {
			completed = append(completed, m.subs[symbol].updateState(batch)...)
		}
	}
	hook := m.onCompleted
	m.mu.Unlock()

	m.fireCompleted(hook, completed)

	if len(short) > 0 {
		pairs := make([]string, 0, len(short))
		for symbol := range short {
			pairs = append(pairs, symbol)
		}
		sort.Strings(pairs)
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientOrders, strings.Join(pairs, ", "))
	}
	return nil
}

// InsertActiveOrders seeds venue-learned orders straight into ACTIVE and
// tracked. Used on cold start, before any local submissions exist.
func (m *Manager) InsertActiveOrders(spotOrders []*core.SpotOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	divided := m.divide(spotOrders)
	for _, symbol := range m.symbols {
		m.subs[symbol].insertActive(divided[symbol])
	}
}

// AddBacklog parks the unfilled remainder of the given ACTIVE orders (all
// of them when all is set) and queues the originals for cancellation.
func (m *Manager) AddBacklog(spotOrders []*core.SpotOrder, all bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parked := 0
	if all {
		for _, symbol := range m.symbols {
			sub := m.subs[symbol]
			active := sub.bucket(core.LifecycleActive)
			sub.addBacklog(active)
			parked += len(active)
		}
	} else {
		divided := m.divide(spotOrders)
		for _, symbol := range m.symbols {
			m.subs[symbol].addBacklog(divided[symbol])
			parked += len(divided[symbol])
		}
	}
	if parked > 0 {
		m.backlogCounter.Add(context.Background(), int64(parked))
	}
}

// RecoverBacklog resubmits every parked remainder as a fresh order through
// submit, then drops the backlog. The resubmissions carry no id so the
// post path assigns new ones; a failed submit keeps the backlog intact.
func (m *Manager) RecoverBacklog(submit func([]*core.SpotOrder) error) error {
	m.mu.Lock()
	resubmit := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		for _, entry := range m.subs[symbol].backlogOrders() {
			fresh := entry.Clone()
			fresh.OrderID = ""
			fresh.VenueOrderID = ""
			fresh.Status = core.OrderStatusNew
			fresh.QuantityCumulative = decimal.Zero
			now := time.Now().Unix()
			fresh.CreatedAt = now
			fresh.UpdatedAt = now
			resubmit = append(resubmit, fresh)
		}
	}
	m.mu.Unlock()

	if len(resubmit) == 0 {
		return nil
	}
	if err := submit(resubmit); err != nil {
		return fmt.Errorf("backlog recovery rejected: %w", err)
	}

	m.mu.Lock()
	for _, sub := range m.subs {
		sub.clearBacklog()
	}
	m.mu.Unlock()
	return nil
}

// ActiveOrders returns every order currently in the ACTIVE bucket
func (m *Manager) ActiveOrders() []*core.SpotOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		orders = append(orders, m.subs[symbol].bucket(core.LifecycleActive)...)
	}
	return orders
}

// TrackedOrders returns the orders polled by the warm fetch path
func (m *Manager) TrackedOrders() []*core.SpotOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		sub := m.subs[symbol]
		for _, o := range sub.tracked {
			orders = append(orders, o)
		}
	}
	return orders
}

// BacklogOrders returns the parked remainders across all pairs
func (m *Manager) BacklogOrders() []*core.SpotOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*core.SpotOrder, 0)
	for _, symbol := range m.symbols {
		orders = append(orders, m.subs[symbol].backlogOrders()...)
	}
	return orders
}

// StateOf reports the lifecycle bucket currently holding the id
func (m *Manager) StateOf(orderID string) (core.LifecycleState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if state, ok := sub.activeStatus[orderID]; ok {
			return state, true
		}
	}
	return 0, false
}

// Tracked reports whether the id is in the tracked set
func (m *Manager) Tracked(orderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if _, ok := sub.tracked[orderID]; ok {
			return true
		}
	}
	return false
}

// Counts reports the bucket sizes summed across pairs, keyed by state name.
// Consumed by the status hub snapshot.
func (m *Manager) Counts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(core.AllLifecycleStates))
	for _, state := range core.AllLifecycleStates {
		total := 0
		for _, sub := range m.subs {
			total += len(sub.orders[state])
		}
		counts[state.String()] = total
	}
	return counts
}

// PendingCount reports how many orders sit in the dispatch queues or await
// a venue response, everything between submission and ACTIVE or terminal.
// Strategies hold off quoting while this is non-zero.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, state := range core.AllLifecycleStates {
		if state == core.LifecycleActive || state == core.LifecycleCompleted {
			continue
		}
		for _, sub := range m.subs {
			total += len(sub.orders[state])
		}
	}
	return total
}

// TrackedCount reports how many orders the warm path polls
func (m *Manager) TrackedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, sub := range m.subs {
		total += len(sub.tracked)
	}
	return total
}
