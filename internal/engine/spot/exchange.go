// Package spot runs the per-exchange control loop. Every interval three
// cooperative tasks are launched: a timer that bounds the interval from
// below, a fetch fan-out that refreshes market data, and a reconcile step
// that hands the market to the strategy and dispatches the order batches it
// queued. The tasks coordinate through the observable StatusBlock.
package spot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/trading/order"
	apperrors "meld_bot/pkg/errors"
	"meld_bot/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Config carries the per-exchange loop settings resolved from the bot profile
type Config struct {
	ExchangeName        string
	ClientOrderPrefix   string
	LoopInterval        time.Duration
	CallTimeout         time.Duration
	BufferOrderQuantity decimal.Decimal
	CandlePeriod        core.CandlePeriod
	HistoryCap          int
	CancelOnExit        bool
}

func (c Config) withDefaults() Config {
	if c.ClientOrderPrefix == "" {
		c.ClientOrderPrefix = "meld_"
	}
	if c.LoopInterval <= 0 {
		c.LoopInterval = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	if c.BufferOrderQuantity.LessThanOrEqual(decimal.Zero) {
		c.BufferOrderQuantity = decimal.RequireFromString("1.01")
	}
	if c.CandlePeriod == "" {
		c.CandlePeriod = core.PeriodM1
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 100
	}
	return c
}

// SpotExchange owns one venue connector, the subscribed pairs with their
// market histories, the inventory, and the order lifecycle manager. The
// strategy talks to the market only through its facade methods.
type SpotExchange struct {
	cfg       Config
	connector core.IConnector
	pairs     []*core.Pair
	inventory *core.Inventory
	orders    *order.Manager
	journal   core.IOrderJournal
	logger    core.ILogger
	status    *StatusBlock
	metrics   *telemetry.MetricsHolder
	tracer    trace.Tracer

	lastFetch atomic.Int64 // unix nanos of the last fetch that produced data

	intervalHook func() // optional, runs at each interval end
}

// NewSpotExchange wires a loop around an already configured connector. A nil
// journal disables completed-order persistence.
func NewSpotExchange(cfg Config, connector core.IConnector, pairs []*core.Pair, journal core.IOrderJournal, logger core.ILogger) *SpotExchange {
	cfg = cfg.withDefaults()
	log := logger.WithField("component", "spot_exchange").WithField("exchange", cfg.ExchangeName)

	e := &SpotExchange{
		cfg:       cfg,
		connector: connector,
		pairs:     pairs,
		inventory: core.NewInventory(cfg.HistoryCap),
		orders:    order.NewManager(cfg.ExchangeName, cfg.ClientOrderPrefix, pairs, logger),
		journal:   journal,
		logger:    log,
		status:    NewStatusBlock(),
		metrics:   telemetry.GetGlobalMetrics(),
		tracer:    telemetry.GetTracer("spot-exchange"),
	}
	e.orders.SetCompletionHook(e.onOrderCompleted)
	return e
}

func (e *SpotExchange) Name() string { return e.cfg.ExchangeName }

// Pairs returns every subscribed pair
func (e *SpotExchange) Pairs() []*core.Pair { return e.pairs }

// Pair returns the first subscribed pair, the common single-pair case
func (e *SpotExchange) Pair() *core.Pair {
	if len(e.pairs) == 0 {
		return nil
	}
	return e.pairs[0]
}

func (e *SpotExchange) Inventory() *core.Inventory { return e.inventory }

func (e *SpotExchange) Status() *StatusBlock { return e.status }

// Orders exposes the lifecycle manager for the status hub and tests
func (e *SpotExchange) Orders() *order.Manager { return e.orders }

// GetActiveSpotOrders returns the orders currently resting on the venue
func (e *SpotExchange) GetActiveSpotOrders() []*core.SpotOrder {
	return e.orders.ActiveOrders()
}

// LastFetchUnixNano reports when market data last landed, 0 before the first
// successful fetch. Health checks alarm on staleness.
func (e *SpotExchange) LastFetchUnixNano() int64 { return e.lastFetch.Load() }

// SetIntervalHook registers fn to run after every interval completes. The
// status hub uses it to broadcast a fresh snapshot. Wire before Run; the
// loop reads the field unsynchronized.
func (e *SpotExchange) SetIntervalHook(fn func()) { e.intervalHook = fn }

// Close asks the loop to stop after the current interval
func (e *SpotExchange) Close() {
	e.status.SetEnabled(false)
	e.logger.Info("exchange close requested")
}

// Run drives the interval loop until Close is called or the context ends.
// The interval-start status resets happen on this goroutine, before the
// tasks launch, so no task can observe the previous interval's end state.
func (e *SpotExchange) Run(ctx context.Context) error {
	e.logger.Info("starting exchange loop",
		"interval", e.cfg.LoopInterval.String(), "pairs", len(e.pairs))

	for e.status.Enabled() && ctx.Err() == nil {
		ictx, span := e.tracer.Start(ctx, "interval",
			trace.WithAttributes(attribute.String("exchange", e.cfg.ExchangeName)))
		start := time.Now()

		e.status.setMainProcessStatus(core.StatusProcessing)
		e.status.SetStrategyCalculationStatus(core.StatusProcessing)
		e.status.setReadyForStrategy(false)
		e.status.setFetchDataStatus(core.StatusProcessing)

		var g errgroup.Group
		g.Go(func() error { e.intervalTimer(ictx); return nil })
		g.Go(func() error { e.fetchData(ictx); return nil })
		g.Go(func() error { e.reconcile(ictx); return nil })
		_ = g.Wait()

		e.publishMetrics()
		if e.intervalHook != nil {
			e.intervalHook()
		}
		span.SetAttributes(attribute.String("market_ready", e.status.MarketReady().String()))
		span.End()
		e.logger.Debug("interval complete", "elapsed", time.Since(start).String())
	}

	e.shutdown()
	e.logger.Info("exchange loop stopped")
	return nil
}

// intervalTimer bounds the interval from below. It owns the PROCESSED
// transition of MAIN_PROCESS; reconcile polls that flag to know when to
// give up for the interval.
func (e *SpotExchange) intervalTimer(ctx context.Context) {
	select {
	case <-time.After(e.cfg.LoopInterval):
	case <-ctx.Done():
	}
	e.status.setMainProcessStatus(core.StatusProcessed)
}

func (e *SpotExchange) fetchData(ctx context.Context) {
	if e.status.MarketReady() != core.MarketReady {
		e.coldFetch(ctx)
		return
	}
	e.warmFetch(ctx)
}

// coldFetch is the first-interval path: all five snapshots must land before
// the market is declared ready. Any miss leaves readiness unchanged and the
// next interval retries from scratch.
func (e *SpotExchange) coldFetch(ctx context.Context) {
	var (
		balances map[string]core.Balance
		books    map[string]*core.OrderBook
		candles  map[string]*core.PriceCandles
		tickers  map[string]*core.Tickers
		active   []*core.SpotOrder

		okBalances, okBooks, okCandles, okTickers, okActive bool
	)

	var g errgroup.Group
	g.Go(func() error { balances, okBalances = e.fetchInventory(ctx); return nil })
	g.Go(func() error { books, okBooks = e.fetchOrderBook(ctx); return nil })
	g.Go(func() error { candles, okCandles = e.fetchCandles(ctx); return nil })
	g.Go(func() error { tickers, okTickers = e.fetchTickers(ctx); return nil })
	g.Go(func() error { active, okActive = e.fetchActiveOrders(ctx); return nil })
	_ = g.Wait()

	if !okBalances || !okBooks || !okCandles || !okTickers || !okActive {
		e.logger.Warn("market not ready, fetch incomplete, retrying next interval")
		e.status.setFetchDataStatus(core.StatusProcessedError)
		return
	}

	e.applySnapshots(books, candles, tickers)
	e.inventory.SetBalances(balances)
	e.orders.InsertActiveOrders(active)
	e.lastFetch.Store(time.Now().UnixNano())

	e.status.setMarketReady(core.MarketReady)
	e.logger.Info("exchange ready", "active_orders", len(active))
	e.status.setFetchDataStatus(core.StatusProcessed)
}

// warmFetch is the steady-state path. Individual misses are tolerated,
// except inventory: without a balance snapshot the whole interval's
// reconciliation is skipped.
func (e *SpotExchange) warmFetch(ctx context.Context) {
	tracked := e.orders.TrackedOrders()

	var (
		balances map[string]core.Balance
		books    map[string]*core.OrderBook
		candles  map[string]*core.PriceCandles
		tickers  map[string]*core.Tickers
		queried  []*core.SpotOrder

		okBalances, okBooks, okCandles, okTickers bool
	)

	var g errgroup.Group
	g.Go(func() error { balances, okBalances = e.fetchInventory(ctx); return nil })
	g.Go(func() error { books, okBooks = e.fetchOrderBook(ctx); return nil })
	g.Go(func() error { candles, okCandles = e.fetchCandles(ctx); return nil })
	g.Go(func() error { tickers, okTickers = e.fetchTickers(ctx); return nil })
	g.Go(func() error {
		if len(tracked) > 0 {
			queried = e.connector.QueryOrders(ctx, tracked)
		}
		return nil
	})
	_ = g.Wait()

	if !okBalances {
		e.logger.Warn("no inventory data, skipping reconciliation this interval")
		e.status.setFetchDataStatus(core.StatusProcessedError)
		return
	}
	e.inventory.SetBalances(balances)

	if okBooks && len(books) > 0 {
		e.applyBooks(books)
	} else {
		e.logger.Warn("no order book data")
	}
	if okCandles && len(candles) > 0 {
		e.applyCandles(candles)
	} else {
		e.logger.Warn("no candle data")
	}
	if okTickers && len(tickers) > 0 {
		e.applyTickers(tickers)
	} else {
		e.logger.Warn("no tickers data")
	}

	if len(tracked) > 0 {
		if err := e.orders.UpdateState(tracked, queried); err != nil {
			e.logger.Warn("order state update incomplete", "error", err)
		}
	}

	e.lastFetch.Store(time.Now().UnixNano())
	e.status.setFetchDataStatus(core.StatusProcessed)
}

// reconcile busy-polls readiness, raises the strategy gate, then dispatches
// whatever the strategy queued. The poll yields at least a millisecond per
// turn and gives up when the timer marks the interval over.
func (e *SpotExchange) reconcile(ctx context.Context) {
	for e.status.MainProcessStatus() == core.StatusProcessing {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}

		if e.status.MarketReady() != core.MarketReady {
			continue
		}

		switch e.status.FetchDataStatus() {
		case core.StatusProcessed:
			e.status.setReadyForStrategy(true)
			if e.status.StrategyCalculationStatus() != core.StatusProcessed {
				e.status.setProcessActionStatus(core.StatusProcessing)
				continue
			}
			e.status.setReadyForStrategy(false)
			e.dispatch(ctx)
			return
		case core.StatusProcessing:
			e.status.setReadyForStrategy(false)
			e.status.setProcessActionStatus(core.StatusProcessing)
		default:
			// Fetch gave up for this interval
			e.status.setReadyForStrategy(false)
			e.status.setProcessActionStatus(core.StatusProcessing)
			return
		}
	}
}

// dispatch submits the cancel and post batches concurrently, then applies
// the venue responses: cancels first, then posts.
func (e *SpotExchange) dispatch(ctx context.Context) {
	cancelBatch := e.orders.CancelledOrders()
	postBatch := e.orders.InitializedOrders()

	if len(cancelBatch) == 0 && len(postBatch) == 0 {
		e.status.setProcessActionStatus(core.StatusProcessed)
		return
	}

	var cancelResults, postResults []*core.SpotOrder
	var g errgroup.Group
	if len(cancelBatch) > 0 {
		g.Go(func() error {
			cancelResults = e.connector.CancelSpotOrders(ctx, cancelBatch)
			return nil
		})
	}
	if len(postBatch) > 0 {
		g.Go(func() error {
			postResults = e.connector.CreateSpotOrders(ctx, postBatch)
			return nil
		})
	}
	_ = g.Wait()

	if len(cancelBatch) > 0 {
		e.orders.CancelledResults(cancelResults)
	}
	if len(postBatch) > 0 {
		e.orders.PostedOrders(postResults)
	}

	e.logger.Debug("batches dispatched",
		"posted", len(postBatch), "cancelled", len(cancelBatch))
	e.status.setProcessActionStatus(core.StatusProcessed)
}

// CreateSpotOrder posts a single order through the inventory gate. Use when
// only one order is quoted in an interval.
func (e *SpotExchange) CreateSpotOrder(spotOrder *core.SpotOrder) error {
	return e.CreateSpotOrders([]*core.SpotOrder{spotOrder})
}

// CreateSpotOrders queues a batch of orders for the next POST dispatch. Each
// order gets status NEW and a fresh client id if it carries none. The
// inventory gate aggregates the batch per pair with the safety buffer; a
// failed check rejects the whole batch.
func (e *SpotExchange) CreateSpotOrders(spotOrders []*core.SpotOrder) error {
	if len(spotOrders) == 0 {
		return nil
	}

	for _, o := range spotOrders {
		if o == nil || o.Pair == nil {
			return fmt.Errorf("%w: nil order in create batch", apperrors.ErrInvalidOrderParameter)
		}
		o.Status = core.OrderStatusNew
		if o.OrderID == "" {
			o.OrderID = e.orders.NewOrderID()
		}
	}

	if err := e.checkInventory(spotOrders); err != nil {
		e.metrics.OrdersRejectedTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("exchange", e.cfg.ExchangeName)))
		return err
	}

	for _, o := range spotOrders {
		e.logger.Info("posting order",
			"pair", o.Pair.TradingPair(), "side", string(o.Side), "type", string(o.Type),
			"quantity", o.Quantity.String(), "price", o.Price.String())
	}
	if err := e.orders.AddPostOrders(spotOrders); err != nil {
		return err
	}
	e.metrics.OrdersPlacedTotal.Add(context.Background(), int64(len(spotOrders)),
		metric.WithAttributes(attribute.String("exchange", e.cfg.ExchangeName)))
	return nil
}

// checkInventory aggregates the batch per pair and compares against the
// latest balance snapshot with the safety buffer: buys are measured in
// quote, sells in base.
func (e *SpotExchange) checkInventory(spotOrders []*core.SpotOrder) error {
	buyTotal := make(map[string]decimal.Decimal)
	sellTotal := make(map[string]decimal.Decimal)
	pairBySymbol := make(map[string]*core.Pair)

	for _, o := range spotOrders {
		symbol := o.Pair.TradingPair()
		pairBySymbol[symbol] = o.Pair
		if o.Side == core.SideBuy {
			buyTotal[symbol] = buyTotal[symbol].Add(o.Quantity.Mul(o.Price))
		} else {
			sellTotal[symbol] = sellTotal[symbol].Add(o.Quantity)
		}
	}

	buffer := e.cfg.BufferOrderQuantity
	for symbol, pair := range pairBySymbol {
		if sum, ok := buyTotal[symbol]; ok {
			free := e.inventory.FreeBalance(pair.Quote)
			if sum.Mul(buffer).GreaterThanOrEqual(free) {
				e.logger.Error("buy volume exceeds inventory",
					"pair", symbol, "volume", sum.Mul(buffer).String(),
					"free", free.String(), "token", pair.Quote.String())
				return fmt.Errorf("%w: buy volume %s exceeds free %s %s",
					apperrors.ErrInsufficientFunds, sum.String(), pair.Quote, free.String())
			}
		}
		if sum, ok := sellTotal[symbol]; ok {
			free := e.inventory.FreeBalance(pair.Base)
			if sum.GreaterThan(free.Mul(buffer)) {
				e.logger.Error("sell volume exceeds inventory",
					"pair", symbol, "volume", sum.String(),
					"free", free.String(), "token", pair.Base.String())
				return fmt.Errorf("%w: sell volume %s exceeds free %s %s",
					apperrors.ErrInsufficientFunds, sum.String(), pair.Base, free.String())
			}
		}
	}
	return nil
}

// CancelSpotOrders queues active orders for the next DELETE dispatch
func (e *SpotExchange) CancelSpotOrders(spotOrders []*core.SpotOrder) {
	e.orders.AddCancelOrders(spotOrders)
}

// CancelAllSpotOrders queues every active order for cancellation
func (e *SpotExchange) CancelAllSpotOrders() {
	e.orders.CancelAll()
	e.logger.Info("cancelling all spot orders")
}

// AddBacklog parks the unfilled remainders of the given active orders and
// queues the originals for cancellation.
func (e *SpotExchange) AddBacklog(spotOrders []*core.SpotOrder, all bool) {
	e.orders.AddBacklog(spotOrders, all)
}

// RecoverBacklog resubmits the parked remainders through the facade, so the
// inventory gate and id assignment apply to the recovered orders too.
func (e *SpotExchange) RecoverBacklog() error {
	return e.orders.RecoverBacklog(e.CreateSpotOrders)
}

func (e *SpotExchange) applySnapshots(books map[string]*core.OrderBook, candles map[string]*core.PriceCandles, tickers map[string]*core.Tickers) {
	e.applyBooks(books)
	e.applyCandles(candles)
	e.applyTickers(tickers)
}

func (e *SpotExchange) applyBooks(books map[string]*core.OrderBook) {
	for _, pair := range e.pairs {
		if book := books[pair.TradingPair()]; book != nil {
			pair.SetOrderBook(book)
		}
	}
}

func (e *SpotExchange) applyCandles(candles map[string]*core.PriceCandles) {
	for _, pair := range e.pairs {
		if c := candles[pair.TradingPair()]; c != nil {
			pair.SetCandles(c)
		}
	}
}

func (e *SpotExchange) applyTickers(tickers map[string]*core.Tickers) {
	for _, pair := range e.pairs {
		if tk := tickers[pair.TradingPair()]; tk != nil {
			pair.SetTickers(tk)
		}
	}
}

func (e *SpotExchange) fetchInventory(ctx context.Context) (map[string]core.Balance, bool) {
	balances, err := e.connector.GetInventoryBalance(ctx)
	if err != nil {
		e.noteFetchFailure("inventory", err)
		return nil, false
	}
	return balances, true
}

func (e *SpotExchange) fetchOrderBook(ctx context.Context) (map[string]*core.OrderBook, bool) {
	books, err := e.connector.GetOrderBook(ctx)
	if err != nil {
		e.noteFetchFailure("order_book", err)
		return nil, false
	}
	return books, true
}

func (e *SpotExchange) fetchCandles(ctx context.Context) (map[string]*core.PriceCandles, bool) {
	candles, err := e.connector.GetTradingCandles(ctx, e.cfg.CandlePeriod)
	if err != nil {
		e.noteFetchFailure("candles", err)
		return nil, false
	}
	return candles, true
}

func (e *SpotExchange) fetchTickers(ctx context.Context) (map[string]*core.Tickers, bool) {
	tickers, err := e.connector.GetTickers(ctx)
	if err != nil {
		e.noteFetchFailure("tickers", err)
		return nil, false
	}
	return tickers, true
}

func (e *SpotExchange) fetchActiveOrders(ctx context.Context) ([]*core.SpotOrder, bool) {
	active, err := e.connector.GetActiveSpotOrders(ctx)
	if err != nil {
		e.noteFetchFailure("active_orders", err)
		return nil, false
	}
	if active == nil {
		active = []*core.SpotOrder{}
	}
	return active, true
}

func (e *SpotExchange) noteFetchFailure(operation string, err error) {
	e.metrics.FetchFailuresTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("exchange", e.cfg.ExchangeName),
		attribute.String("operation", operation)))
	e.logger.Warn("fetch failed", "operation", operation, "error", err)
}

func (e *SpotExchange) onOrderCompleted(o *core.SpotOrder) {
	e.metrics.OrdersCompletedTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("exchange", e.cfg.ExchangeName)))
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	if err := e.journal.RecordCompleted(ctx, e.cfg.ExchangeName, o); err != nil {
		e.logger.Error("failed to journal completed order",
			"order_id", o.OrderID, "error", err)
	}
}

func (e *SpotExchange) publishMetrics() {
	name := e.cfg.ExchangeName
	e.metrics.IntervalsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("exchange", name)))

	activeBySymbol := make(map[string]int64, len(e.pairs))
	for _, o := range e.orders.ActiveOrders() {
		activeBySymbol[o.Pair.TradingPair()]++
	}
	backlogBySymbol := make(map[string]int64, len(e.pairs))
	for _, o := range e.orders.BacklogOrders() {
		backlogBySymbol[o.Pair.TradingPair()]++
	}
	for _, pair := range e.pairs {
		symbol := pair.TradingPair()
		e.metrics.SetActiveOrders(name, symbol, activeBySymbol[symbol])
		e.metrics.SetBacklogSize(name, symbol, backlogBySymbol[symbol])
	}
	for token, balance := range e.inventory.GetBalances() {
		free, _ := balance.Free.Float64()
		e.metrics.SetInventoryFree(name, token, free)
	}
	e.metrics.SetMarketReady(name, e.status.MarketReady() == core.MarketReady)
}

// shutdown optionally sweeps venue orders once the loop has stopped
func (e *SpotExchange) shutdown() {
	if !e.cfg.CancelOnExit {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	if err := e.connector.CancelAllSpotOrders(ctx); err != nil {
		e.logger.Error("failed to cancel venue orders on exit", "error", err)
		return
	}
	e.logger.Info("cancelled all venue orders on exit")
}
