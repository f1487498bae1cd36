// Package binance provides the Binance spot exchange implementation
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/exchange/base"
	apperrors "meld_bot/pkg/errors"
	"meld_bot/pkg/retry"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// Connector implements core.IConnector on top of the official REST SDK.
// The SDK owns signing and transport; pair bookkeeping, decimal parsing and
// error classification come from the shared adapter.
type Connector struct {
	*base.Adapter

	client  *binance.Client
	timeout time.Duration
	policy  retry.RetryPolicy
}

// NewConnector creates an unconfigured Binance connector
func NewConnector(logger core.ILogger) *Connector {
	return &Connector{
		Adapter: base.NewAdapter("BINANCE", logger),
	}
}

// Configure binds the connector to its pairs and credentials
func (c *Connector) Configure(cfg core.ConnectorConfig) error {
	if err := c.Init(cfg, ""); err != nil {
		return err
	}

	c.client = binance.NewClient(cfg.Account.APIKey, cfg.Account.SecretKey)
	if cfg.BaseURL != "" {
		c.client.BaseURL = cfg.BaseURL
	}
	c.timeout = cfg.CallTimeout
	c.policy = retry.DefaultPolicy
	if cfg.RetryNum > 0 {
		c.policy.MaxAttempts = cfg.RetryNum
	}
	return nil
}

// classify maps SDK errors onto the shared sentinels
func (c *Connector) classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	switch apiErr.Code {
	case -1003:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, apiErr.Message)
	case -1021, -1022, -2014, -2015:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, apiErr.Message)
	case -1121:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, apiErr.Message)
	case -2010:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, apiErr.Message)
	case -2011, -2013:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, apiErr.Message)
	}
	return fmt.Errorf("venue error %d: %s", apiErr.Code, apiErr.Message)
}

// callCtx bounds one SDK call with the configured budget
func (c *Connector) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// call runs one SDK operation under the retry policy, each attempt on a
// fresh call budget. The predicate classifies first so venue codes land in
// the shared transient taxonomy.
func call[T any](ctx context.Context, c *Connector, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, c.policy, func(err error) bool {
		return apperrors.IsTransient(c.classify(err))
	}, func() error {
		attemptCtx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		out, err = fn(attemptCtx)
		return err
	})
	return out, err
}

// GetInventoryBalance fetches the account balances, filtered to the assets
// of the configured pairs. Signed.
func (c *Connector) GetInventoryBalance(ctx context.Context) (map[string]core.Balance, error) {
	account, err := call(ctx, c, func(callCtx context.Context) (*binance.Account, error) {
		return c.client.NewGetAccountService().Do(callCtx)
	})
	if err != nil {
		return nil, c.classify(err)
	}

	wanted := make(map[string]struct{}, len(c.Pairs)*2)
	for _, pair := range c.Pairs {
		wanted[pair.Base.String()] = struct{}{}
		wanted[pair.Quote.String()] = struct{}{}
	}

	balances := make(map[string]core.Balance, len(wanted))
	for _, b := range account.Balances {
		asset := strings.ToUpper(b.Asset)
		if _, ok := wanted[asset]; !ok {
			continue
		}
		free := c.ParseDecimal(b.Free)
		used := c.ParseDecimal(b.Locked)
		balances[asset] = core.Balance{
			Free:  free,
			Used:  used,
			Total: free.Add(used),
		}
	}
	return balances, nil
}

// GetOrderBook fetches depth one symbol at a time
func (c *Connector) GetOrderBook(ctx context.Context) (map[string]*core.OrderBook, error) {
	now := time.Now().Unix()
	books := make(map[string]*core.OrderBook, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		depth, err := call(ctx, c, func(callCtx context.Context) (*binance.DepthResponse, error) {
			return c.client.NewDepthService().Symbol(symbol).Do(callCtx)
		})
		if err != nil {
			return nil, fmt.Errorf("depth fetch for %s: %w", symbol, c.classify(err))
		}

		bids := make([]core.PriceLevel, 0, len(depth.Bids))
		for _, b := range depth.Bids {
			bids = append(bids, core.PriceLevel{Price: c.ParseDecimal(b.Price), Quantity: c.ParseDecimal(b.Quantity)})
		}
		asks := make([]core.PriceLevel, 0, len(depth.Asks))
		for _, a := range depth.Asks {
			asks = append(asks, core.PriceLevel{Price: c.ParseDecimal(a.Price), Quantity: c.ParseDecimal(a.Quantity)})
		}
		books[symbol] = core.NewOrderBook(bids, asks, now)
	}
	return books, nil
}

// GetTickers fetches 24h stats one symbol at a time
func (c *Connector) GetTickers(ctx context.Context) (map[string]*core.Tickers, error) {
	tickers := make(map[string]*core.Tickers, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		stats, err := call(ctx, c, func(callCtx context.Context) ([]*binance.PriceChangeStats, error) {
			return c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(callCtx)
		})
		if err != nil {
			return nil, fmt.Errorf("ticker fetch for %s: %w", symbol, c.classify(err))
		}
		if len(stats) == 0 {
			return nil, fmt.Errorf("venue returned no ticker for %s", symbol)
		}

		raw := stats[0]
		tickers[symbol] = &core.Tickers{
			Open:      c.ParseDecimal(raw.OpenPrice),
			High:      c.ParseDecimal(raw.HighPrice),
			Low:       c.ParseDecimal(raw.LowPrice),
			Close:     c.ParseDecimal(raw.LastPrice),
			Volume:    c.ParseDecimal(raw.Volume),
			BestBid:   c.ParseDecimal(raw.BidPrice),
			BestAsk:   c.ParseDecimal(raw.AskPrice),
			Timestamp: raw.CloseTime / 1000,
		}
	}
	return tickers, nil
}

// interval maps a candle period onto the venue's kline interval names
func interval(period core.CandlePeriod) string {
	switch period {
	case core.PeriodM1:
		return "1m"
	case core.PeriodM3:
		return "3m"
	case core.PeriodM5:
		return "5m"
	case core.PeriodM15:
		return "15m"
	case core.PeriodM30:
		return "30m"
	case core.PeriodH1:
		return "1h"
	case core.PeriodH4:
		return "4h"
	case core.PeriodD1:
		return "1d"
	case core.PeriodD7:
		return "1w"
	case core.Period1M:
		return "1M"
	}
	return strings.ToLower(string(period))
}

// GetTradingCandles fetches the latest candle per symbol
func (c *Connector) GetTradingCandles(ctx context.Context, period core.CandlePeriod) (map[string]*core.PriceCandles, error) {
	candles := make(map[string]*core.PriceCandles, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		klines, err := call(ctx, c, func(callCtx context.Context) ([]*binance.Kline, error) {
			return c.client.NewKlinesService().
				Symbol(symbol).
				Interval(interval(period)).
				Limit(1).
				Do(callCtx)
		})
		if err != nil {
			return nil, fmt.Errorf("kline fetch for %s: %w", symbol, c.classify(err))
		}
		if len(klines) == 0 {
			return nil, fmt.Errorf("venue returned no candles for %s", symbol)
		}

		latest := klines[len(klines)-1]
		candles[symbol] = &core.PriceCandles{
			Open:      c.ParseDecimal(latest.Open),
			High:      c.ParseDecimal(latest.High),
			Low:       c.ParseDecimal(latest.Low),
			Close:     c.ParseDecimal(latest.Close),
			Volume:    c.ParseDecimal(latest.Volume),
			Period:    period,
			Timestamp: latest.OpenTime / 1000,
		}
	}
	return candles, nil
}

func mapStatus(s binance.OrderStatusType) core.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return core.OrderStatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return core.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	default:
		return core.OrderStatusCanceled
	}
}

func (c *Connector) convertOrder(m *binance.Order) (*core.SpotOrder, error) {
	pair, ok := c.ResolvePair(m.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, m.Symbol)
	}

	side := core.SideSell
	if m.Side == binance.SideTypeBuy {
		side = core.SideBuy
	}
	orderType := core.TypeMarket
	if m.Type == binance.OrderTypeLimit {
		orderType = core.TypeLimit
	}

	return &core.SpotOrder{
		OrderID:            m.ClientOrderID,
		VenueOrderID:       fmt.Sprintf("%d", m.OrderID),
		Pair:               pair,
		Quantity:           c.ParseDecimal(m.OrigQuantity),
		Price:              c.ParseDecimal(m.Price),
		Side:               side,
		Type:               orderType,
		QuantityCumulative: c.ParseDecimal(m.ExecutedQuantity),
		Status:             mapStatus(m.Status),
		CreatedAt:          m.Time / 1000,
		UpdatedAt:          m.UpdateTime / 1000,
	}, nil
}

// GetActiveSpotOrders sweeps the open orders of every configured symbol
func (c *Connector) GetActiveSpotOrders(ctx context.Context) ([]*core.SpotOrder, error) {
	orders := make([]*core.SpotOrder, 0)
	for _, symbol := range c.Symbols() {
		open, err := call(ctx, c, func(callCtx context.Context) ([]*binance.Order, error) {
			return c.client.NewListOpenOrdersService().Symbol(symbol).Do(callCtx)
		})
		if err != nil {
			return nil, fmt.Errorf("open orders fetch for %s: %w", symbol, c.classify(err))
		}

		for _, m := range open {
			order, err := c.convertOrder(m)
			if err != nil {
				c.Logger.Warn("skipping open order on unconfigured symbol", "symbol", m.Symbol)
				continue
			}
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// CreateSpotOrder posts one order with the bot-assigned client order id
func (c *Connector) CreateSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	pair := order.Pair
	quantity := pair.RoundQuantity(order.Quantity)
	price := pair.RoundPrice(order.Price)

	svc := c.client.NewCreateOrderService().
		Symbol(pair.TradingPair()).
		Side(binance.SideType(order.Side)).
		Quantity(quantity.String()).
		NewClientOrderID(order.OrderID)

	if order.Type == core.TypeLimit {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(price.String())
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := call(ctx, c, func(callCtx context.Context) (*binance.CreateOrderResponse, error) {
		return svc.Do(callCtx)
	})
	if err != nil {
		return nil, c.classify(err)
	}

	order.Quantity = quantity
	order.Price = price
	order.Status = mapStatus(resp.Status)
	order.VenueOrderID = fmt.Sprintf("%d", resp.OrderID)
	order.QuantityCumulative = c.ParseDecimal(resp.ExecutedQuantity)
	order.CreatedAt = resp.TransactTime / 1000
	order.UpdatedAt = resp.TransactTime / 1000
	return order, nil
}

// CreateSpotOrders posts a batch sequentially, results positionally aligned
func (c *Connector) CreateSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "create order", orders, c.CreateSpotOrder)
}

// CancelSpotOrder cancels one order by its client order id
func (c *Connector) CancelSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	resp, err := call(ctx, c, func(callCtx context.Context) (*binance.CancelOrderResponse, error) {
		return c.client.NewCancelOrderService().
			Symbol(order.Pair.TradingPair()).
			OrigClientOrderID(order.OrderID).
			Do(callCtx)
	})
	if err != nil {
		return nil, c.classify(err)
	}

	order.Status = core.OrderStatusCanceled
	order.QuantityCumulative = c.ParseDecimal(resp.ExecutedQuantity)
	order.UpdatedAt = time.Now().Unix()
	return order, nil
}

// CancelSpotOrders cancels a batch sequentially, results positionally aligned
func (c *Connector) CancelSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "cancel order", orders, c.CancelSpotOrder)
}

// CancelAllSpotOrders cancels every open order symbol by symbol
func (c *Connector) CancelAllSpotOrders(ctx context.Context) error {
	for _, symbol := range c.Symbols() {
		_, err := call(ctx, c, func(callCtx context.Context) (*binance.CancelOpenOrdersResponse, error) {
			return c.client.NewCancelOpenOrdersService().Symbol(symbol).Do(callCtx)
		})
		if err != nil {
			classified := c.classify(err)
			// No open orders on the symbol is a clean outcome
			if errors.Is(classified, apperrors.ErrOrderNotFound) {
				continue
			}
			return fmt.Errorf("cancel all for %s: %w", symbol, classified)
		}
	}
	return nil
}

// QueryOrder refreshes one order's status, fill and update time
func (c *Connector) QueryOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	resp, err := call(ctx, c, func(callCtx context.Context) (*binance.Order, error) {
		return c.client.NewGetOrderService().
			Symbol(order.Pair.TradingPair()).
			OrigClientOrderID(order.OrderID).
			Do(callCtx)
	})
	if err != nil {
		return nil, c.classify(err)
	}

	order.Status = mapStatus(resp.Status)
	order.QuantityCumulative = c.ParseDecimal(resp.ExecutedQuantity)
	order.UpdatedAt = resp.UpdateTime / 1000
	order.VenueOrderID = fmt.Sprintf("%d", resp.OrderID)
	return order, nil
}

// QueryOrders refreshes a batch sequentially, results positionally aligned
func (c *Connector) QueryOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "query order", orders, c.QueryOrder)
}
