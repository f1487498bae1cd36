// Package bitrue provides the Bitrue exchange implementation
package bitrue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/exchange/base"
	apperrors "meld_bot/pkg/errors"
	httpclient "meld_bot/pkg/http"
)

const (
	defaultBaseURL  = "https://openapi.bitrue.com"
	defaultKlineURL = "https://www.bitrue.com"
	recvWindow      = "10000"
)

// Connector implements core.IConnector against the Bitrue REST API, which
// follows the Binance wire conventions: every request carries a recvWindow
// and millisecond timestamp, signed with HMAC-SHA256 over the encoded query
// string. Candles come from a separate unsigned kline host.
type Connector struct {
	*base.Adapter

	klineClient *httpclient.Client

	mu       sync.RWMutex
	venueIDs map[string]int64 // client order id -> venue order id
}

// NewConnector creates an unconfigured Bitrue connector
func NewConnector(logger core.ILogger) *Connector {
	c := &Connector{
		Adapter:  base.NewAdapter("BITRUE", logger),
		venueIDs: make(map[string]int64),
	}
	c.SetSignRequest(c.signRequest)
	c.SetParseError(c.parseError)
	return c
}

// Configure binds the connector to its pairs and credentials. A BaseURL
// override redirects the kline host as well.
func (c *Connector) Configure(cfg core.ConnectorConfig) error {
	if err := c.Init(cfg, defaultBaseURL); err != nil {
		return err
	}

	klineURL := cfg.BaseURL
	if klineURL == "" {
		klineURL = defaultKlineURL
	}
	c.klineClient = httpclient.NewClient(httpclient.Config{
		BaseURL:     klineURL,
		Timeout:     cfg.Timeout,
		CallTimeout: cfg.CallTimeout,
		MaxRetries:  cfg.RetryNum,
	})
	return nil
}

// signRequest appends recvWindow, timestamp and the HMAC-SHA256 signature
// to the query string. The signature covers exactly the encoded query that
// goes on the wire, minus the signature parameter itself.
func (c *Connector) signRequest(req *http.Request, _ []byte) error {
	values := req.URL.Query()
	values.Set("recvWindow", recvWindow)
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	encoded := values.Encode()

	mac := hmac.New(sha256.New, []byte(c.Account.SecretKey))
	mac.Write([]byte(encoded))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.URL.RawQuery = encoded + "&signature=" + signature
	req.Header.Set("X-MBX-APIKEY", c.Account.APIKey)
	return nil
}

func (c *Connector) parseError(status int, body []byte) error {
	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == 0 {
		return nil
	}

	switch errResp.Code {
	case -1021, -1022, -2014, -2015:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, errResp.Msg)
	case -1121:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, errResp.Msg)
	case -2010:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, errResp.Msg)
	case -2011, -2013:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, errResp.Msg)
	case -1003:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, errResp.Msg)
	}
	return nil
}

// tokens returns the distinct base and quote assets across configured pairs
func (c *Connector) tokens() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Pairs)*2)
	for _, pair := range c.Pairs {
		set[pair.Base.String()] = struct{}{}
		set[pair.Quote.String()] = struct{}{}
	}
	return set
}

func (c *Connector) rememberVenueID(clientOrderID string, venueID int64) {
	c.mu.Lock()
	c.venueIDs[clientOrderID] = venueID
	c.mu.Unlock()
}

// venueID resolves the venue-side numeric id for an order, preferring the
// id carried on the order itself over the learned map.
func (c *Connector) venueID(order *core.SpotOrder) (int64, error) {
	if order.VenueOrderID != "" {
		id, err := strconv.ParseInt(order.VenueOrderID, 10, 64)
		if err == nil {
			return id, nil
		}
	}
	c.mu.RLock()
	id, ok := c.venueIDs[order.OrderID]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: no venue id for %s", apperrors.ErrOrderNotFound, order.OrderID)
	}
	return id, nil
}

// GetInventoryBalance fetches the account balances, filtered to the assets
// of the configured pairs. Signed.
func (c *Connector) GetInventoryBalance(ctx context.Context) (map[string]core.Balance, error) {
	data, err := c.Request(ctx, http.MethodGet, "/api/v1/account", nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}

	wanted := c.tokens()
	balances := make(map[string]core.Balance, len(wanted))
	for _, b := range response.Balances {
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

// GetOrderBook fetches depth one symbol at a time; the venue has no batch
// depth endpoint. The venue omits a depth timestamp, so the capture time is
// used for the whole sweep.
func (c *Connector) GetOrderBook(ctx context.Context) (map[string]*core.OrderBook, error) {
	now := time.Now().Unix()
	books := make(map[string]*core.OrderBook, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		query := url.Values{}
		query.Set("symbol", symbol)

		data, err := c.Request(ctx, http.MethodGet, "/api/v1/depth", query, nil)
		if err != nil {
			return nil, fmt.Errorf("depth fetch for %s: %w", symbol, err)
		}

		var response struct {
			Bids [][]json.Number `json:"bids"`
			Asks [][]json.Number `json:"asks"`
		}
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, fmt.Errorf("failed to decode depth response for %s: %w", symbol, err)
		}

		books[symbol] = core.NewOrderBook(c.parseLevels(response.Bids), c.parseLevels(response.Asks), now)
	}
	return books, nil
}

func (c *Connector) parseLevels(levels [][]json.Number) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		out = append(out, core.PriceLevel{
			Price:    c.ParseDecimal(level[0].String()),
			Quantity: c.ParseDecimal(level[1].String()),
		})
	}
	return out
}

// GetTickers fetches 24h stats one symbol at a time
func (c *Connector) GetTickers(ctx context.Context) (map[string]*core.Tickers, error) {
	now := time.Now().Unix()
	tickers := make(map[string]*core.Tickers, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		query := url.Values{}
		query.Set("symbol", symbol)

		data, err := c.Request(ctx, http.MethodGet, "/api/v1/ticker/24hr", query, nil)
		if err != nil {
			return nil, fmt.Errorf("ticker fetch for %s: %w", symbol, err)
		}

		// The venue wraps the single-symbol response in an array
		var response []struct {
			OpenPrice string `json:"openPrice"`
			HighPrice string `json:"highPrice"`
			LowPrice  string `json:"lowPrice"`
			LastPrice string `json:"lastPrice"`
			AskPrice  string `json:"askPrice"`
			BidPrice  string `json:"bidPrice"`
			Volume    string `json:"volume"`
		}
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, fmt.Errorf("failed to decode ticker response for %s: %w", symbol, err)
		}
		if len(response) == 0 {
			return nil, fmt.Errorf("venue returned no ticker for %s", symbol)
		}

		raw := response[0]
		tickers[symbol] = &core.Tickers{
			Open:      c.ParseDecimal(raw.OpenPrice),
			High:      c.ParseDecimal(raw.HighPrice),
			Low:       c.ParseDecimal(raw.LowPrice),
			Close:     c.ParseDecimal(raw.LastPrice),
			Volume:    c.ParseDecimal(raw.Volume),
			BestBid:   c.ParseDecimal(raw.BidPrice),
			BestAsk:   c.ParseDecimal(raw.AskPrice),
			Timestamp: now,
		}
	}
	return tickers, nil
}

// klineScale maps a candle period onto the kline host's interval names
func klineScale(period core.CandlePeriod) string {
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

// GetTradingCandles fetches the latest candle per symbol from the kline
// host, which is unsigned and separate from the trading API.
func (c *Connector) GetTradingCandles(ctx context.Context, period core.CandlePeriod) (map[string]*core.PriceCandles, error) {
	now := time.Now().Unix()
	scale := klineScale(period)
	candles := make(map[string]*core.PriceCandles, len(c.Pairs))
	for _, symbol := range c.Symbols() {
		path := fmt.Sprintf("/kline-api/kline/history/%s/market_%s_kline_%s",
			symbol, strings.ToLower(symbol), scale)

		data, err := c.klineClient.Do(ctx, http.MethodGet, path, nil, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("kline fetch for %s: %w", symbol, err)
		}

		var response struct {
			Data []struct {
				Open  json.Number `json:"open"`
				High  json.Number `json:"high"`
				Low   json.Number `json:"low"`
				Close json.Number `json:"close"`
				Vol   json.Number `json:"vol"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, fmt.Errorf("failed to decode kline response for %s: %w", symbol, err)
		}
		if len(response.Data) == 0 {
			return nil, fmt.Errorf("venue returned no candles for %s", symbol)
		}

		latest := response.Data[len(response.Data)-1]
		candles[symbol] = &core.PriceCandles{
			Open:      c.ParseDecimal(latest.Open.String()),
			High:      c.ParseDecimal(latest.High.String()),
			Low:       c.ParseDecimal(latest.Low.String()),
			Close:     c.ParseDecimal(latest.Close.String()),
			Volume:    c.ParseDecimal(latest.Vol.String()),
			Period:    period,
			Timestamp: now,
		}
	}
	return candles, nil
}

// orderModel is the venue's order representation, shared by the open-orders
// and single-order endpoints.
type orderModel struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func mapStatus(s string) core.OrderStatus {
	switch s {
	case "NEW":
		return core.OrderStatusNew
	case "PARTIALLY_FILLED":
		return core.OrderStatusPartiallyFilled
	case "FILLED":
		return core.OrderStatusFilled
	default:
		return core.OrderStatusCanceled
	}
}

func (c *Connector) convertOrder(m orderModel) (*core.SpotOrder, error) {
	pair, ok := c.ResolvePair(m.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, m.Symbol)
	}

	side := core.SideSell
	if m.Side == "BUY" {
		side = core.SideBuy
	}
	orderType := core.TypeMarket
	if m.Type == "LIMIT" {
		orderType = core.TypeLimit
	}

	return &core.SpotOrder{
		OrderID:            m.ClientOrderID,
		VenueOrderID:       strconv.FormatInt(m.OrderID, 10),
		Pair:               pair,
		Quantity:           c.ParseDecimal(m.OrigQty),
		Price:              c.ParseDecimal(m.Price),
		Side:               side,
		Type:               orderType,
		QuantityCumulative: c.ParseDecimal(m.ExecutedQty),
		Status:             mapStatus(m.Status),
		CreatedAt:          m.Time / 1000,
		UpdatedAt:          m.UpdateTime / 1000,
	}, nil
}

// GetActiveSpotOrders sweeps the open orders of every configured symbol and
// relearns the venue id map from scratch.
func (c *Connector) GetActiveSpotOrders(ctx context.Context) ([]*core.SpotOrder, error) {
	orders := make([]*core.SpotOrder, 0)
	learned := make(map[string]int64)
	for _, symbol := range c.Symbols() {
		query := url.Values{}
		query.Set("symbol", symbol)

		data, err := c.Request(ctx, http.MethodGet, "/api/v1/openOrders", query, nil)
		if err != nil {
			return nil, fmt.Errorf("open orders fetch for %s: %w", symbol, err)
		}

		var response []orderModel
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, fmt.Errorf("failed to decode open orders response for %s: %w", symbol, err)
		}

		for _, m := range response {
			order, err := c.convertOrder(m)
			if err != nil {
				c.Logger.Warn("skipping open order on unconfigured symbol", "symbol", m.Symbol)
				continue
			}
			orders = append(orders, order)
			learned[m.ClientOrderID] = m.OrderID
		}
	}

	c.mu.Lock()
	c.venueIDs = learned
	c.mu.Unlock()
	return orders, nil
}

// CreateSpotOrder posts one order. The venue takes order parameters in the
// query string and acknowledges without a status, so a successful post is
// reported as NEW.
func (c *Connector) CreateSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	pair := order.Pair
	quantity := pair.RoundQuantity(order.Quantity)
	price := pair.RoundPrice(order.Price)

	query := url.Values{}
	query.Set("symbol", pair.TradingPair())
	query.Set("side", string(order.Side))
	query.Set("type", string(order.Type))
	query.Set("quantity", quantity.String())
	query.Set("newClientOrderId", order.OrderID)
	if order.Type == core.TypeLimit {
		query.Set("price", price.String())
	}

	data, err := c.Request(ctx, http.MethodPost, "/api/v1/order", query, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		TransactTime  int64  `json:"transactTime"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	order.Quantity = quantity
	order.Price = price
	order.Status = core.OrderStatusNew
	order.VenueOrderID = strconv.FormatInt(response.OrderID, 10)
	order.CreatedAt = response.TransactTime / 1000
	order.UpdatedAt = response.TransactTime / 1000
	c.rememberVenueID(order.OrderID, response.OrderID)
	return order, nil
}

// CreateSpotOrders posts a batch sequentially, results positionally aligned
func (c *Connector) CreateSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "create order", orders, c.CreateSpotOrder)
}

// CancelSpotOrder cancels one order by client and venue id
func (c *Connector) CancelSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	id, err := c.venueID(order)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", order.Pair.TradingPair())
	query.Set("origClientOrderId", order.OrderID)
	query.Set("orderId", strconv.FormatInt(id, 10))

	if _, err := c.Request(ctx, http.MethodDelete, "/api/v1/order", query, nil); err != nil {
		return nil, err
	}

	order.Status = core.OrderStatusCanceled
	order.UpdatedAt = time.Now().Unix()
	return order, nil
}

// CancelSpotOrders cancels a batch sequentially, results positionally aligned
func (c *Connector) CancelSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "cancel order", orders, c.CancelSpotOrder)
}

// CancelAllSpotOrders cancels every open order symbol by symbol; the venue
// has no account-wide cancel.
func (c *Connector) CancelAllSpotOrders(ctx context.Context) error {
	active, err := c.GetActiveSpotOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range active {
		if _, err := c.CancelSpotOrder(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// QueryOrder refreshes one order's status, fill and update time
func (c *Connector) QueryOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	id, err := c.venueID(order)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", order.Pair.TradingPair())
	query.Set("orderId", strconv.FormatInt(id, 10))

	data, err := c.Request(ctx, http.MethodGet, "/api/v1/order", query, nil)
	if err != nil {
		return nil, err
	}

	var m orderModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode order query response: %w", err)
	}

	order.Status = mapStatus(m.Status)
	order.QuantityCumulative = c.ParseDecimal(m.ExecutedQty)
	order.UpdatedAt = m.UpdateTime / 1000
	return order, nil
}

// QueryOrders refreshes a batch sequentially, results positionally aligned
func (c *Connector) QueryOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "query order", orders, c.QueryOrder)
}
