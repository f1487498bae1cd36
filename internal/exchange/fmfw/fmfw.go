// Package fmfw provides the FMFW.io exchange implementation
package fmfw

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/exchange/base"
	apperrors "meld_bot/pkg/errors"
)

const defaultBaseURL = "https://api.fmfw.io"

// Connector implements core.IConnector against the FMFW.io REST API.
// Authenticated endpoints use HTTP basic auth; market data is public.
type Connector struct {
	*base.Adapter
}

// NewConnector creates an unconfigured FMFW connector
func NewConnector(logger core.ILogger) *Connector {
	c := &Connector{
		Adapter: base.NewAdapter("FMFW", logger),
	}
	c.SetSignRequest(c.signRequest)
	c.SetParseError(c.parseError)
	return c
}

// Configure binds the connector to its pairs and credentials
func (c *Connector) Configure(cfg core.ConnectorConfig) error {
	return c.Init(cfg, defaultBaseURL)
}

func (c *Connector) signRequest(req *http.Request, _ []byte) error {
	token := base64.StdEncoding.EncodeToString([]byte(c.Account.APIKey + ":" + c.Account.SecretKey))
	req.Header.Set("Authorization", "Basic "+token)
	return nil
}

func (c *Connector) parseError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Code        int    `json:"code"`
			Message     string `json:"message"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Code == 0 {
		return nil
	}

	switch errResp.Error.Code {
	case 1002, 1003, 1004:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, errResp.Error.Message)
	case 2001:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, errResp.Error.Message)
	case 10001:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, errResp.Error.Message)
	case 20001:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, errResp.Error.Message)
	case 20002:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, errResp.Error.Message)
	case 20008:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, errResp.Error.Message)
	}
	return nil
}

// orderModel is the venue's spot order representation
type orderModel struct {
	ClientOrderID      string `json:"client_order_id"`
	Symbol             string `json:"symbol"`
	Side               string `json:"side"`
	Status             string `json:"status"`
	Type               string `json:"type"`
	Quantity           string `json:"quantity"`
	Price              string `json:"price"`
	QuantityCumulative string `json:"quantity_cumulative"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// parseTimestamp converts the venue's ISO-8601 timestamp to unix seconds.
// Only the second-resolution prefix is significant; the venue appends
// fractional digits and a zone suffix.
func parseTimestamp(s string) int64 {
	if len(s) < 19 {
		return 0
	}
	t, err := time.Parse("2006-01-02T15:04:05", s[:19])
	if err != nil {
		return 0
	}
	return t.Unix()
}

func mapStatus(s string) core.OrderStatus {
	switch s {
	case "new":
		return core.OrderStatusNew
	case "partiallyFilled":
		return core.OrderStatusPartiallyFilled
	case "filled":
		return core.OrderStatusFilled
	default:
		return core.OrderStatusCanceled
	}
}

// convertOrder maps a venue order model onto a SpotOrder for a configured
// pair. Orders on unconfigured symbols return an error.
func (c *Connector) convertOrder(m orderModel) (*core.SpotOrder, error) {
	pair, ok := c.ResolvePair(m.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, m.Symbol)
	}

	side := core.SideSell
	if m.Side == "buy" {
		side = core.SideBuy
	}
	orderType := core.TypeMarket
	if m.Type == "limit" {
		orderType = core.TypeLimit
	}

	return &core.SpotOrder{
		OrderID:            m.ClientOrderID,
		Pair:               pair,
		Quantity:           c.ParseDecimal(m.Quantity),
		Price:              c.ParseDecimal(m.Price),
		Side:               side,
		Type:               orderType,
		QuantityCumulative: c.ParseDecimal(m.QuantityCumulative),
		Status:             mapStatus(m.Status),
		CreatedAt:          parseTimestamp(m.CreatedAt),
		UpdatedAt:          parseTimestamp(m.UpdatedAt),
	}, nil
}

// GetInventoryBalance fetches the spot wallet. Signed.
func (c *Connector) GetInventoryBalance(ctx context.Context) (map[string]core.Balance, error) {
	data, err := c.Request(ctx, http.MethodGet, "/api/3/spot/balance", nil, nil)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Reserved  string `json:"reserved"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}

	balances := make(map[string]core.Balance, len(entries))
	for _, e := range entries {
		free := c.ParseDecimal(e.Available)
		used := c.ParseDecimal(e.Reserved)
		balances[strings.ToUpper(e.Currency)] = core.Balance{
			Free:  free,
			Used:  used,
			Total: free.Add(used),
		}
	}
	return balances, nil
}

// GetOrderBook fetches full depth for every configured symbol in one call
func (c *Connector) GetOrderBook(ctx context.Context) (map[string]*core.OrderBook, error) {
	symbols := c.Symbols()
	query := url.Values{}
	query.Set("depth", "0")
	query.Set("symbols", strings.Join(symbols, ","))

	data, err := c.Public(ctx, http.MethodGet, "/api/3/public/orderbook", query)
	if err != nil {
		return nil, err
	}

	var response map[string]struct {
		Timestamp string     `json:"timestamp"`
		Bid       [][]string `json:"bid"`
		Ask       [][]string `json:"ask"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode orderbook response: %w", err)
	}
	if len(response) != len(symbols) {
		return nil, fmt.Errorf("venue returned %d order books for %d symbols", len(response), len(symbols))
	}

	books := make(map[string]*core.OrderBook, len(response))
	for symbol, raw := range response {
		if _, ok := c.ResolvePair(symbol); !ok {
			continue
		}
		books[symbol] = core.NewOrderBook(c.parseLevels(raw.Bid), c.parseLevels(raw.Ask), parseTimestamp(raw.Timestamp))
	}
	return books, nil
}

func (c *Connector) parseLevels(levels [][]string) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		out = append(out, core.PriceLevel{
			Price:    c.ParseDecimal(level[0]),
			Quantity: c.ParseDecimal(level[1]),
		})
	}
	return out
}

// GetTickers fetches 24h tickers for every configured symbol in one call
func (c *Connector) GetTickers(ctx context.Context) (map[string]*core.Tickers, error) {
	symbols := c.Symbols()
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	data, err := c.Public(ctx, http.MethodGet, "/api/3/public/ticker", query)
	if err != nil {
		return nil, err
	}

	var response map[string]struct {
		Timestamp string `json:"timestamp"`
		Open      string `json:"open"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Last      string `json:"last"`
		Ask       string `json:"ask"`
		Bid       string `json:"bid"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode ticker response: %w", err)
	}
	if len(response) != len(symbols) {
		return nil, fmt.Errorf("venue returned %d tickers for %d symbols", len(response), len(symbols))
	}

	tickers := make(map[string]*core.Tickers, len(response))
	for symbol, raw := range response {
		if _, ok := c.ResolvePair(symbol); !ok {
			continue
		}
		tickers[symbol] = &core.Tickers{
			Open:      c.ParseDecimal(raw.Open),
			High:      c.ParseDecimal(raw.High),
			Low:       c.ParseDecimal(raw.Low),
			Close:     c.ParseDecimal(raw.Last),
			Volume:    c.ParseDecimal(raw.Volume),
			BestBid:   c.ParseDecimal(raw.Bid),
			BestAsk:   c.ParseDecimal(raw.Ask),
			Timestamp: parseTimestamp(raw.Timestamp),
		}
	}
	return tickers, nil
}

// GetTradingCandles fetches the latest candle per configured symbol
func (c *Connector) GetTradingCandles(ctx context.Context, period core.CandlePeriod) (map[string]*core.PriceCandles, error) {
	symbols := c.Symbols()
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("period", string(period))
	query.Set("limit", "1")

	data, err := c.Public(ctx, http.MethodGet, "/api/3/public/candles", query)
	if err != nil {
		return nil, err
	}

	// The venue names the high and low fields max and min
	var response map[string][]struct {
		Timestamp string `json:"timestamp"`
		Open      string `json:"open"`
		Max       string `json:"max"`
		Min       string `json:"min"`
		Close     string `json:"close"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode candles response: %w", err)
	}
	if len(response) != len(symbols) {
		return nil, fmt.Errorf("venue returned %d candle sets for %d symbols", len(response), len(symbols))
	}

	candles := make(map[string]*core.PriceCandles, len(response))
	for symbol, raw := range response {
		if _, ok := c.ResolvePair(symbol); !ok {
			continue
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("venue returned no candles for %s", symbol)
		}
		latest := raw[0]
		candles[symbol] = &core.PriceCandles{
			Open:      c.ParseDecimal(latest.Open),
			High:      c.ParseDecimal(latest.Max),
			Low:       c.ParseDecimal(latest.Min),
			Close:     c.ParseDecimal(latest.Close),
			Volume:    c.ParseDecimal(latest.Volume),
			Period:    period,
			Timestamp: parseTimestamp(latest.Timestamp),
		}
	}
	return candles, nil
}

// GetActiveSpotOrders fetches every active order on the account. Signed.
func (c *Connector) GetActiveSpotOrders(ctx context.Context) ([]*core.SpotOrder, error) {
	data, err := c.Request(ctx, http.MethodGet, "/api/3/spot/order", nil, nil)
	if err != nil {
		return nil, err
	}

	var response []orderModel
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode active orders response: %w", err)
	}

	orders := make([]*core.SpotOrder, 0, len(response))
	for _, m := range response {
		order, err := c.convertOrder(m)
		if err != nil {
			c.Logger.Warn("skipping active order on unconfigured symbol", "symbol", m.Symbol)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// CreateSpotOrder posts one order. Price and quantity are snapped to the
// venue grid before submission; the order comes back enriched with the
// venue-reported status and timestamps.
func (c *Connector) CreateSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	pair := order.Pair
	quantity := pair.RoundQuantity(order.Quantity)
	price := pair.RoundPrice(order.Price)

	payload := map[string]string{
		"client_order_id": order.OrderID,
		"symbol":          pair.TradingPair(),
		"side":            strings.ToLower(string(order.Side)),
		"type":            strings.ToLower(string(order.Type)),
		"quantity":        quantity.String(),
	}
	if order.Type == core.TypeLimit {
		payload["price"] = price.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	data, err := c.Request(ctx, http.MethodPost, "/api/3/spot/order", nil, body)
	if err != nil {
		return nil, err
	}

	var m orderModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	order.Quantity = quantity
	order.Price = price
	order.Status = mapStatus(m.Status)
	order.QuantityCumulative = c.ParseDecimal(m.QuantityCumulative)
	order.CreatedAt = parseTimestamp(m.CreatedAt)
	order.UpdatedAt = parseTimestamp(m.UpdatedAt)
	return order, nil
}

// CreateSpotOrders posts a batch sequentially, results positionally aligned
func (c *Connector) CreateSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "create order", orders, c.CreateSpotOrder)
}

// CancelSpotOrder cancels one order by its client order id
func (c *Connector) CancelSpotOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	data, err := c.Request(ctx, http.MethodDelete, "/api/3/spot/order/"+order.OrderID, nil, nil)
	if err != nil {
		return nil, err
	}

	var m orderModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode cancel response: %w", err)
	}

	order.Status = core.OrderStatusCanceled
	order.QuantityCumulative = c.ParseDecimal(m.QuantityCumulative)
	order.CreatedAt = parseTimestamp(m.CreatedAt)
	order.UpdatedAt = parseTimestamp(m.UpdatedAt)
	return order, nil
}

// CancelSpotOrders cancels a batch sequentially, results positionally aligned
func (c *Connector) CancelSpotOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "cancel order", orders, c.CancelSpotOrder)
}

// CancelAllSpotOrders cancels every active order on the account
func (c *Connector) CancelAllSpotOrders(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodDelete, "/api/3/spot/order", nil, nil)
	return err
}

// QueryOrder refreshes one order's status from the venue. A filled or
// cancelled order is no longer active there, so the venue answers 404;
// that surfaces as ErrOrderNotFound for the caller to reconcile.
func (c *Connector) QueryOrder(ctx context.Context, order *core.SpotOrder) (*core.SpotOrder, error) {
	data, err := c.Request(ctx, http.MethodGet, "/api/3/spot/order/"+order.OrderID, nil, nil)
	if err != nil {
		return nil, err
	}

	var m orderModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode order query response: %w", err)
	}

	order.Status = mapStatus(m.Status)
	order.QuantityCumulative = c.ParseDecimal(m.QuantityCumulative)
	order.UpdatedAt = parseTimestamp(m.UpdatedAt)
	return order, nil
}

// QueryOrders refreshes a batch sequentially, results positionally aligned
func (c *Connector) QueryOrders(ctx context.Context, orders []*core.SpotOrder) []*core.SpotOrder {
	return c.EachOrder(ctx, "query order", orders, c.QueryOrder)
}
