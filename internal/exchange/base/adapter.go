// Package base provides common functionality for venue connectors
package base

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"
	httpclient "meld_bot/pkg/http"

	"github.com/shopspring/decimal"
)

// SignRequestFunc is a function type for venue-specific request signing
type SignRequestFunc func(req *http.Request, body []byte) error

// ParseErrorFunc is a function type for venue-specific error parsing. It
// receives the status and raw body of a failed response; returning nil
// falls through to status-code classification.
type ParseErrorFunc func(status int, body []byte) error

// Adapter provides the shared plumbing for venue connectors: the resilient
// HTTP client, pair bookkeeping and error classification.
type Adapter struct {
	Name    string
	Logger  core.ILogger
	Client  *httpclient.Client
	Account core.Account
	Pairs   []*core.Pair

	pairsBySymbol map[string]*core.Pair

	// Venue-specific hooks set by concrete connectors
	SignRequest SignRequestFunc
	ParseError  ParseErrorFunc
}

// NewAdapter creates an unconfigured adapter shell. Init must run before
// the first request.
func NewAdapter(name string, logger core.ILogger) *Adapter {
	return &Adapter{
		Name:          name,
		Logger:        logger.WithField("exchange", name),
		pairsBySymbol: make(map[string]*core.Pair),
	}
}

// Init binds the adapter to a venue: it builds the HTTP client and indexes
// the configured pairs by venue symbol.
func (b *Adapter) Init(cfg core.ConnectorConfig, defaultBaseURL string) error {
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("connector %s: no pairs configured", b.Name)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	b.Client = httpclient.NewClient(httpclient.Config{
		BaseURL:     baseURL,
		Timeout:     cfg.Timeout,
		CallTimeout: cfg.CallTimeout,
		MaxRetries:  cfg.RetryNum,
	})
	b.Account = cfg.Account
	b.Pairs = cfg.Pairs
	b.pairsBySymbol = make(map[string]*core.Pair, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		b.pairsBySymbol[pair.TradingPair()] = pair
	}

	return nil
}

// GetName returns the venue name
func (b *Adapter) GetName() string {
	return b.Name
}

// SetSignRequest sets the venue-specific request signing function
func (b *Adapter) SetSignRequest(fn SignRequestFunc) {
	b.SignRequest = fn
}

// SetParseError sets the venue-specific error parsing function
func (b *Adapter) SetParseError(fn ParseErrorFunc) {
	b.ParseError = fn
}

// BreakerOpen reports whether the venue circuit breaker is rejecting
// calls. False before Init.
func (b *Adapter) BreakerOpen() bool {
	if b.Client == nil {
		return false
	}
	return b.Client.BreakerOpen()
}

// ResolvePair maps a venue symbol back to its configured pair
func (b *Adapter) ResolvePair(symbol string) (*core.Pair, bool) {
	pair, ok := b.pairsBySymbol[symbol]
	return pair, ok
}

// Symbols returns the configured venue symbols in pair order
func (b *Adapter) Symbols() []string {
	symbols := make([]string, 0, len(b.Pairs))
	for _, pair := range b.Pairs {
		symbols = append(symbols, pair.TradingPair())
	}
	return symbols
}

// Request executes one signed call against the venue and classifies
// failures into the shared error taxonomy.
func (b *Adapter) Request(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	return b.execute(ctx, method, path, query, body, httpclient.SignFunc(b.SignRequest))
}

// Public executes one unsigned call against the venue
func (b *Adapter) Public(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	return b.execute(ctx, method, path, query, nil, nil)
}

func (b *Adapter) execute(ctx context.Context, method, path string, query url.Values, body []byte, sign httpclient.SignFunc) ([]byte, error) {
	data, err := b.Client.Do(ctx, method, path, query, body, sign)
	if err == nil {
		return data, nil
	}

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		if b.ParseError != nil {
			if parsed := b.ParseError(apiErr.StatusCode, apiErr.Body); parsed != nil {
				return nil, parsed
			}
		}
		return nil, statusError(apiErr.StatusCode, apiErr.Body)
	}

	return nil, err
}

// EachOrder runs op for every order in the batch and keeps the results
// positionally aligned. Failed entries stay nil after logging: batch
// callers reconcile absence, not errors.
func (b *Adapter) EachOrder(ctx context.Context, label string, orders []*core.SpotOrder, op func(context.Context, *core.SpotOrder) (*core.SpotOrder, error)) []*core.SpotOrder {
	results := make([]*core.SpotOrder, len(orders))
	for i, order := range orders {
		if order == nil {
			continue
		}
		result, err := op(ctx, order)
		if err != nil {
			b.Logger.Warn(label+" failed", "order_id", order.OrderID, "error", err)
			continue
		}
		results[i] = result
	}
	return results
}

// statusError maps status codes with no venue-specific meaning onto the
// shared sentinels.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, truncate(body))
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, truncate(body))
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, truncate(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, truncate(body))
	case http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", apperrors.ErrInternal, truncate(body))
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", apperrors.ErrExchangeMaintenance, truncate(body))
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", apperrors.ErrTimeout, truncate(body))
	}
	return fmt.Errorf("HTTP %d: %s", status, truncate(body))
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// ParseDecimal safely parses a string to decimal
func (b *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
