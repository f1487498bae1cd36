package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrInternal              = errors.New("internal exchange error")
	ErrTimeout               = errors.New("request timed out")
)

// Bot-side Errors
var (
	ErrInsufficientOrders = errors.New("fewer order query results than tracked orders")
	ErrOrdersUpdateFailed = errors.New("order state update failed")
	ErrStrategyNotFound   = errors.New("strategy not found")
	ErrConnectorNotFound  = errors.New("connector not found")
	ErrMarketNotReady     = errors.New("market not ready")
)

// IsTransient reports whether err belongs to the retryable class: rate
// limits, maintenance windows, overload, missing orders, parameter
// rejections the venue may re-accept, timeouts and plain network failures.
// Authentication failures and internal exchange errors are not transient.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrExchangeMaintenance),
		errors.Is(err, ErrSystemOverload),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrInvalidOrderParameter),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNetwork):
		return true
	}
	return false
}
