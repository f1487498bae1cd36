// Package exchange provides venue connector implementations
package exchange

import (
	"fmt"
	"strings"

	"meld_bot/internal/core"
	"meld_bot/internal/exchange/binance"
	"meld_bot/internal/exchange/bitrue"
	"meld_bot/internal/exchange/fmfw"
	"meld_bot/internal/mock"
	apperrors "meld_bot/pkg/errors"
)

type factoryFunc func(core.ILogger) core.IConnector

// registry maps venue names to connector factories. Connectors come out
// unconfigured; the caller must Configure before use. MOCK is the
// in-memory venue, kept registered so soak-test profiles can run a full
// bot without credentials.
var registry = map[string]factoryFunc{
	"FMFW":    func(logger core.ILogger) core.IConnector { return fmfw.NewConnector(logger) },
	"BITRUE":  func(logger core.ILogger) core.IConnector { return bitrue.NewConnector(logger) },
	"BINANCE": func(logger core.ILogger) core.IConnector { return binance.NewConnector(logger) },
	"MOCK":    func(core.ILogger) core.IConnector { return mock.NewConnector("MOCK") },
}

// NewConnector creates the connector for a venue by name. An unknown name
// is a configuration error and wraps ErrConnectorNotFound.
func NewConnector(exchangeName string, logger core.ILogger) (core.IConnector, error) {
	factory, ok := registry[strings.ToUpper(exchangeName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectorNotFound, exchangeName)
	}
	return factory(logger), nil
}

// SupportedExchanges lists the registered venue names
func SupportedExchanges() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
