// Package strategy hosts the pluggable strategy bodies and the runner that
// drives them against the exchange loops.
package strategy

import (
	"fmt"
	"strings"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
	apperrors "meld_bot/pkg/errors"
)

// Factory builds a strategy over the exchange set it will trade through
type Factory func(exchanges []*spot.SpotExchange, logger core.ILogger) (core.IStrategy, error)

// registry maps strategy names to factories. Profiles select a strategy by
// name; names are matched case-insensitively.
var registry = map[string]Factory{
	"spread": func(exchanges []*spot.SpotExchange, logger core.ILogger) (core.IStrategy, error) {
		return NewSpreadStrategy(SpreadConfig{}, exchanges, logger)
	},
	"noop": func(exchanges []*spot.SpotExchange, logger core.ILogger) (core.IStrategy, error) {
		return NewNoopStrategy(exchanges, logger), nil
	},
}

// New creates the strategy registered under name. An unknown name is a
// configuration error and wraps ErrStrategyNotFound.
func New(name string, exchanges []*spot.SpotExchange, logger core.ILogger) (core.IStrategy, error) {
	factory, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStrategyNotFound, name)
	}
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("strategy %s needs at least one exchange", name)
	}
	return factory(exchanges, logger)
}

// SupportedStrategies lists the registered strategy names
func SupportedStrategies() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
