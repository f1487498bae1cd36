package strategy

import (
	"context"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
)

// NoopStrategy places no orders. It logs each exchange's inventory at
// DEBUG; profiles use it to soak-test connectivity without trading.
type NoopStrategy struct {
	exchanges []*spot.SpotExchange
	logger    core.ILogger
}

func NewNoopStrategy(exchanges []*spot.SpotExchange, logger core.ILogger) *NoopStrategy {
	return &NoopStrategy{
		exchanges: exchanges,
		logger:    logger.WithField("component", "noop_strategy"),
	}
}

func (s *NoopStrategy) Run(ctx context.Context) error {
	for _, ex := range s.exchanges {
		for token, balance := range ex.Inventory().GetBalances() {
			s.logger.Debug("inventory",
				"exchange", ex.Name(), "token", token, "free", balance.Free.String())
		}
	}
	return nil
}
