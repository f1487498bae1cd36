package strategy

import (
	"context"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
)

// Runner gates strategy execution on the exchanges' readiness flags. The
// strategy body runs once per interval, only when every exchange has raised
// READY_FOR_STRATEGY and none has been served yet; afterwards each
// exchange's calculation status flips to PROCESSED so reconciliation can
// dispatch what the strategy queued.
type Runner struct {
	strategy  core.IStrategy
	exchanges []*spot.SpotExchange
	logger    core.ILogger
}

func NewRunner(strategy core.IStrategy, exchanges []*spot.SpotExchange, logger core.ILogger) *Runner {
	return &Runner{
		strategy:  strategy,
		exchanges: exchanges,
		logger:    logger.WithField("component", "strategy_runner"),
	}
}

// Run polls until the context ends or any exchange is disabled. A failing
// strategy body does not stall the loop: the error is logged and the
// interval still completes with whatever was queued before the failure.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("strategy runner started", "exchanges", len(r.exchanges))

	for r.allEnabled() {
		select {
		case <-ctx.Done():
			r.logger.Info("strategy runner stopped")
			return nil
		case <-time.After(time.Millisecond):
		}

		if !r.allAwaitingRun() {
			continue
		}

		if err := r.strategy.Run(ctx); err != nil {
			r.logger.Error("strategy run failed", "error", err)
		}
		for _, ex := range r.exchanges {
			ex.Status().SetStrategyCalculationStatus(core.StatusProcessed)
		}
	}

	r.logger.Info("strategy runner stopped, exchange disabled")
	return nil
}

func (r *Runner) allEnabled() bool {
	for _, ex := range r.exchanges {
		if !ex.Status().Enabled() {
			return false
		}
	}
	return true
}

// allAwaitingRun reports whether every exchange is ready for the strategy
// and still unserved this interval. The PROCESSED check is the run-once
// latch: readiness stays raised until reconciliation observes PROCESSED.
func (r *Runner) allAwaitingRun() bool {
	for _, ex := range r.exchanges {
		status := ex.Status()
		if !status.ReadyForStrategy() || status.StrategyCalculationStatus() == core.StatusProcessed {
			return false
		}
	}
	return true
}
