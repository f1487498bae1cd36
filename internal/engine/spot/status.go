package spot

import (
	"sync/atomic"

	"meld_bot/internal/core"
)

// StatusBlock is the set of observable flags the interval tasks coordinate
// through. Every field has exactly one writer per transition: the timer owns
// MAIN_PROCESS, the fetch task owns FETCH_DATA and MARKET_READY, the
// reconcile task owns READY_FOR_STRATEGY and PROCESS_ACTION, and the
// strategy host owns the PROCESSED transition of STRATEGY_CALCULATION.
type StatusBlock struct {
	enabled          atomic.Bool
	marketReady      atomic.Int32
	fetchData        atomic.Int32
	strategyCalc     atomic.Int32
	readyForStrategy atomic.Bool
	processAction    atomic.Int32
	mainProcess      atomic.Int32
}

func NewStatusBlock() *StatusBlock {
	s := &StatusBlock{}
	s.enabled.Store(true)
	s.marketReady.Store(int32(core.MarketNotReady))
	s.fetchData.Store(int32(core.StatusProcessing))
	s.strategyCalc.Store(int32(core.StatusProcessing))
	s.processAction.Store(int32(core.StatusInitializing))
	s.mainProcess.Store(int32(core.StatusInitializing))
	return s
}

func (s *StatusBlock) Enabled() bool { return s.enabled.Load() }

func (s *StatusBlock) SetEnabled(v bool) { s.enabled.Store(v) }

func (s *StatusBlock) ReadyForStrategy() bool { return s.readyForStrategy.Load() }

func (s *StatusBlock) setReadyForStrategy(v bool) { s.readyForStrategy.Store(v) }

func (s *StatusBlock) MarketReady() core.MarketStatus {
	return core.MarketStatus(s.marketReady.Load())
}

func (s *StatusBlock) setMarketReady(v core.MarketStatus) {
	s.marketReady.Store(int32(v))
}

func (s *StatusBlock) FetchDataStatus() core.ProcessingStatus {
	return core.ProcessingStatus(s.fetchData.Load())
}

func (s *StatusBlock) setFetchDataStatus(v core.ProcessingStatus) {
	s.fetchData.Store(int32(v))
}

func (s *StatusBlock) StrategyCalculationStatus() core.ProcessingStatus {
	return core.ProcessingStatus(s.strategyCalc.Load())
}

// SetStrategyCalculationStatus is called by the strategy host once the
// strategy body has finished for the interval.
func (s *StatusBlock) SetStrategyCalculationStatus(v core.ProcessingStatus) {
	s.strategyCalc.Store(int32(v))
}

func (s *StatusBlock) ProcessActionStatus() core.ProcessingStatus {
	return core.ProcessingStatus(s.processAction.Load())
}

func (s *StatusBlock) setProcessActionStatus(v core.ProcessingStatus) {
	s.processAction.Store(int32(v))
}

func (s *StatusBlock) MainProcessStatus() core.ProcessingStatus {
	return core.ProcessingStatus(s.mainProcess.Load())
}

func (s *StatusBlock) setMainProcessStatus(v core.ProcessingStatus) {
	s.mainProcess.Store(int32(v))
}

// Snapshot renders the block for the status hub and health endpoints
func (s *StatusBlock) Snapshot() map[string]string {
	ready := "NOT_READY"
	if s.ReadyForStrategy() {
		ready = "READY"
	}
	enabled := "DISABLED"
	if s.Enabled() {
		enabled = "ENABLED"
	}
	return map[string]string{
		"exchange_enabled":            enabled,
		"market_ready":                s.MarketReady().String(),
		"fetch_data_status":           s.FetchDataStatus().String(),
		"strategy_calculation_status": s.StrategyCalculationStatus().String(),
		"ready_for_strategy":          ready,
		"process_action_status":       s.ProcessActionStatus().String(),
		"main_process_status":         s.MainProcessStatus().String(),
	}
}
