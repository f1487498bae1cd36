package strategy

import (
	"context"
	"errors"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"

	"github.com/shopspring/decimal"
)

// SpreadConfig tunes the symmetric quoting strategy. Zero values take the
// defaults applied in withDefaults.
type SpreadConfig struct {
	Spread        decimal.Decimal // total bid-ask width relative to mid
	Levels        int             // quote levels per side
	LevelOffset   decimal.Decimal // relative distance between levels
	OrderQuantity decimal.Decimal // base quantity per quote
	RequoteDrift  decimal.Decimal // relative mid drift that triggers a requote
	PauseRange    decimal.Decimal // candle (high-low)/close ratio that parks quotes, zero disables
}

func (c SpreadConfig) withDefaults() SpreadConfig {
	if c.Spread.LessThanOrEqual(decimal.Zero) {
		c.Spread = decimal.RequireFromString("0.08")
	}
	if c.Levels <= 0 {
		c.Levels = 1
	}
	if c.LevelOffset.LessThanOrEqual(decimal.Zero) {
		c.LevelOffset = decimal.RequireFromString("0.01")
	}
	if c.OrderQuantity.LessThanOrEqual(decimal.Zero) {
		c.OrderQuantity = decimal.NewFromInt(1)
	}
	if c.RequoteDrift.LessThanOrEqual(decimal.Zero) {
		c.RequoteDrift = c.Spread.Div(decimal.NewFromInt(4))
	}
	return c
}

// SpreadStrategy quotes a symmetric buy/sell ladder around the mid price of
// every subscribed pair. Quotes are cancelled and re-placed when the mid
// drifts beyond the requote threshold; a candle range above PauseRange
// parks all quotes in the backlog until the market calms down.
type SpreadStrategy struct {
	cfg       SpreadConfig
	exchanges []*spot.SpotExchange
	logger    core.ILogger

	anchors map[string]decimal.Decimal // exchange|symbol -> mid at last quote
	paused  map[string]bool            // exchange -> quotes parked
}

func NewSpreadStrategy(cfg SpreadConfig, exchanges []*spot.SpotExchange, logger core.ILogger) (*SpreadStrategy, error) {
	if len(exchanges) == 0 {
		return nil, errors.New("spread strategy needs at least one exchange")
	}
	return &SpreadStrategy{
		cfg:       cfg.withDefaults(),
		exchanges: exchanges,
		logger:    logger.WithField("component", "spread_strategy"),
		anchors:   make(map[string]decimal.Decimal),
		paused:    make(map[string]bool),
	}, nil
}

func (s *SpreadStrategy) Run(ctx context.Context) error {
	for _, ex := range s.exchanges {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runExchange(ex)
	}
	return nil
}

func (s *SpreadStrategy) runExchange(ex *spot.SpotExchange) {
	if s.cfg.PauseRange.GreaterThan(decimal.Zero) && s.handleVolatility(ex) {
		return
	}

	// Quotes from the previous interval that still await a venue response
	// must resolve before fresh ones go out.
	if ex.Orders().PendingCount() > 0 {
		return
	}

	activeBySymbol := make(map[string][]*core.SpotOrder)
	for _, o := range ex.GetActiveSpotOrders() {
		symbol := o.Pair.TradingPair()
		activeBySymbol[symbol] = append(activeBySymbol[symbol], o)
	}

	for _, pair := range ex.Pairs() {
		s.quotePair(ex, pair, activeBySymbol[pair.TradingPair()])
	}
}

// handleVolatility parks every quote when any pair's candle range exceeds
// the pause threshold and recovers them once all pairs are calm again.
// Reports whether the exchange is currently paused.
func (s *SpreadStrategy) handleVolatility(ex *spot.SpotExchange) bool {
	volatile := false
	for _, pair := range ex.Pairs() {
		candle := pair.Candles()
		if candle == nil || candle.Close.LessThanOrEqual(decimal.Zero) {
			continue
		}
		candleRange := candle.High.Sub(candle.Low).Div(candle.Close)
		if candleRange.GreaterThanOrEqual(s.cfg.PauseRange) {
			volatile = true
			break
		}
	}

	name := ex.Name()
	switch {
	case volatile && !s.paused[name]:
		ex.AddBacklog(nil, true)
		s.paused[name] = true
		s.logger.Warn("volatile candle, parking quotes", "exchange", name)
	case !volatile && s.paused[name]:
		if err := ex.RecoverBacklog(); err != nil {
			s.logger.Warn("backlog recovery rejected, retrying next interval",
				"exchange", name, "error", err)
			return true
		}
		s.paused[name] = false
		s.logger.Info("candle range back to normal, quotes recovered", "exchange", name)
	}
	return s.paused[name]
}

func (s *SpreadStrategy) quotePair(ex *spot.SpotExchange, pair *core.Pair, active []*core.SpotOrder) {
	book := pair.OrderBook()
	if book == nil {
		return
	}
	mid, ok := book.MidPrice()
	if !ok || mid.LessThanOrEqual(decimal.Zero) {
		return
	}

	key := ex.Name() + "|" + pair.TradingPair()
	if len(active) > 0 {
		anchor, seen := s.anchors[key]
		if seen && !s.drifted(mid, anchor) {
			return
		}
		ex.CancelSpotOrders(active)
	}

	quotes := s.buildQuotes(pair, mid)
	if err := ex.CreateSpotOrders(quotes); err != nil {
		s.logger.Warn("quote placement rejected",
			"exchange", ex.Name(), "pair", pair.TradingPair(), "error", err)
		return
	}
	s.anchors[key] = mid
}

func (s *SpreadStrategy) drifted(mid, anchor decimal.Decimal) bool {
	if anchor.LessThanOrEqual(decimal.Zero) {
		return true
	}
	drift := mid.Sub(anchor).Abs().Div(anchor)
	return drift.GreaterThan(s.cfg.RequoteDrift)
}

// buildQuotes lays out Levels price levels per side, each level a further
// LevelOffset away from the half-spread quote, snapped to the pair grid.
func (s *SpreadStrategy) buildQuotes(pair *core.Pair, mid decimal.Decimal) []*core.SpotOrder {
	one := decimal.NewFromInt(1)
	half := s.cfg.Spread.Div(decimal.NewFromInt(2))
	askBase := mid.Mul(one.Add(half))
	bidBase := mid.Mul(one.Sub(half))
	quantity := pair.RoundQuantity(s.cfg.OrderQuantity)

	quotes := make([]*core.SpotOrder, 0, 2*s.cfg.Levels)
	for i := 0; i < s.cfg.Levels; i++ {
		step := s.cfg.LevelOffset.Mul(decimal.NewFromInt(int64(i)))
		askPrice := pair.RoundPrice(askBase.Mul(one.Add(step)))
		bidPrice := pair.RoundPrice(bidBase.Mul(one.Sub(step)))
		quotes = append(quotes,
			core.NewSpotOrder(pair, quantity, askPrice, core.SideSell, core.TypeLimit),
			core.NewSpotOrder(pair, quantity, bidPrice, core.SideBuy, core.TypeLimit),
		)
	}
	return quotes
}
