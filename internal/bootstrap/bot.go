package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"meld_bot/internal/config"
	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
	"meld_bot/internal/exchange"
	"meld_bot/internal/infrastructure/health"
	"meld_bot/internal/strategy"
)

// Bot is one runnable profile: its exchange loops and the strategy runner
// wired over them.
type Bot struct {
	ID        string
	exchanges []*spot.SpotExchange
	runner    *strategy.Runner
	logger    core.ILogger
}

// Exchanges returns the bot's exchange loops
func (b *Bot) Exchanges() []*spot.SpotExchange { return b.exchanges }

// Run drives the exchange loops and the strategy runner until the context
// ends. Cancellation disables each exchange rather than killing it, so the
// loops run their shutdown path (cancel-on-exit, backlog drop) before Run
// returns.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot starting", "exchanges", len(b.exchanges))

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range b.exchanges {
		target := ex
		g.Go(func() error { return target.Run(gctx) })
	}
	g.Go(func() error { return b.runner.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		for _, ex := range b.exchanges {
			ex.Close()
		}
		return nil
	})

	err := g.Wait()
	b.logger.Info("bot stopped")
	return err
}

func (a *App) buildBot(id string, profile config.BotProfile) (*Bot, error) {
	exchanges := make([]*spot.SpotExchange, 0, len(profile.ExchangeBases))
	for _, base := range profile.ExchangeBases {
		ex, err := a.buildExchange(id, base)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}

	strat, err := strategy.New(strategyName(profile.StrategyFile), exchanges, a.zap)
	if err != nil {
		return nil, err
	}

	return &Bot{
		ID:        id,
		exchanges: exchanges,
		runner:    strategy.NewRunner(strat, exchanges, a.zap),
		logger:    a.zap.WithField("component", "bot").WithField("bot_id", id),
	}, nil
}

// buildExchange turns one exchange_base into a configured loop: pairs carry
// the venue's tick and increment from the settings file, the connector gets
// the revealed credentials and retry budget.
func (a *App) buildExchange(botID string, base config.ExchangeBase) (*spot.SpotExchange, error) {
	name := strings.ToUpper(base.ExchangeName)

	settings, err := config.LoadVenueSettings(a.cfg.System.SettingsDir, name)
	if err != nil {
		return nil, err
	}

	pairs := make([]*core.Pair, 0, len(base.Pairs))
	for _, pc := range base.Pairs {
		pair := core.NewPair(pc.BaseAsset, pc.QuoteAsset, a.cfg.Tunables.DataMaxLength)
		if pc.TradingPair != "" {
			pair.SetTradingPair(pc.TradingPair)
		}
		setting, ok := settings[pair.TradingPair()]
		if !ok {
			return nil, fmt.Errorf("%s: no venue setting for %s", name, pair.TradingPair())
		}
		pair.SetMarketInfo(core.MarketInfo{
			TickSize:          setting.TickSize,
			QuantityIncrement: setting.QuantityIncrement,
			TakeRate:          setting.TakeRate,
			MakeRate:          setting.MakeRate,
		})
		pairs = append(pairs, pair)
	}

	connector, err := exchange.NewConnector(name, a.zap)
	if err != nil {
		return nil, err
	}
	if err := connector.Configure(core.ConnectorConfig{
		Pairs: pairs,
		Account: core.Account{
			APIKey:    base.Account.APIKey.Reveal(),
			SecretKey: base.Account.SecretKey.Reveal(),
		},
		RetryNum:    a.cfg.Tunables.RetryNum,
		Timeout:     a.cfg.Tunables.HTTPTimeout(),
		CallTimeout: a.cfg.Tunables.CallTimeout(),
	}); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	a.logger.Info("venue configured",
		"exchange", name, "pairs", len(pairs), "api_key", base.Account.APIKey.Masked())

	ex := spot.NewSpotExchange(spot.Config{
		ExchangeName:        name,
		ClientOrderPrefix:   a.cfg.Tunables.ClientOrderPrefix,
		LoopInterval:        a.cfg.Tunables.Interval(),
		CallTimeout:         a.cfg.Tunables.CallTimeout(),
		BufferOrderQuantity: decimal.NewFromFloat(a.cfg.Tunables.BufferOrderQuantity),
		HistoryCap:          a.cfg.Tunables.DataMaxLength,
		CancelOnExit:        a.cfg.System.CancelOnExit,
	}, connector, pairs, a.orderJournal(), a.zap)

	a.registerHealthChecks(botID, ex, connector)
	return ex, nil
}

// registerHealthChecks keys each check by bot and venue so the /health
// payload pinpoints the failing loop. The staleness allowance is three
// intervals: one slow fetch is routine, three missed in a row is not.
func (a *App) registerHealthChecks(botID string, ex *spot.SpotExchange, connector core.IConnector) {
	prefix := botID + "/" + ex.Name()
	a.health.Register(prefix+"/market_data", health.FetchFreshness(ex, 3*a.cfg.Tunables.Interval()))
	if check, ok := health.VenueBreaker(connector); ok {
		a.health.Register(prefix+"/circuit_breaker", check)
	}
}

// strategyName maps a profile's strategy_file to a registry name: the base
// name with any extension stripped, so "strategies/spread.yaml" selects
// "spread".
func strategyName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
