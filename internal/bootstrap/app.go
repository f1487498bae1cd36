// Package bootstrap assembles a runnable bot fleet from the launch files:
// app config, bot profiles and per-venue settings. It owns the shared
// infrastructure (logger, telemetry, journal, monitor surface) and the
// process lifecycle, including signal-driven shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"meld_bot/internal/config"
	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
	"meld_bot/internal/infrastructure/health"
	"meld_bot/internal/infrastructure/metrics"
	ws "meld_bot/internal/infrastructure/websocket"
	"meld_bot/internal/journal"
	"meld_bot/pkg/concurrency"
	"meld_bot/pkg/logging"
	"meld_bot/pkg/telemetry"
)

// Options selects the launch files and overrides. An empty BotID runs every
// profile in the profiles file.
type Options struct {
	ConfigPath   string
	ProfilesPath string
	BotID        string
	LogLevel     string // overrides system.log_level when set
}

// App holds the loaded launch files and the infrastructure shared by every
// bot: one logger, one telemetry pipeline, one journal, one monitor port.
type App struct {
	cfg      *config.Config
	profiles map[string]config.BotProfile
	opts     Options

	zap    *logging.ZapLogger
	logger core.ILogger

	telemetry *telemetry.Telemetry
	journal   *journal.SQLiteJournal
	health    *health.Manager
	hub       *ws.Hub
	monitor   *metrics.Server
}

// NewApp loads the launch files and wires the shared infrastructure.
// Nothing is started yet; Run does that. Telemetry and the monitor server
// are only built when telemetry.enable_metrics is set, the journal only
// when journal.enabled is.
func NewApp(opts Options) (*App, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	profiles, err := config.LoadProfiles(opts.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	level := cfg.System.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	zapLogger, err := logging.NewZapLogger(level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logging.SetGlobalLogger(zapLogger)

	app := &App{
		cfg:      cfg,
		profiles: profiles,
		opts:     opts,
		zap:      zapLogger,
		logger:   zapLogger.WithField("component", "bootstrap"),
		health:   health.NewManager(zapLogger),
		hub:      ws.NewHub(zapLogger),
	}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("meld_bot")
		if err != nil {
			return nil, fmt.Errorf("telemetry setup: %w", err)
		}
		app.telemetry = tel
		app.monitor = metrics.NewServer(cfg.Telemetry.MetricsPort, zapLogger, app.health, app.hub)
	}

	if cfg.Journal.Enabled {
		jrnl, err := journal.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		app.journal = jrnl
	}

	return app, nil
}

// Logger exposes the app logger for callers that outlive Run, such as main
func (a *App) Logger() core.ILogger { return a.logger }

// Run executes the app until SIGINT or SIGTERM. Cancellation flips every
// exchange to disabled, so the loops finish their closing interval instead
// of dying mid-flight.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run with a caller-owned lifetime. Tests drive shutdown
// through the context instead of raising signals.
func (a *App) RunContext(ctx context.Context) error {
	bots, err := a.buildBots()
	if err != nil {
		return err
	}

	var exchanges []*spot.SpotExchange
	for _, bot := range bots {
		exchanges = append(exchanges, bot.exchanges...)
	}
	metrics.WireStatusFeed(a.hub, exchanges)

	// The hub outlives the bots so late status frames still reach clients;
	// it stops when RunContext returns.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.monitor != nil {
		a.monitor.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.monitor.Stop(stopCtx); err != nil {
				a.logger.Warn("monitor server stop failed", "error", err)
			}
		}()
	}

	a.logger.Info("app starting", "bots", len(bots))

	var runErr error
	if len(bots) == 1 {
		runErr = bots[0].Run(ctx)
	} else {
		runErr = a.runBots(ctx, bots)
	}

	a.teardown()
	return runErr
}

// runBots fans the bots out over the worker pool, at most max_num_threads
// running at once. Submissions beyond the cap queue until a worker frees.
func (a *App) runBots(ctx context.Context, bots []*Bot) error {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "bot_pool",
		MaxWorkers:  a.cfg.Tunables.MaxNumThreads,
		MaxCapacity: len(bots),
	}, a.zap)
	defer pool.Stop()

	var (
		mu   sync.Mutex
		errs []error
	)
	group := pool.Group()
	for _, bot := range bots {
		target := bot
		group.Submit(func() {
			if err := target.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("bot %s: %w", target.ID, err))
				mu.Unlock()
			}
		})
	}
	group.Wait()
	return errors.Join(errs...)
}

// buildBots materialises the selected profile, or every profile sorted by
// bot id when none is selected. Any build failure is fatal before anything
// starts.
func (a *App) buildBots() ([]*Bot, error) {
	ids := make([]string, 0, len(a.profiles))
	if a.opts.BotID != "" {
		if _, ok := a.profiles[a.opts.BotID]; !ok {
			return nil, fmt.Errorf("bot %s not found in profiles", a.opts.BotID)
		}
		ids = append(ids, a.opts.BotID)
	} else {
		for id := range a.profiles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	bots := make([]*Bot, 0, len(ids))
	for _, id := range ids {
		bot, err := a.buildBot(id, a.profiles[id])
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", id, err)
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

// teardown flushes the durable pieces once the bots have stopped
func (a *App) teardown() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("journal close failed", "error", err)
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	_ = a.zap.Sync()
}

// orderJournal returns the journal as the interface the engine takes, or a
// nil interface when journaling is off
func (a *App) orderJournal() core.IOrderJournal {
	if a.journal == nil {
		return nil
	}
	return a.journal
}
