package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meld_bot/internal/infrastructure/metrics"
	ws "meld_bot/internal/infrastructure/websocket"
	apperrors "meld_bot/pkg/errors"
)

const singleBotProfile = `
mm_mock:
  strategy_file: strategies/noop.py
  exchange_bases:
    - exchange_name: MOCK
      account:
        api_key: test-key
        secret_key: test-secret
      pairs:
        - base_asset: ETH
          quote_asset: USDT
          trading_pair: ETHUSDT
`

const twoBotProfiles = `
alpha_mock:
  strategy_file: noop
  exchange_bases:
    - exchange_name: MOCK
      account:
        api_key: alpha-key
        secret_key: alpha-secret
      pairs:
        - base_asset: ETH
          quote_asset: USDT
          trading_pair: ETHUSDT
beta_mock:
  strategy_file: noop
  exchange_bases:
    - exchange_name: MOCK
      account:
        api_key: beta-key
        secret_key: beta-secret
      pairs:
        - base_asset: ETH
          quote_asset: USDT
          trading_pair: ETHUSDT
`

// launchFiles lays out a complete launch directory for the in-memory MOCK
// venue: app config, the given profiles and a MOCK settings file.
func launchFiles(t *testing.T, profilesYAML string) (Options, string) {
	t.Helper()
	dir := t.TempDir()

	settingsDir := filepath.Join(dir, "settings")
	require.NoError(t, os.Mkdir(settingsDir, 0o755))
	mockSettings := `{
  "ETHUSDT": {"tick_size": "0.01", "quantity_increment": "0.0001", "take_rate": "0.002", "make_rate": "0.001"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(settingsDir, "MOCK.json"), []byte(mockSettings), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(baseConfig(settingsDir)), 0o644))

	profilesPath := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(profilesPath, []byte(profilesYAML), 0o644))

	return Options{ConfigPath: configPath, ProfilesPath: profilesPath}, dir
}

func baseConfig(settingsDir string) string {
	return `
system:
  log_level: ERROR
  cancel_on_exit: true
  settings_dir: ` + settingsDir + `
tunables:
  time_out: 5
  time_out_process: 2
  retry_num: 1
  max_num_threads: 2
  loop_interval: 1
  data_max_length: 100
  buffer_order_quantity: 1.01
  client_order_prefix: test_
telemetry:
  metrics_port: 9090
  enable_metrics: false
journal:
  enabled: false
`
}

func TestNewAppBuildsSelectedBot(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "mm_mock"

	app, err := NewApp(opts)
	require.NoError(t, err)

	bots, err := app.buildBots()
	require.NoError(t, err)
	require.Len(t, bots, 1)

	bot := bots[0]
	assert.Equal(t, "mm_mock", bot.ID)
	require.Len(t, bot.Exchanges(), 1)

	ex := bot.Exchanges()[0]
	assert.Equal(t, "MOCK", ex.Name())

	pair := ex.Pair()
	require.NotNil(t, pair)
	assert.Equal(t, "ETHUSDT", pair.TradingPair())
	rounded := pair.RoundPrice(decimal.RequireFromString("2000.004"))
	assert.True(t, rounded.Equal(decimal.RequireFromString("2000")),
		"venue tick size not applied, got %s", rounded)
}

func TestNewAppRegistersHealthChecks(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "mm_mock"

	app, err := NewApp(opts)
	require.NoError(t, err)
	_, err = app.buildBots()
	require.NoError(t, err)

	status := app.health.GetStatus()
	require.Contains(t, status, "mm_mock/MOCK/market_data")
	assert.Contains(t, status["mm_mock/MOCK/market_data"], "no market data fetched yet")

	// The mock venue has no circuit breaker to report on.
	assert.NotContains(t, status, "mm_mock/MOCK/circuit_breaker")
}

func TestBuildBotsUnknownID(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "ghost"

	app, err := NewApp(opts)
	require.NoError(t, err)

	_, err = app.buildBots()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in profiles")
}

func TestBuildBotsUnknownStrategy(t *testing.T) {
	profile := `
mm_mock:
  strategy_file: strategies/warp.py
  exchange_bases:
    - exchange_name: MOCK
      account:
        api_key: k
        secret_key: s
      pairs:
        - base_asset: ETH
          quote_asset: USDT
          trading_pair: ETHUSDT
`
	opts, _ := launchFiles(t, profile)
	app, err := NewApp(opts)
	require.NoError(t, err)

	_, err = app.buildBots()
	require.ErrorIs(t, err, apperrors.ErrStrategyNotFound)
}

func TestBuildBotsMissingVenueSetting(t *testing.T) {
	profile := `
mm_mock:
  strategy_file: noop
  exchange_bases:
    - exchange_name: MOCK
      account:
        api_key: k
        secret_key: s
      pairs:
        - base_asset: BTC
          quote_asset: USDT
          trading_pair: BTCUSDT
`
	opts, _ := launchFiles(t, profile)
	app, err := NewApp(opts)
	require.NoError(t, err)

	_, err = app.buildBots()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no venue setting for BTCUSDT")
}

func TestNewAppOpensJournalWhenEnabled(t *testing.T) {
	opts, dir := launchFiles(t, singleBotProfile)

	settingsDir := filepath.Join(dir, "settings")
	journalPath := filepath.Join(dir, "orders.db")
	cfg := strings.Replace(baseConfig(settingsDir),
		"enabled: false", "enabled: true\n  path: "+journalPath, 1)
	configPath := filepath.Join(dir, "config_journal.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	opts.ConfigPath = configPath

	app, err := NewApp(opts)
	require.NoError(t, err)
	require.NotNil(t, app.journal)
	require.NotNil(t, app.orderJournal())

	app.teardown()
	assert.FileExists(t, journalPath)
}

func TestStrategyNameFromFile(t *testing.T) {
	cases := map[string]string{
		"strategies/spread.yaml": "spread",
		"strategies/noop.py":     "noop",
		"noop":                   "noop",
		"Spread.PY":              "Spread",
	}
	for file, want := range cases {
		assert.Equal(t, want, strategyName(file), "file %q", file)
	}
}

func TestBotRunDisablesExchangesOnCancel(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "mm_mock"

	app, err := NewApp(opts)
	require.NoError(t, err)
	bots, err := app.buildBots()
	require.NoError(t, err)
	bot := bots[0]

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop after cancel")
	}
	assert.False(t, bot.Exchanges()[0].Status().Enabled())
}

func TestRunContextBroadcastsStatusOverHub(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "mm_mock"

	app, err := NewApp(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	client := ws.NewClient("monitor-test")
	app.hub.Register(client)

	select {
	case msg := <-client.Recv():
		assert.Equal(t, ws.TypeStatus, msg.Type)
		snap, ok := msg.Data.(metrics.ExchangeStatus)
		require.True(t, ok, "unexpected frame payload %T", msg.Data)
		assert.Equal(t, "MOCK", snap.Exchange)
	case <-time.After(5 * time.Second):
		t.Fatal("no status frame within deadline")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestRunContextRunsFleetUntilCancelled(t *testing.T) {
	opts, _ := launchFiles(t, twoBotProfiles)

	app, err := NewApp(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("fleet did not stop after context expiry")
	}
}

func TestRunContextSurfacesBuildFailure(t *testing.T) {
	opts, _ := launchFiles(t, singleBotProfile)
	opts.BotID = "ghost"

	app, err := NewApp(opts)
	require.NoError(t, err)

	err = app.RunContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in profiles")
}
