package strategy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
	"meld_bot/internal/mock"
	"meld_bot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countStrategy records invocations and does nothing else
type countStrategy struct {
	runs atomic.Int64
}

func (c *countStrategy) Run(ctx context.Context) error {
	c.runs.Add(1)
	return nil
}

func loadVenueData(venue *mock.Connector, symbol string) {
	venue.SetBalance("USDT", decimal.NewFromInt(100000), decimal.Zero)
	venue.SetBalance("ETH", decimal.NewFromInt(50), decimal.Zero)
	venue.SetOrderBook(symbol, core.NewOrderBook(
		[]core.PriceLevel{{Price: decimal.NewFromInt(1999), Quantity: decimal.NewFromInt(5)}},
		[]core.PriceLevel{{Price: decimal.NewFromInt(2001), Quantity: decimal.NewFromInt(5)}},
		time.Now().UnixMilli(),
	))
	venue.SetTickers(symbol, &core.Tickers{
		Close:     decimal.NewFromInt(2000),
		Timestamp: time.Now().UnixMilli(),
	})
	venue.SetCandles(symbol, &core.PriceCandles{
		High:      decimal.NewFromInt(2001),
		Low:       decimal.NewFromInt(1999),
		Close:     decimal.NewFromInt(2000),
		Period:    core.PeriodM1,
		Timestamp: time.Now().UnixMilli(),
	})
}

func TestRunnerServesStrategyOncePerInterval(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	pair := core.NewPair("ETH", "USDT", 10)
	pair.SetTradingPair("ETHUSDT")
	venue := mock.NewConnector("FMFW")
	loadVenueData(venue, "ETHUSDT")

	ex := spot.NewSpotExchange(spot.Config{
		ExchangeName: "FMFW",
		LoopInterval: 20 * time.Millisecond,
		CallTimeout:  time.Second,
		HistoryCap:   10,
	}, venue, []*core.Pair{pair}, nil, logger)

	body := &countStrategy{}
	runner := NewRunner(body, []*spot.SpotExchange{ex}, logger)

	exchangeDone := make(chan struct{})
	go func() {
		defer close(exchangeDone)
		_ = ex.Run(context.Background())
	}()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		_ = runner.Run(context.Background())
	}()

	// Two served intervals prove the whole handshake: readiness raised,
	// body run, PROCESSED set, dispatch, statuses reset for the next round.
	require.Eventually(t, func() bool {
		return body.runs.Load() >= 2
	}, 10*time.Second, time.Millisecond, "strategy was not served repeatedly")

	ex.Close()
	select {
	case <-exchangeDone:
	case <-time.After(5 * time.Second):
		t.Fatal("exchange loop did not stop")
	}
	select {
	case <-runnerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after exchange was disabled")
	}
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	pair := core.NewPair("ETH", "USDT", 10)
	venue := mock.NewConnector("FMFW")
	ex := spot.NewSpotExchange(spot.Config{ExchangeName: "FMFW"}, venue, []*core.Pair{pair}, nil, logger)

	body := &countStrategy{}
	runner := NewRunner(body, []*spot.SpotExchange{ex}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop on context cancel")
	}
	// The exchange never raised readiness, so the body never ran
	assert.Equal(t, int64(0), body.runs.Load())
}
