package metrics

import (
	"context"
	"testing"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/engine/spot"
	ws "meld_bot/internal/infrastructure/websocket"
	"meld_bot/internal/mock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusExchange(t *testing.T) (*spot.SpotExchange, *mock.Connector) {
	t.Helper()

	pair := core.NewPair("ETH", "USDT", 10)
	pair.SetTradingPair("ETHUSDT")

	venue := mock.NewConnector("FMFW")
	venue.SetBalance("USDT", decimal.NewFromInt(100000), decimal.Zero)
	venue.SetBalance("ETH", decimal.NewFromInt(50), decimal.Zero)
	venue.SetOrderBook("ETHUSDT", core.NewOrderBook(
		[]core.PriceLevel{{Price: decimal.NewFromInt(1999), Quantity: decimal.NewFromInt(5)}},
		[]core.PriceLevel{{Price: decimal.NewFromInt(2001), Quantity: decimal.NewFromInt(5)}},
		time.Now().UnixMilli(),
	))
	venue.SetTickers("ETHUSDT", &core.Tickers{
		Close:     decimal.NewFromInt(2000),
		BestBid:   decimal.NewFromInt(1999),
		BestAsk:   decimal.NewFromInt(2001),
		Timestamp: time.Now().UnixMilli(),
	})
	venue.SetCandles("ETHUSDT", &core.PriceCandles{
		Open:      decimal.NewFromInt(1990),
		Close:     decimal.NewFromInt(2000),
		Period:    core.PeriodM1,
		Timestamp: time.Now().UnixMilli(),
	})

	ex := spot.NewSpotExchange(spot.Config{
		ExchangeName: "FMFW",
		LoopInterval: 20 * time.Millisecond,
		CallTimeout:  time.Second,
		HistoryCap:   10,
	}, venue, []*core.Pair{pair}, nil, testLogger(t))
	return ex, venue
}

func TestSnapshotExchangeCapturesLoopState(t *testing.T) {
	ex, _ := newStatusExchange(t)
	ex.Inventory().SetBalances(map[string]core.Balance{
		"USDT": {Free: decimal.NewFromInt(1000)},
	})

	snap := SnapshotExchange(ex)

	assert.Equal(t, "FMFW", snap.Exchange)
	assert.Equal(t, "ENABLED", snap.Status["exchange_enabled"])
	assert.Equal(t, "NOT_READY", snap.Status["market_ready"])
	assert.Equal(t, "1000", snap.InventoryFree["USDT"])
	assert.Zero(t, snap.TrackedOrders)
	assert.Zero(t, snap.LastFetchUnixNano)
	assert.False(t, snap.ObservedAt.IsZero())
}

func TestWireStatusFeedBroadcastsIntervalSnapshots(t *testing.T) {
	ex, _ := newStatusExchange(t)

	hub := ws.NewHub(nil)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	client := ws.NewClient("dash-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	WireStatusFeed(hub, []*spot.SpotExchange{ex})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ex.Run(context.Background())
	}()
	t.Cleanup(func() {
		ex.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("exchange loop did not stop")
		}
		stopHub()
	})

	// Snapshots stream once per interval; wait for one taken after the
	// cold fetch declared the market ready.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-client.Recv():
			require.Equal(t, ws.TypeStatus, msg.Type)
			snap, ok := msg.Data.(ExchangeStatus)
			require.True(t, ok)
			assert.Equal(t, "FMFW", snap.Exchange)
			if snap.Status["market_ready"] != "READY" {
				continue
			}
			assert.Positive(t, snap.LastFetchUnixNano)
			assert.Equal(t, "100000", snap.InventoryFree["USDT"])
			assert.Equal(t, "50", snap.InventoryFree["ETH"])
			return
		case <-deadline:
			t.Fatal("no ready snapshot observed")
		}
	}
}
