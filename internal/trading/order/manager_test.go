package order

import (
	"errors"
	"strings"
	"testing"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"
	"meld_bot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, pairs ...*core.Pair) *Manager {
	t.Helper()
	if len(pairs) == 0 {
		pairs = []*core.Pair{core.NewPair("ETH", "USDT", 10)}
	}
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return NewManager("FMFW", "meld_", pairs, logger)
}

func newOrder(pair *core.Pair, id string) *core.SpotOrder {
	o := core.NewSpotOrder(pair, decimal.NewFromInt(1), decimal.NewFromInt(2000), core.SideBuy, core.TypeLimit)
	o.OrderID = id
	return o
}

// ack pretends to be the venue response for a posted order
func ack(o *core.SpotOrder, status core.OrderStatus) *core.SpotOrder {
	resp := o.Clone()
	resp.Status = status
	return resp
}

func TestNewOrderIDFormat(t *testing.T) {
	m := newTestManager(t)

	id := m.NewOrderID()
	assert.True(t, strings.HasPrefix(id, "meld_fmfw_"), id)
	assert.LessOrEqual(t, len(id), 32)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := m.NewOrderID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestPlaceAndCancelRoundTrip(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := newOrder(pair, "meld_fmfw_roundtrip")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))

	state, ok := m.StateOf(o.OrderID)
	require.True(t, ok)
	assert.Equal(t, core.LifecycleInitialized, state)

	batch := m.InitializedOrders()
	require.Len(t, batch, 1)
	state, _ = m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleHangingPosting, state)

	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})
	state, _ = m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleActive, state)
	assert.True(t, m.Tracked(o.OrderID))

	m.AddCancelOrders([]*core.SpotOrder{o})
	state, _ = m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCancelledList, state)

	cancels := m.CancelledOrders()
	require.Len(t, cancels, 1)
	state, _ = m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleHangingCancelling, state)

	m.CancelledResults([]*core.SpotOrder{ack(o, core.OrderStatusCanceled)})
	state, _ = m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCompleted, state)
	assert.False(t, m.Tracked(o.OrderID))
}

func TestEachOrderLivesInExactlyOneBucket(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := newOrder(pair, "meld_fmfw_single")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})

	total := 0
	for _, n := range m.Counts() {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestAbsentPostResponseRetriesNextInterval(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	a := newOrder(pair, "meld_fmfw_a")
	b := newOrder(pair, "meld_fmfw_b")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{a, b}))
	require.Len(t, m.InitializedOrders(), 2)

	// Venue answered only for a; b's slot is nil
	m.PostedOrders([]*core.SpotOrder{ack(a, core.OrderStatusNew), nil})

	state, _ := m.StateOf(a.OrderID)
	assert.Equal(t, core.LifecycleActive, state)
	state, _ = m.StateOf(b.OrderID)
	assert.Equal(t, core.LifecycleInitialized, state)

	// Next interval's batch picks b up again under the same id
	retry := m.InitializedOrders()
	require.Len(t, retry, 1)
	assert.Equal(t, b.OrderID, retry[0].OrderID)
}

func TestAbsentCancelResponseRequeues(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := newOrder(pair, "meld_fmfw_requeue")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})

	m.AddCancelOrders([]*core.SpotOrder{o})
	require.Len(t, m.CancelledOrders(), 1)

	m.CancelledResults([]*core.SpotOrder{nil})
	state, _ := m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCancelledList, state)
	require.Len(t, m.CancelledOrders(), 1)
}

func TestPostedTerminalStatusCompletesImmediately(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	var completed []*core.SpotOrder
	m.SetCompletionHook(func(o *core.SpotOrder) { completed = append(completed, o) })

	o := newOrder(pair, "meld_fmfw_instant")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusFilled)})

	state, _ := m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCompleted, state)
	assert.False(t, m.Tracked(o.OrderID))
	require.Len(t, completed, 1)
	assert.Equal(t, o.OrderID, completed[0].OrderID)
}

func TestDuplicateOrderIDRejectsWholeBatch(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	first := newOrder(pair, "meld_fmfw_dup")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{first}))

	fresh := newOrder(pair, "meld_fmfw_fresh")
	dup := newOrder(pair, "meld_fmfw_dup")
	err := m.AddPostOrders([]*core.SpotOrder{fresh, dup})
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateOrder))

	// The valid order must not have slipped in
	_, ok := m.StateOf("meld_fmfw_fresh")
	assert.False(t, ok)
}

func TestPartialFillStaysActive(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := newOrder(pair, "meld_fmfw_partial")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})

	tracked := m.TrackedOrders()
	require.Len(t, tracked, 1)

	result := ack(o, core.OrderStatusPartiallyFilled)
	result.QuantityCumulative = decimal.RequireFromString("0.4")
	require.NoError(t, m.UpdateState(tracked, []*core.SpotOrder{result}))

	state, _ := m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleActive, state)
	assert.True(t, m.Tracked(o.OrderID))

	refreshed := m.ActiveOrders()
	require.Len(t, refreshed, 1)
	assert.True(t, refreshed[0].QuantityCumulative.Equal(decimal.RequireFromString("0.4")))
}

func TestFilledQueryResultCompletes(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	var completed int
	m.SetCompletionHook(func(*core.SpotOrder) { completed++ })

	o := newOrder(pair, "meld_fmfw_filled")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})

	tracked := m.TrackedOrders()
	require.NoError(t, m.UpdateState(tracked, []*core.SpotOrder{ack(o, core.OrderStatusFilled)}))

	state, _ := m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCompleted, state)
	assert.False(t, m.Tracked(o.OrderID))
	assert.Equal(t, 1, completed)
}

func TestShortQueryResultsSkipPairStateUpdate(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	a := newOrder(pair, "meld_fmfw_qa")
	b := newOrder(pair, "meld_fmfw_qb")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{a, b}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(a, core.OrderStatusNew), ack(b, core.OrderStatusNew)})

	// One result missing: the whole pair keeps its previous state, even
	// though a's result alone would have completed it
	err := m.UpdateState(
		[]*core.SpotOrder{a, b},
		[]*core.SpotOrder{ack(a, core.OrderStatusFilled), nil})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientOrders))

	state, _ := m.StateOf(a.OrderID)
	assert.Equal(t, core.LifecycleActive, state)
	assert.True(t, m.Tracked(a.OrderID))
}

func TestShortPairDoesNotBlockOtherPairs(t *testing.T) {
	ethPair := core.NewPair("ETH", "USDT", 10)
	btcPair := core.NewPair("BTC", "USDT", 10)
	m := newTestManager(t, ethPair, btcPair)

	eth := newOrder(ethPair, "meld_fmfw_eth")
	btc := newOrder(btcPair, "meld_fmfw_btc")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{eth, btc}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(eth, core.OrderStatusNew), ack(btc, core.OrderStatusNew)})

	err := m.UpdateState(
		[]*core.SpotOrder{eth, btc},
		[]*core.SpotOrder{ack(eth, core.OrderStatusFilled), nil})
	require.True(t, errors.Is(err, apperrors.ErrInsufficientOrders))
	assert.Contains(t, err.Error(), "BTCUSDT")

	state, _ := m.StateOf(eth.OrderID)
	assert.Equal(t, core.LifecycleCompleted, state)
	state, _ = m.StateOf(btc.OrderID)
	assert.Equal(t, core.LifecycleActive, state)
}

func TestInsertActiveOrdersSeedsTracking(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	learned := newOrder(pair, "meld_fmfw_learned")
	learned.Status = core.OrderStatusPartiallyFilled
	m.InsertActiveOrders([]*core.SpotOrder{learned})

	state, ok := m.StateOf(learned.OrderID)
	require.True(t, ok)
	assert.Equal(t, core.LifecycleActive, state)
	assert.True(t, m.Tracked(learned.OrderID))
	assert.Equal(t, 1, m.TrackedCount())
}

func TestBacklogRoundTrip(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := core.NewSpotOrder(pair, decimal.NewFromInt(2), decimal.NewFromInt(2000), core.SideSell, core.TypeLimit)
	o.OrderID = "meld_fmfw_parked"
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})

	o.QuantityCumulative = decimal.RequireFromString("0.5")
	m.AddBacklog([]*core.SpotOrder{o}, false)

	// Remainder is parked, the original heads for cancellation untouched
	parked := m.BacklogOrders()
	require.Len(t, parked, 1)
	assert.True(t, parked[0].Quantity.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, parked[0].QuantityCumulative.IsZero())

	state, _ := m.StateOf(o.OrderID)
	assert.Equal(t, core.LifecycleCancelledList, state)
	assert.True(t, o.Quantity.Equal(decimal.NewFromInt(2)))

	var submitted []*core.SpotOrder
	require.NoError(t, m.RecoverBacklog(func(orders []*core.SpotOrder) error {
		submitted = orders
		return nil
	}))
	require.Len(t, submitted, 1)
	assert.True(t, submitted[0].Quantity.Equal(decimal.RequireFromString("1.5")))
	assert.Empty(t, submitted[0].OrderID, "resubmission gets a fresh id downstream")
	assert.Empty(t, m.BacklogOrders())
}

func TestRecoverBacklogKeepsEntriesOnFailure(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	o := newOrder(pair, "meld_fmfw_kept")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{o}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(o, core.OrderStatusNew)})
	m.AddBacklog(nil, true)

	err := m.RecoverBacklog(func([]*core.SpotOrder) error {
		return apperrors.ErrInsufficientFunds
	})
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))
	assert.Len(t, m.BacklogOrders(), 1)
}

func TestCancelAllQueuesEveryActiveOrder(t *testing.T) {
	pair := core.NewPair("ETH", "USDT", 10)
	m := newTestManager(t, pair)

	a := newOrder(pair, "meld_fmfw_ca")
	b := newOrder(pair, "meld_fmfw_cb")
	require.NoError(t, m.AddPostOrders([]*core.SpotOrder{a, b}))
	m.InitializedOrders()
	m.PostedOrders([]*core.SpotOrder{ack(a, core.OrderStatusNew), ack(b, core.OrderStatusNew)})

	m.CancelAll()
	assert.Len(t, m.CancelledOrders(), 2)
	assert.Empty(t, m.ActiveOrders())
}
