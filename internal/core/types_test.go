package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundToIncrement(t *testing.T) {
	cases := []struct {
		value, increment, want string
	}{
		{"2000.123456", "0.01", "2000.12"},
		{"1", "0.001", "1"},
		{"0.1055", "0.001", "0.106"},
		// Banker's rounding: exact halves go to the even step.
		{"0.05", "0.1", "0"},
		{"0.15", "0.1", "0.2"},
		{"123.456", "0", "123.456"},
	}

	for _, tc := range cases {
		got := RoundToIncrement(decimal.RequireFromString(tc.value), decimal.RequireFromString(tc.increment))
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"round(%s, %s) = %s, want %s", tc.value, tc.increment, got, tc.want)
	}
}

func TestRoundToIncrementExactMultiple(t *testing.T) {
	increments := []string{"0.01", "0.001", "0.5", "25"}
	values := []string{"2000.123456", "0.0004999", "17.77", "1234567.891"}

	for _, inc := range increments {
		for _, val := range values {
			increment := decimal.RequireFromString(inc)
			got := RoundToIncrement(decimal.RequireFromString(val), increment)
			steps := got.Div(increment)
			assert.True(t, steps.Equal(steps.Truncate(0)),
				"round(%s, %s)=%s is not an exact multiple", val, inc, got)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusNew.IsTerminal())
	assert.False(t, OrderStatusPartiallyFilled.IsTerminal())
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusCanceled.IsTerminal())
}

func TestSpotOrderRemaining(t *testing.T) {
	pair := NewPair("eth", "usdt", 1)
	order := NewSpotOrder(pair, decimal.NewFromInt(2), decimal.NewFromInt(2000), SideBuy, TypeLimit)
	order.QuantityCumulative = decimal.RequireFromString("0.5")

	assert.True(t, order.Remaining().Equal(decimal.RequireFromString("1.5")))

	clone := order.Clone()
	clone.Status = OrderStatusFilled
	assert.Equal(t, OrderStatusNew, order.Status)
	assert.Same(t, order.Pair, clone.Pair)
}

func TestLifecycleStateString(t *testing.T) {
	assert.Equal(t, "INITIALIZED", LifecycleInitialized.String())
	assert.Equal(t, "HANGING_POSTING", LifecycleHangingPosting.String())
	assert.Equal(t, "ACTIVE", LifecycleActive.String())
	assert.Equal(t, "CANCELLED_LIST", LifecycleCancelledList.String())
	assert.Equal(t, "HANGING_CANCELLING", LifecycleHangingCancelling.String())
	assert.Equal(t, "COMPLETED", LifecycleCompleted.String())
}
