package strategy

import (
	"errors"
	"testing"

	"meld_bot/internal/engine/spot"
	apperrors "meld_bot/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesKnownStrategies(t *testing.T) {
	ex, _, _ := newQuotingExchange(t)
	logger := testLogger(t)

	s, err := New("spread", []*spot.SpotExchange{ex}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SpreadStrategy{}, s)

	s, err = New("SPREAD", []*spot.SpotExchange{ex}, logger)
	require.NoError(t, err, "names must match case-insensitively")
	assert.IsType(t, &SpreadStrategy{}, s)

	s, err = New("noop", []*spot.SpotExchange{ex}, logger)
	require.NoError(t, err)
	assert.IsType(t, &NoopStrategy{}, s)
}

func TestRegistryRejectsUnknownStrategy(t *testing.T) {
	ex, _, _ := newQuotingExchange(t)

	_, err := New("momentum", []*spot.SpotExchange{ex}, testLogger(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStrategyNotFound))
}

func TestRegistryRejectsEmptyExchangeSet(t *testing.T) {
	_, err := New("spread", nil, testLogger(t))
	assert.Error(t, err)
}

func TestSupportedStrategiesListsRegistered(t *testing.T) {
	names := SupportedStrategies()
	assert.Contains(t, names, "spread")
	assert.Contains(t, names, "noop")
}
