package core

import (
	"github.com/shopspring/decimal"
)

// RoundToIncrement snaps value onto the nearest multiple of increment using
// banker's rounding, so the result divided by the increment is always an
// exact integer. A zero increment returns the value unchanged.
func RoundToIncrement(value, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return value
	}
	steps := value.Div(increment).RoundBank(0)
	return steps.Mul(increment)
}
