package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a spot order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the venue execution type
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderStatus is the venue-reported order status, normalised by connectors
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// IsTerminal reports whether the venue will never change this status again
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// LifecycleState is the bot-side order state, distinct from the venue status
type LifecycleState int

const (
	LifecycleInitialized LifecycleState = iota
	LifecycleHangingPosting
	LifecycleActive
	LifecycleCancelledList
	LifecycleHangingCancelling
	LifecycleCompleted
)

// AllLifecycleStates lists every bucket in transition order
var AllLifecycleStates = []LifecycleState{
	LifecycleInitialized,
	LifecycleHangingPosting,
	LifecycleActive,
	LifecycleCancelledList,
	LifecycleHangingCancelling,
	LifecycleCompleted,
}

func (s LifecycleState) String() string {
	switch s {
	case LifecycleInitialized:
		return "INITIALIZED"
	case LifecycleHangingPosting:
		return "HANGING_POSTING"
	case LifecycleActive:
		return "ACTIVE"
	case LifecycleCancelledList:
		return "CANCELLED_LIST"
	case LifecycleHangingCancelling:
		return "HANGING_CANCELLING"
	case LifecycleCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// SpotOrder is the protocol-level order entity. OrderID is client-assigned;
// VenueOrderID is filled once the venue acknowledges the order.
type SpotOrder struct {
	OrderID            string
	VenueOrderID       string
	Pair               *Pair
	Quantity           decimal.Decimal
	Price              decimal.Decimal
	Side               OrderSide
	Type               OrderType
	QuantityCumulative decimal.Decimal
	Status             OrderStatus
	CreatedAt          int64 // unix seconds
	UpdatedAt          int64 // unix seconds
}

// NewSpotOrder builds an order intent for the given pair. Status and IDs are
// assigned later by the exchange facade.
func NewSpotOrder(pair *Pair, quantity, price decimal.Decimal, side OrderSide, orderType OrderType) *SpotOrder {
	now := time.Now().Unix()
	return &SpotOrder{
		Pair:      pair,
		Quantity:  quantity,
		Price:     price,
		Side:      side,
		Type:      orderType,
		Status:    OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Remaining returns the unfilled quantity
func (o *SpotOrder) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.QuantityCumulative)
}

// Clone returns a shallow copy sharing the Pair handle
func (o *SpotOrder) Clone() *SpotOrder {
	cp := *o
	return &cp
}
