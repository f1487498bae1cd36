package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CandlePeriod is a venue-independent candle interval
type CandlePeriod string

const (
	PeriodM1  CandlePeriod = "M1"
	PeriodM3  CandlePeriod = "M3"
	PeriodM5  CandlePeriod = "M5"
	PeriodM15 CandlePeriod = "M15"
	PeriodM30 CandlePeriod = "M30"
	PeriodH1  CandlePeriod = "H1"
	PeriodH4  CandlePeriod = "H4"
	PeriodD1  CandlePeriod = "D1"
	PeriodD7  CandlePeriod = "D7"
	Period1M  CandlePeriod = "1M"
)

// PriceLevel is one side entry of an order book
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook holds one depth snapshot. Bids are kept descending by price,
// asks ascending, regardless of input order.
type OrderBook struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp int64
}

// NewOrderBook sorts the given sides into canonical order
func NewOrderBook(bids, asks []PriceLevel, timestamp int64) *OrderBook {
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	return &OrderBook{Bids: bids, Asks: asks, Timestamp: timestamp}
}

// BestBid returns the highest bid, if any
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// NthBestBid returns the n-th best bid, 1-based. Depths beyond the book
// clamp to the last level.
func (b *OrderBook) NthBestBid(n int) (PriceLevel, bool) {
	return nthLevel(b.Bids, n)
}

// NthBestAsk returns the n-th best ask, 1-based, clamped like NthBestBid
func (b *OrderBook) NthBestAsk(n int) (PriceLevel, bool) {
	return nthLevel(b.Asks, n)
}

func nthLevel(side []PriceLevel, n int) (PriceLevel, bool) {
	if len(side) == 0 || n < 1 {
		return PriceLevel{}, false
	}
	if n > len(side) {
		n = len(side)
	}
	return side[n-1], true
}

// MidPrice returns (best_bid+best_ask)/2 when both sides are present
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Tickers is an immutable 24h market snapshot
type Tickers struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp int64
}

// PriceCandles is the latest candle for one period
type PriceCandles struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Period    CandlePeriod
	Timestamp int64
}
