package core

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Token is an asset symbol, always uppercased
type Token string

// NewToken normalises a symbol string
func NewToken(symbol string) Token {
	return Token(strings.ToUpper(strings.TrimSpace(symbol)))
}

func (t Token) String() string {
	return string(t)
}

// Account holds venue credentials. Immutable after construction.
type Account struct {
	APIKey    string
	SecretKey string
}

// MarketInfo is the venue-configured trading granularity and fee schedule
// for one pair, loaded from the per-venue settings file.
type MarketInfo struct {
	TickSize          decimal.Decimal
	QuantityIncrement decimal.Decimal
	TakeRate          decimal.Decimal
	MakeRate          decimal.Decimal
}

// Pair is an ordered (base, quote) market. It carries the venue granularity
// plus the latest market snapshots and their bounded histories. The current
// snapshot always equals the last history entry.
type Pair struct {
	Base  Token
	Quote Token

	tradingPair string

	TickSize          decimal.Decimal
	QuantityIncrement decimal.Decimal
	TakerRate         decimal.Decimal
	MakerRate         decimal.Decimal

	mu               sync.RWMutex
	currentOrderBook *OrderBook
	currentTickers   *Tickers
	currentCandles   *PriceCandles
	orderBookHistory *History[*OrderBook]
	tickersHistory   *History[*Tickers]
	candlesHistory   *History[*PriceCandles]
}

// NewPair builds a pair with base||quote as the default trading symbol and
// ring buffers of the given capacity.
func NewPair(base, quote string, historyCap int) *Pair {
	b, q := NewToken(base), NewToken(quote)
	return &Pair{
		Base:             b,
		Quote:            q,
		tradingPair:      b.String() + q.String(),
		orderBookHistory: NewHistory[*OrderBook](historyCap),
		tickersHistory:   NewHistory[*Tickers](historyCap),
		candlesHistory:   NewHistory[*PriceCandles](historyCap),
	}
}

// SetTradingPair overrides the venue symbol when it differs from base||quote
func (p *Pair) SetTradingPair(symbol string) {
	p.tradingPair = symbol
}

// TradingPair returns the venue symbol
func (p *Pair) TradingPair() string {
	return p.tradingPair
}

// SetMarketInfo applies the venue granularity and fee schedule
func (p *Pair) SetMarketInfo(info MarketInfo) {
	p.TickSize = info.TickSize
	p.QuantityIncrement = info.QuantityIncrement
	p.TakerRate = info.TakeRate
	p.MakerRate = info.MakeRate
}

// RoundPrice snaps a price onto the venue tick grid
func (p *Pair) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return RoundToIncrement(price, p.TickSize)
}

// RoundQuantity snaps a quantity onto the venue increment grid
func (p *Pair) RoundQuantity(quantity decimal.Decimal) decimal.Decimal {
	return RoundToIncrement(quantity, p.QuantityIncrement)
}

// SetOrderBook stores a new snapshot and appends it to the history
func (p *Pair) SetOrderBook(book *OrderBook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentOrderBook = book
	p.orderBookHistory.Append(book)
}

// SetTickers stores a new snapshot and appends it to the history
func (p *Pair) SetTickers(tickers *Tickers) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentTickers = tickers
	p.tickersHistory.Append(tickers)
}

// SetCandles stores a new snapshot and appends it to the history
func (p *Pair) SetCandles(candles *PriceCandles) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentCandles = candles
	p.candlesHistory.Append(candles)
}

// OrderBook returns the latest depth snapshot, nil before the first fetch
func (p *Pair) OrderBook() *OrderBook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentOrderBook
}

// Tickers returns the latest ticker snapshot, nil before the first fetch
func (p *Pair) Tickers() *Tickers {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentTickers
}

// Candles returns the latest candle snapshot, nil before the first fetch
func (p *Pair) Candles() *PriceCandles {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentCandles
}

// OrderBookHistoryLen reports how many depth snapshots are retained
func (p *Pair) OrderBookHistoryLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orderBookHistory.Len()
}

// TickersHistoryLen reports how many ticker snapshots are retained
func (p *Pair) TickersHistoryLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tickersHistory.Len()
}

// CandlesHistoryLen reports how many candle snapshots are retained
func (p *Pair) CandlesHistoryLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candlesHistory.Len()
}
