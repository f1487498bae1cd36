package core

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the structured per-token holding. Connectors normalise their
// venue's balance shape into this form.
type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// InventorySnapshot tags a balance map with its capture time
type InventorySnapshot struct {
	Timestamp int64 // unix seconds
	Balances  map[string]Balance
}

// Inventory holds the latest per-token balances plus a bounded snapshot
// history. Safe for concurrent readers.
type Inventory struct {
	mu       sync.RWMutex
	balances map[string]Balance
	history  *History[InventorySnapshot]
}

// NewInventory creates an empty inventory with the given history capacity
func NewInventory(historyCap int) *Inventory {
	return &Inventory{
		balances: make(map[string]Balance),
		history:  NewHistory[InventorySnapshot](historyCap),
	}
}

// SetBalances replaces the current balances and appends a snapshot
func (inv *Inventory) SetBalances(balances map[string]Balance) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.balances = balances
	inv.history.Append(InventorySnapshot{
		Timestamp: time.Now().Unix(),
		Balances:  balances,
	})
}

// GetSingleBalance returns the balance for one token
func (inv *Inventory) GetSingleBalance(token Token) (Balance, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	bal, ok := inv.balances[token.String()]
	return bal, ok
}

// FreeBalance returns the free amount for one token, zero when absent
func (inv *Inventory) FreeBalance(token Token) decimal.Decimal {
	bal, ok := inv.GetSingleBalance(token)
	if !ok {
		return decimal.Zero
	}
	return bal.Free
}

// GetBalances returns a copy of the current balance map
func (inv *Inventory) GetBalances() map[string]Balance {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make(map[string]Balance, len(inv.balances))
	for token, bal := range inv.balances {
		out[token] = bal
	}
	return out
}

// HistoryLen reports how many snapshots are retained
func (inv *Inventory) HistoryLen() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.history.Len()
}

// LatestSnapshot returns the most recent snapshot
func (inv *Inventory) LatestSnapshot() (InventorySnapshot, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.history.Latest()
}
