package metrics

import (
	"time"

	"meld_bot/internal/engine/spot"
	ws "meld_bot/internal/infrastructure/websocket"
)

// ExchangeStatus is one exchange loop's slice of the status stream
type ExchangeStatus struct {
	Exchange          string            `json:"exchange"`
	Status            map[string]string `json:"status"`
	OrderCounts       map[string]int    `json:"order_counts"`
	TrackedOrders     int               `json:"tracked_orders"`
	InventoryFree     map[string]string `json:"inventory_free"`
	LastFetchUnixNano int64             `json:"last_fetch_unix_nano"`
	ObservedAt        time.Time         `json:"observed_at"`
}

// SnapshotExchange captures one exchange loop for the status stream
func SnapshotExchange(ex *spot.SpotExchange) ExchangeStatus {
	free := make(map[string]string)
	for token, balance := range ex.Inventory().GetBalances() {
		free[token] = balance.Free.String()
	}

	return ExchangeStatus{
		Exchange:          ex.Name(),
		Status:            ex.Status().Snapshot(),
		OrderCounts:       ex.Orders().Counts(),
		TrackedOrders:     ex.Orders().TrackedCount(),
		InventoryFree:     free,
		LastFetchUnixNano: ex.LastFetchUnixNano(),
		ObservedAt:        time.Now(),
	}
}

// WireStatusFeed hooks every exchange loop so each completed interval
// broadcasts that exchange's snapshot to the hub. Wire before the loops
// start.
func WireStatusFeed(hub *ws.Hub, exchanges []*spot.SpotExchange) {
	for _, ex := range exchanges {
		target := ex
		target.SetIntervalHook(func() {
			hub.Broadcast(ws.Message{Type: ws.TypeStatus, Data: SnapshotExchange(target)})
		})
	}
}
