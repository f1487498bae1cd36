package order

import (
	"meld_bot/internal/core"

	"github.com/shopspring/decimal"
)

// SubManager holds the lifecycle buckets for one trading pair. It is a bare
// state machine: locking, logging and completion hooks live on the Manager,
// which is its only caller.
type SubManager struct {
	symbol string

	orders       map[core.LifecycleState]map[string]*core.SpotOrder
	activeStatus map[string]core.LifecycleState
	tracked      map[string]*core.SpotOrder
	backlog      map[string]*core.SpotOrder
}

func newSubManager(symbol string) *SubManager {
	orders := make(map[core.LifecycleState]map[string]*core.SpotOrder, len(core.AllLifecycleStates))
	for _, state := range core.AllLifecycleStates {
		orders[state] = make(map[string]*core.SpotOrder)
	}
	return &SubManager{
		symbol:       symbol,
		orders:       orders,
		activeStatus: make(map[string]core.LifecycleState),
		tracked:      make(map[string]*core.SpotOrder),
		backlog:      make(map[string]*core.SpotOrder),
	}
}

// changeState moves an order between buckets, replacing the stored object
// with spotOrder so venue responses refresh the kept copy. Unknown ids are
// reported, not moved.
func (s *SubManager) changeState(spotOrder *core.SpotOrder, target core.LifecycleState) bool {
	id := spotOrder.OrderID
	current, ok := s.activeStatus[id]
	if !ok {
		return false
	}
	if current == target {
		s.orders[current][id] = spotOrder
		return true
	}
	delete(s.orders[current], id)
	s.orders[target][id] = spotOrder
	s.activeStatus[id] = target
	return true
}

func (s *SubManager) bucket(state core.LifecycleState) []*core.SpotOrder {
	list := make([]*core.SpotOrder, 0, len(s.orders[state]))
	for _, o := range s.orders[state] {
		list = append(list, o)
	}
	return list
}

func (s *SubManager) addPost(spotOrder *core.SpotOrder) {
	id := spotOrder.OrderID
	s.orders[core.LifecycleInitialized][id] = spotOrder
	s.activeStatus[id] = core.LifecycleInitialized
}

// takeInitialized promotes the INITIALIZED bucket to HANGING_POSTING and
// returns the batch for dispatch.
func (s *SubManager) takeInitialized() []*core.SpotOrder {
	batch := s.bucket(core.LifecycleInitialized)
	for _, o := range batch {
		s.changeState(o, core.LifecycleHangingPosting)
	}
	return batch
}

// applyPosted applies POST responses: terminal venue status completes the
// order, anything else activates and tracks it. Orders whose response never
// arrived are demoted back to INITIALIZED so the next post batch retries
// them under the same client id.
func (s *SubManager) applyPosted(results []*core.SpotOrder) (completed []*core.SpotOrder) {
	for _, o := range results {
		if o.Status.IsTerminal() {
			if s.changeState(o, core.LifecycleCompleted) {
				delete(s.tracked, o.OrderID)
				completed = append(completed, o)
			}
		} else if s.changeState(o, core.LifecycleActive) {
			s.tracked[o.OrderID] = o
		}
	}
	for _, o := range s.bucket(core.LifecycleHangingPosting) {
		s.changeState(o, core.LifecycleInitialized)
	}
	return completed
}

// queueCancel moves ACTIVE orders onto the cancel list. Orders in any other
// state are left alone.
func (s *SubManager) queueCancel(spotOrders []*core.SpotOrder) {
	for _, o := range spotOrders {
		if s.activeStatus[o.OrderID] == core.LifecycleActive {
			s.changeState(o, core.LifecycleCancelledList)
		}
	}
}

// takeCancelled promotes the CANCELLED_LIST bucket to HANGING_CANCELLING
// and returns the batch for dispatch.
func (s *SubManager) takeCancelled() []*core.SpotOrder {
	batch := s.bucket(core.LifecycleCancelledList)
	for _, o := range batch {
		s.changeState(o, core.LifecycleHangingCancelling)
	}
	return batch
}

// applyCancelled applies DELETE responses. A terminal status completes and
// untracks the order; a live status means the cancel did not take, so the
// order returns to ACTIVE. Orders with no response drop back onto the
// cancel list for the next batch.
func (s *SubManager) applyCancelled(results []*core.SpotOrder) (completed []*core.SpotOrder) {
	for _, o := range results {
		if o.Status.IsTerminal() {
			if s.changeState(o, core.LifecycleCompleted) {
				delete(s.tracked, o.OrderID)
				completed = append(completed, o)
			}
		} else if s.changeState(o, core.LifecycleActive) {
			s.tracked[o.OrderID] = o
		}
	}
	for _, o := range s.bucket(core.LifecycleHangingCancelling) {
		s.changeState(o, core.LifecycleCancelledList)
	}
	return completed
}

// updateState applies query results to ACTIVE and CANCELLED_LIST orders: a
// terminal venue status completes and untracks, a live one refreshes the
// stored copy in place. Other lifecycle states ignore query results.
func (s *SubManager) updateState(results []*core.SpotOrder) (completed []*core.SpotOrder) {
	for _, o := range results {
		switch s.activeStatus[o.OrderID] {
		case core.LifecycleActive:
			if o.Status.IsTerminal() {
				s.changeState(o, core.LifecycleCompleted)
				delete(s.tracked, o.OrderID)
				completed = append(completed, o)
			} else {
				s.orders[core.LifecycleActive][o.OrderID] = o
				s.tracked[o.OrderID] = o
			}
		case core.LifecycleCancelledList:
			if o.Status.IsTerminal() {
				s.changeState(o, core.LifecycleCompleted)
				delete(s.tracked, o.OrderID)
				completed = append(completed, o)
			}
		}
	}
	return completed
}

func (s *SubManager) insertActive(spotOrders []*core.SpotOrder) {
	for _, o := range spotOrders {
		id := o.OrderID
		s.orders[core.LifecycleActive][id] = o
		s.activeStatus[id] = core.LifecycleActive
		s.tracked[id] = o
	}
}

// addBacklog stores the unfilled remainder of each ACTIVE order as a
// detached copy and queues the original for cancellation. The live order is
// left untouched so its cancel round-trip reports true fill figures.
func (s *SubManager) addBacklog(spotOrders []*core.SpotOrder) {
	queued := make([]*core.SpotOrder, 0, len(spotOrders))
	for _, o := range spotOrders {
		if s.activeStatus[o.OrderID] != core.LifecycleActive {
			continue
		}
		remainder := o.Clone()
		remainder.Quantity = o.Remaining()
		remainder.QuantityCumulative = decimal.Zero
		s.backlog[o.OrderID] = remainder
		queued = append(queued, o)
	}
	s.queueCancel(queued)
}

func (s *SubManager) backlogOrders() []*core.SpotOrder {
	list := make([]*core.SpotOrder, 0, len(s.backlog))
	for _, o := range s.backlog {
		list = append(list, o)
	}
	return list
}

func (s *SubManager) clearBacklog() {
	s.backlog = make(map[string]*core.SpotOrder)
}
