package journal

import (
	"context"
	"fmt"
	"sync"

	"meld_bot/internal/core"
	apperrors "meld_bot/pkg/errors"
)

// Entry is one journaled completion
type Entry struct {
	Exchange string
	Order    *core.SpotOrder
}

// MemoryJournal implements core.IOrderJournal in memory. Used by tests and
// dry runs where nothing should touch disk.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) RecordCompleted(_ context.Context, exchange string, order *core.SpotOrder) error {
	if order == nil || order.Pair == nil {
		return fmt.Errorf("%w: journal entry without order", apperrors.ErrInvalidOrderParameter)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{Exchange: exchange, Order: order.Clone()})
	return nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

// Entries returns a copy of everything recorded so far
func (j *MemoryJournal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
