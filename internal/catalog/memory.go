// internal/catalog/memory.go
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type stock struct {
	mu        sync.Mutex
	available int
}

// MemoryLedger keeps counters in process, one mutex per item.
type MemoryLedger struct {
	items map[uuid.UUID]*stock
}

// NewMemoryLedger creates a ledger seeded with the given available counts.
// The set of items is fixed for the ledger's lifetime.
func NewMemoryLedger(initial map[uuid.UUID]int) (*MemoryLedger, error) {
	items := make(map[uuid.UUID]*stock, len(initial))
	for id, n := range initial {
		if n < 0 {
			return nil, fmt.Errorf("item %s: negative availability %d", id, n)
		}
		items[id] = &stock{available: n}
	}
	return &MemoryLedger{items: items}, nil
}

func (l *MemoryLedger) lookup(itemID uuid.UUID) (*stock, error) {
	s, ok := l.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return s, nil
}

// TryReserve implements Ledger.
func (l *MemoryLedger) TryReserve(_ context.Context, itemID uuid.UUID) error {
	s, err := l.lookup(itemID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available <= 0 {
		return ErrOutOfStock
	}
	s.available--
	return nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, itemID uuid.UUID) error {
	s, err := l.lookup(itemID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.available++
	s.mu.Unlock()
	return nil
}

// Available implements Ledger.
func (l *MemoryLedger) Available(_ context.Context, itemID uuid.UUID) (int, error) {
	s, err := l.lookup(itemID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available, nil
}
