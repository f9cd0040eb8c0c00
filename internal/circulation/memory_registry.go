// internal/circulation/memory_registry.go
package circulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type pairKey struct {
	itemID, memberID uuid.UUID
}

// MemoryRegistry keeps loans in process. Stored records are copied in and out
// so callers never share memory with the registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	loans  map[uuid.UUID]*Loan
	active map[pairKey]uuid.UUID
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		loans:  make(map[uuid.UUID]*Loan),
		active: make(map[pairKey]uuid.UUID),
	}
}

// HasActiveLoan implements Registry.
func (r *MemoryRegistry) HasActiveLoan(_ context.Context, itemID, memberID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[pairKey{itemID, memberID}]
	return ok, nil
}

// Create implements Registry.
func (r *MemoryRegistry) Create(_ context.Context, loan *Loan) (*Loan, error) {
	if loan.Status != StatusActive {
		return nil, fmt.Errorf("create loan: status must be %s, got %s", StatusActive, loan.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{loan.ItemID, loan.MemberID}
	if _, ok := r.active[key]; ok {
		return nil, ErrAlreadyBorrowed
	}

	stored := loan.clone()
	stored.ID = uuid.New()
	stored.Version = 1
	r.loans[stored.ID] = stored
	r.active[key] = stored.ID
	return stored.clone(), nil
}

// FindByID implements Registry.
func (r *MemoryRegistry) FindByID(_ context.Context, loanID uuid.UUID) (*Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.loans[loanID]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return stored.clone(), nil
}

// Update implements Registry.
func (r *MemoryRegistry) Update(_ context.Context, loan *Loan) (*Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.loans[loan.ID]
	if !ok {
		return nil, ErrLoanNotFound
	}
	if current.Version != loan.Version {
		return nil, ErrVersionConflict
	}

	stored := loan.clone()
	stored.Version++
	r.loans[stored.ID] = stored
	if stored.Status != StatusActive {
		delete(r.active, pairKey{stored.ItemID, stored.MemberID})
	}
	return stored.clone(), nil
}

// Len reports how many loans have ever been created.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loans)
}
