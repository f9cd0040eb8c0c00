// internal/membership/memory.go
package membership

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Directory is an in-process member registry.
type Directory struct {
	mu      sync.RWMutex
	members map[uuid.UUID]Status
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{members: make(map[uuid.UUID]Status)}
}

// Put registers or updates a member's status.
func (d *Directory) Put(memberID uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid member status %q", status)
	}
	d.mu.Lock()
	d.members[memberID] = status
	d.mu.Unlock()
	return nil
}

// IsEligible implements Gate.
func (d *Directory) IsEligible(_ context.Context, memberID uuid.UUID) (bool, error) {
	d.mu.RLock()
	status, ok := d.members[memberID]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return Member{ID: memberID, Status: status}.Eligible(), nil
}
