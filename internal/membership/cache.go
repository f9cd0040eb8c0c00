// internal/membership/cache.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedGate memoizes eligibility answers of another Gate for a short TTL.
// Lookup errors are not cached.
type CachedGate struct {
	next Gate
	lru  *expirable.LRU[uuid.UUID, bool]
}

// NewCachedGate wraps next with an LRU of the given size and TTL.
func NewCachedGate(next Gate, size int, ttl time.Duration) *CachedGate {
	return &CachedGate{
		next: next,
		lru:  expirable.NewLRU[uuid.UUID, bool](size, nil, ttl),
	}
}

// IsEligible implements Gate.
func (c *CachedGate) IsEligible(ctx context.Context, memberID uuid.UUID) (bool, error) {
	if eligible, ok := c.lru.Get(memberID); ok {
		return eligible, nil
	}

	eligible, err := c.next.IsEligible(ctx, memberID)
	if err != nil {
		return false, err
	}
	c.lru.Add(memberID, eligible)
	return eligible, nil
}

// Invalidate drops the cached answer for a member. Roster calls it after a
// status change.
func (c *CachedGate) Invalidate(memberID uuid.UUID) {
	c.lru.Remove(memberID)
}
