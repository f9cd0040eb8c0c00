// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Gate answers whether a member may borrow. It has no side effects; a slightly
// stale answer is acceptable.
type Gate interface {
	IsEligible(ctx context.Context, memberID uuid.UUID) (bool, error)
}
