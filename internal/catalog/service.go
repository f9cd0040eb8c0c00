// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Ledger owns the available-copy counter of every item. The counter is only
// ever changed by TryReserve and Release, and both are linearizable per item.
type Ledger interface {
	// TryReserve takes one copy, failing with ErrOutOfStock when none is left.
	TryReserve(ctx context.Context, itemID uuid.UUID) error
	// Release gives one copy back.
	Release(ctx context.Context, itemID uuid.UUID) error
	Available(ctx context.Context, itemID uuid.UUID) (int, error)
}
