// internal/circulation/registry.go
package circulation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict means the loan changed since it was read.
var ErrVersionConflict = errors.New("loan was modified concurrently")

// Registry stores loan records. Records are never deleted.
type Registry interface {
	HasActiveLoan(ctx context.Context, itemID, memberID uuid.UUID) (bool, error)
	// Create assigns an ID and version 1 and persists the loan. A second
	// active loan for the same item and member fails with ErrAlreadyBorrowed.
	Create(ctx context.Context, loan *Loan) (*Loan, error)
	// FindByID fails with ErrLoanNotFound for unknown IDs.
	FindByID(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	// Update persists a loan read at loan.Version and bumps the version.
	// A stale version fails with ErrVersionConflict.
	Update(ctx context.Context, loan *Loan) (*Loan, error)
}
