// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the lending workflow.
type Service interface {
	// Borrow lends one copy of an item to a member.
	Borrow(ctx context.Context, itemID, memberID uuid.UUID) (*Loan, error)
	// ReturnLoan closes an active loan, pricing any lateness, and gives the copy back.
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
}
