// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libralend/internal/catalog"
)

// Business rejections. Callers match them with errors.Is.
var (
	ErrAlreadyBorrowed = errors.New("book is already borrowed by member")
	ErrOutOfStock      = catalog.ErrOutOfStock
	ErrMemberSuspended = errors.New("member status is suspended")
	ErrLoanNotFound    = errors.New("borrow record not found")
	ErrAlreadyReturned = errors.New("loan is already returned")
)

// LoanPeriod is how long a member may keep an item.
const LoanPeriod = 7 * 24 * time.Hour

// Status of a loan. ACTIVE is the only non-terminal state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
	StatusOverdue  Status = "OVERDUE"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusOverdue
}

// Loan represents an item borrowed by a member.
type Loan struct {
	ID         uuid.UUID       `json:"id"`
	ItemID     uuid.UUID       `json:"item_id"`
	MemberID   uuid.UUID       `json:"member_id"`
	BorrowedAt time.Time       `json:"borrowed_at"`
	DueAt      time.Time       `json:"due_at"`
	ReturnedAt *time.Time      `json:"returned_at,omitempty"`
	Status     Status          `json:"status"`
	Penalty    decimal.Decimal `json:"penalty"`
	Version    int             `json:"version"`
}

func newLoan(itemID, memberID uuid.UUID, now time.Time) *Loan {
	return &Loan{
		ItemID:     itemID,
		MemberID:   memberID,
		BorrowedAt: now,
		DueAt:      now.Add(LoanPeriod),
		Status:     StatusActive,
		Penalty:    decimal.Zero,
	}
}

// close moves an active loan to its terminal state as of now.
func (l *Loan) close(now time.Time) error {
	if l.Status != StatusActive {
		return ErrAlreadyReturned
	}

	if l.DueAt.Before(now) {
		l.Penalty = PenaltyFor(OverdueDays(l.DueAt, now))
		l.Status = StatusOverdue
	} else {
		l.Penalty = decimal.Zero
		l.Status = StatusReturned
	}
	returnedAt := now
	l.ReturnedAt = &returnedAt
	return nil
}

func (l *Loan) clone() *Loan {
	c := *l
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		c.ReturnedAt = &t
	}
	return &c
}

// LoanBorrowedEvent is journaled when a loan is created.
type LoanBorrowedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	ItemID     uuid.UUID `json:"item_id"`
	MemberID   uuid.UUID `json:"member_id"`
	BorrowedAt time.Time `json:"borrowed_at"`
	DueAt      time.Time `json:"due_at"`
}

// LoanReturnedEvent is journaled when a loan is closed.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID       `json:"loan_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	MemberID   uuid.UUID       `json:"member_id"`
	ReturnedAt time.Time       `json:"returned_at"`
	Status     Status          `json:"status"`
	Penalty    decimal.Decimal `json:"penalty"`
}
