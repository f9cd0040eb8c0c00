// internal/membership/domain.go
package membership

import (
	"errors"

	"github.com/google/uuid"
)

var ErrMemberNotFound = errors.New("member not found")

// Status is a member's standing.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// Member is the part of a library member the lending workflow reads.
type Member struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}

// Eligible reports whether the member may borrow.
func (m Member) Eligible() bool {
	return m.Status != StatusSuspended
}
