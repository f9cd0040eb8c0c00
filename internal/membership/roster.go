// internal/membership/roster.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"libralend/internal/eventstore"
)

const (
	aggregateMember = "member"

	eventMemberEnrolled      = "MemberEnrolled"
	eventMemberStatusChanged = "MemberStatusChanged"
)

// MemberEnrolledEvent is journaled when a member joins.
type MemberEnrolledEvent struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}

// MemberStatusChangedEvent is journaled on suspension or reinstatement.
type MemberStatusChangedEvent struct {
	ID   uuid.UUID `json:"id"`
	From Status    `json:"from"`
	To   Status    `json:"to"`
}

// Invalidator drops a cached eligibility answer. *CachedGate implements it.
type Invalidator interface {
	Invalidate(memberID uuid.UUID)
}

// Roster maintains the members table. Every change is journaled to the
// event store in the same transaction as the row it touches.
type Roster struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
	caches     []Invalidator
}

// NewRoster creates a roster backed by db. Caches are invalidated after each
// committed status change.
func NewRoster(db *sql.DB, es *eventstore.EventStore, caches ...Invalidator) *Roster {
	return &Roster{db: db, eventStore: es, caches: caches}
}

// Enroll creates a new member in good standing.
func (r *Roster) Enroll(ctx context.Context) (*Member, error) {
	member := &Member{ID: uuid.New(), Status: StatusActive}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO members (id, status, version) VALUES ($1, $2, 1)`,
		member.ID, member.Status,
	); err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}

	err = r.eventStore.Append(ctx, tx, member.ID, aggregateMember, 0, eventMemberEnrolled, MemberEnrolledEvent{
		ID:     member.ID,
		Status: member.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return member, nil
}

// SetStatus suspends or reinstates a member. Setting the current status is a
// no-op and journals nothing.
func (r *Roster) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid member status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		current Status
		version int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, version FROM members WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get member: %w", err)
	}
	if current == status {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE members
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`, status, id); err != nil {
		return fmt.Errorf("update member: %w", err)
	}

	err = r.eventStore.Append(ctx, tx, id, aggregateMember, version, eventMemberStatusChanged, MemberStatusChangedEvent{
		ID:   id,
		From: current,
		To:   status,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, c := range r.caches {
		c.Invalidate(id)
	}
	return nil
}

// History returns a member's journaled events, oldest first.
func (r *Roster) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	return r.eventStore.Load(ctx, r.db, id)
}
