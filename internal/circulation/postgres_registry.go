// internal/circulation/postgres_registry.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/eventstore"
)

const (
	aggregateLoan = "loan"

	eventLoanBorrowed = "LoanBorrowed"
	eventLoanReturned = "LoanReturned"

	uniqueViolation = "23505"
)

// PostgresRegistry stores loans in the loans table and journals every change
// to the events table in the same transaction. The partial unique index on
// (item_id, member_id) WHERE status = 'ACTIVE' turns a lost borrow race into
// ErrAlreadyBorrowed.
type PostgresRegistry struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
	tracer     trace.Tracer
}

// NewPostgresRegistry creates a registry backed by db.
func NewPostgresRegistry(db *sql.DB, es *eventstore.EventStore) *PostgresRegistry {
	return &PostgresRegistry{
		db:         db,
		eventStore: es,
		tracer:     otel.Tracer("libralend/circulation/registry"),
	}
}

// HasActiveLoan implements Registry.
func (r *PostgresRegistry) HasActiveLoan(ctx context.Context, itemID, memberID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE item_id = $1 AND member_id = $2 AND status = 'ACTIVE'
		)
	`, itemID, memberID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query active loan: %w", err)
	}
	return exists, nil
}

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, loan *Loan) (*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "registry.create",
		trace.WithAttributes(
			attribute.String("item.id", loan.ItemID.String()),
			attribute.String("member.id", loan.MemberID.String()),
		),
	)
	defer span.End()

	if loan.Status != StatusActive {
		return nil, fmt.Errorf("create loan: status must be %s, got %s", StatusActive, loan.Status)
	}

	stored := loan.clone()
	stored.ID = uuid.New()
	stored.Version = 1
	// Postgres keeps microseconds; truncate so the returned record equals the stored one.
	stored.BorrowedAt = stored.BorrowedAt.Truncate(time.Microsecond)
	stored.DueAt = stored.DueAt.Truncate(time.Microsecond)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loans (id, item_id, member_id, borrowed_at, due_at, status, penalty, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, stored.ID, stored.ItemID, stored.MemberID, stored.BorrowedAt, stored.DueAt, stored.Status, stored.Penalty, stored.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, ErrAlreadyBorrowed
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	err = r.eventStore.Append(ctx, tx, stored.ID, aggregateLoan, 0, eventLoanBorrowed, LoanBorrowedEvent{
		LoanID:     stored.ID,
		ItemID:     stored.ItemID,
		MemberID:   stored.MemberID,
		BorrowedAt: stored.BorrowedAt,
		DueAt:      stored.DueAt,
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.String("loan.id", stored.ID.String()))
	return stored, nil
}

// FindByID implements Registry.
func (r *PostgresRegistry) FindByID(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	loan := &Loan{}
	var returnedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, item_id, member_id, borrowed_at, due_at, returned_at, status, penalty, version
		FROM loans
		WHERE id = $1
	`, loanID).Scan(
		&loan.ID,
		&loan.ItemID,
		&loan.MemberID,
		&loan.BorrowedAt,
		&loan.DueAt,
		&returnedAt,
		&loan.Status,
		&loan.Penalty,
		&loan.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	loan.BorrowedAt = loan.BorrowedAt.UTC()
	loan.DueAt = loan.DueAt.UTC()
	if returnedAt.Valid {
		t := returnedAt.Time.UTC()
		loan.ReturnedAt = &t
	}
	return loan, nil
}

// Update implements Registry.
func (r *PostgresRegistry) Update(ctx context.Context, loan *Loan) (*Loan, error) {
	ctx, span := r.tracer.Start(ctx, "registry.update",
		trace.WithAttributes(
			attribute.String("loan.id", loan.ID.String()),
			attribute.Int("expected.version", loan.Version),
		),
	)
	defer span.End()

	stored := loan.clone()
	if stored.ReturnedAt != nil {
		t := stored.ReturnedAt.Truncate(time.Microsecond)
		stored.ReturnedAt = &t
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE loans
		SET returned_at = $1, status = $2, penalty = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`, stored.ReturnedAt, stored.Status, stored.Penalty, stored.ID, stored.Version)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, stored.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check loan: %w", err)
		}
		if !exists {
			return nil, ErrLoanNotFound
		}
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, ErrVersionConflict
	}

	if stored.Status.Terminal() && stored.ReturnedAt != nil {
		err = r.eventStore.Append(ctx, tx, stored.ID, aggregateLoan, stored.Version, eventLoanReturned, LoanReturnedEvent{
			LoanID:     stored.ID,
			ItemID:     stored.ItemID,
			MemberID:   stored.MemberID,
			ReturnedAt: *stored.ReturnedAt,
			Status:     stored.Status,
			Penalty:    stored.Penalty,
		})
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return nil, ErrVersionConflict
		}
		if err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	stored.Version++
	return stored, nil
}

// History returns the journaled events of a loan, oldest first.
func (r *PostgresRegistry) History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	return r.eventStore.Load(ctx, r.db, loanID)
}
