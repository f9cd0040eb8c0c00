// internal/catalog/postgres.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresLedger keeps counters in the items table. Every mutation is a single
// conditional UPDATE, so the row lock serializes writers per item.
type PostgresLedger struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresLedger creates a ledger backed by db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		tracer: otel.Tracer("libralend/catalog"),
	}
}

// TryReserve implements Ledger.
func (l *PostgresLedger) TryReserve(ctx context.Context, itemID uuid.UUID) error {
	ctx, span := l.tracer.Start(ctx, "ledger.try_reserve",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer span.End()

	var remaining int
	err := l.db.QueryRowContext(ctx, `
		UPDATE items
		SET available = available - 1, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND available > 0
		RETURNING available
	`, itemID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		if err := l.ensureExists(ctx, itemID); err != nil {
			return err
		}
		span.SetAttributes(attribute.Bool("out_of_stock", true))
		return ErrOutOfStock
	}
	if err != nil {
		return fmt.Errorf("reserve item: %w", err)
	}

	span.SetAttributes(attribute.Int("item.available", remaining))
	return nil
}

// Release implements Ledger.
func (l *PostgresLedger) Release(ctx context.Context, itemID uuid.UUID) error {
	ctx, span := l.tracer.Start(ctx, "ledger.release",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer span.End()

	res, err := l.db.ExecContext(ctx, `
		UPDATE items
		SET available = available + 1, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, itemID)
	if err != nil {
		return fmt.Errorf("release item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return nil
}

// Available implements Ledger.
func (l *PostgresLedger) Available(ctx context.Context, itemID uuid.UUID) (int, error) {
	var available int
	err := l.db.QueryRowContext(ctx, `SELECT available FROM items WHERE id = $1`, itemID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get item availability: %w", err)
	}
	return available, nil
}

func (l *PostgresLedger) ensureExists(ctx context.Context, itemID uuid.UUID) error {
	var exists bool
	err := l.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, itemID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return nil
}

// AddItem stocks a new item with copies available.
func (l *PostgresLedger) AddItem(ctx context.Context, copies int) (uuid.UUID, error) {
	if copies < 0 {
		return uuid.Nil, fmt.Errorf("copies must not be negative, got %d", copies)
	}
	id := uuid.New()
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO items (id, available) VALUES ($1, $2)`, id, copies,
	); err != nil {
		return uuid.Nil, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}
