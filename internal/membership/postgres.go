// internal/membership/postgres.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresGate reads member standing from the members table.
type PostgresGate struct {
	db *sql.DB
}

// NewPostgresGate creates a gate backed by db.
func NewPostgresGate(db *sql.DB) *PostgresGate {
	return &PostgresGate{db: db}
}

// GetMember retrieves a member by their ID.
func (g *PostgresGate) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	member := &Member{}
	err := g.db.QueryRowContext(ctx, `
		SELECT id, status
		FROM members
		WHERE id = $1
	`, id).Scan(&member.ID, &member.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// IsEligible implements Gate.
func (g *PostgresGate) IsEligible(ctx context.Context, memberID uuid.UUID) (bool, error) {
	member, err := g.GetMember(ctx, memberID)
	if err != nil {
		return false, err
	}
	return member.Eligible(), nil
}
