// Package dbtest provides throwaway Postgres databases for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"libralend/internal/database"
)

var (
	once    sync.Once
	connStr string
	bootErr error
)

// baseConnString returns TEST_DATABASE_URL when set, otherwise starts one
// postgres container for the whole test binary.
func baseConnString(ctx context.Context) (string, error) {
	once.Do(func() {
		if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
			connStr = url
			return
		}

		defer func() {
			if r := recover(); r != nil {
				bootErr = fmt.Errorf("start postgres container: %v", r)
			}
		}()

		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("libralend"),
			postgres.WithUsername("testuser"),
			postgres.WithPassword("testpass"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			bootErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		connStr, bootErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	return connStr, bootErr
}

// New returns a migrated database living in its own schema. The test is
// skipped under -short or when no Postgres is reachable.
func New(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	base, err := baseConnString(ctx)
	if err != nil {
		t.Skipf("skipping integration test: postgres not available: %v", err)
	}

	admin, err := database.Open(ctx, base)
	if err != nil {
		t.Skipf("skipping integration test: %v", err)
	}
	defer admin.Close()

	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	db, err := database.Open(ctx, base+sep+"search_path="+schema)
	if err != nil {
		t.Fatalf("open schema connection: %v", err)
	}

	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		if admin, err := database.Open(context.Background(), base); err == nil {
			admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
			admin.Close()
		}
	})

	return db
}
