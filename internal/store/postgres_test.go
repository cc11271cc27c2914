//go:build integration

package store

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/messenger/internal/testutil"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, cleanup, err := testutil.TestWithPostgres(nil)
	if err != nil {
		log.Fatalf("failed to start postgres: %v", err)
	}
	testPool = pool

	code := m.Run()

	if err := cleanup(); err != nil {
		log.Printf("cleanup error = %+v", err)
	}
	os.Exit(code)
}

func openPostgres(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, MigrateReset(ctx, testPool))
	require.NoError(t, MigrateUp(ctx, testPool))

	// The pool is shared across tests, so Close is a no-op here.
	return nopCloser{NewPostgresStore(testPool)}
}

type nopCloser struct{ *PostgresStore }

func (nopCloser) Close() error { return nil }

func TestPostgresStore(t *testing.T) {
	testStore(t, openPostgres)
}

func TestPostgresStore_Check_Constraint(t *testing.T) {
	openPostgres(t)

	_, err := testPool.Exec(context.Background(),
		`INSERT INTO messages (sender_id, recipient_id, body, created_at) VALUES (1, 1, 'x', now())`)
	require.Error(t, err)
}
