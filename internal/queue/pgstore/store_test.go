package pgstore_test

import (
	"context"
	"os"
	"testing"

	"nutrilog/internal/queue"
	"nutrilog/internal/queue/pgstore"
	"nutrilog/internal/queue/queuetest"
)

// Runs only when a disposable database is provided; each subtest truncates
// the tables.
func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("NUTRILOG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NUTRILOG_TEST_POSTGRES_DSN not set")
	}
	queuetest.Run(t, func(t *testing.T) queue.Store {
		ctx := context.Background()
		store, err := pgstore.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		if err := store.Reset(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		return store
	})
}
