package testsupport

import (
	"testing"

	"nutrilog/internal/config"
	"nutrilog/internal/queue"
)

// MustOpenStore opens the SQLite queue store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.SQLiteStore {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
