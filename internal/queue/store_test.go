package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"nutrilog/internal/queue"
	"nutrilog/internal/queue/queuetest"
	"nutrilog/internal/testsupport"
)

func TestSQLiteStoreConformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		cfg := testsupport.NewConfig(t)
		return testsupport.MustOpenStore(t, cfg)
	})
}

func TestMemoryStoreConformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		return queue.NewMemoryStore()
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	job := queuetest.NewJob("/spool/a.jpg")
	if err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), job.ID)
	if err != nil || got == nil {
		t.Fatalf("job lost across reopen: %v, %v", got, err)
	}
	if got.Status != queue.StatusEnqueued {
		t.Fatalf("unexpected status after reopen: %s", got.Status)
	}
}

func TestOpenPathRefusesOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 7"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	db.Close()

	if _, err := queue.OpenPath(path); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenPathMigratesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	job := queuetest.NewJob("/spool/a.jpg")
	if err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{"ALTER TABLE jobs DROP COLUMN retried_by", "PRAGMA user_version = 1"} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	migrated, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen version 1 database: %v", err)
	}
	defer migrated.Close()
	health, err := migrated.CheckHealth(context.Background())
	if err != nil || health.SchemaVersion != 2 {
		t.Fatalf("schema version after migration = %d (%v)", health.SchemaVersion, err)
	}
	if got, err := migrated.Get(context.Background(), job.ID); err != nil || got == nil {
		t.Fatalf("job lost across migration: %v, %v", got, err)
	}
}

func TestSQLiteCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.SchemaVersion != 2 {
		t.Fatalf("unexpected schema version %d", health.SchemaVersion)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want queue.Status
		ok   bool
	}{
		{"enqueued", queue.StatusEnqueued, true},
		{" AWAITING_RETRY ", queue.StatusAwaitingRetry, true},
		{"completed", "", false},
	}
	for _, tt := range tests {
		got, ok := queue.ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseStatus(%q) = %q, %v", tt.in, got, ok)
		}
	}
	if !queue.StatusFailed.IsTerminal() || queue.StatusAwaitingRetry.IsTerminal() {
		t.Fatal("unexpected IsTerminal results")
	}
}
