// Package queue persists jobs and their immutable event history.
//
// Store is the durable queue abstraction the scheduler drives: Enqueue,
// NextReady, MarkAttempt, Reschedule, RecordDecision and Finalize are the only
// ways a job's status or attempt count changes. SQLiteStore is the default
// backend, MemoryStore serves tests and ephemeral runs, and the pgstore
// subpackage provides a shared Postgres backend.
//
// MarkAttempt is a conditional transition: it only succeeds for jobs in
// enqueued or awaiting_retry, which is what makes a second concurrent attempt
// of the same job (or any attempt of a terminal job) impossible.
//
// The schema version lives in SQLite's user_version pragma. Older databases
// are stepped forward through the migrations in schema.go; a newer or unknown
// version is refused with ErrSchemaMismatch.
package queue
