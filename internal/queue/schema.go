package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 2

// migrations upgrade a database from the keyed version to the next one.
var migrations = map[int]string{
	1: `ALTER TABLE jobs ADD COLUMN retried_by TEXT`,
}

// ErrSchemaMismatch is returned by Open when the database was written by a
// different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ensureSchema applies schema.sql to a fresh database (user_version 0),
// steps older versions forward through migrations and refuses anything it has
// no path from.
func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if current == 0 {
		return s.applySchema(ctx)
	}
	for current < schemaVersion {
		stmt, ok := migrations[current]
		if !ok {
			break
		}
		if err := s.migrate(ctx, stmt, current+1); err != nil {
			return fmt.Errorf("migrate schema %d -> %d: %w", current, current+1, err)
		}
		current++
	}
	if current != schemaVersion {
		return fmt.Errorf("%w: %s is at version %d, this build needs %d; remove the file to recreate it",
			ErrSchemaMismatch, s.path, current, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context, stmt string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) applySchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
