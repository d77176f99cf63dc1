package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// migrationCandidates lists the paths Migrate tries, in order, to locate
// the schema file when the process's working directory isn't the repo
// root (e.g. running from cmd/coordinator via `go run`).
var migrationCandidates = []string{
	"migrations/0001_init.sql",
	"../migrations/0001_init.sql",
	"../../migrations/0001_init.sql",
}

// Migrate applies the schema file within a single transaction, tolerating
// "already exists" errors so re-running it against an already-migrated
// database is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	var path string
	for _, candidate := range migrationCandidates {
		if abs, err := filepath.Abs(candidate); err == nil {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				path = abs
				break
			}
		}
	}
	if path == "" {
		return fmt.Errorf("migrate: could not locate 0001_init.sql under any candidate path")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("migrate: read schema file: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		_ = tx.Rollback(ctx)
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("migrate: apply schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migrate: commit schema: %w", err)
	}

	return nil
}
