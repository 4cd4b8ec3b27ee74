package migration

import (
	"context"

	"megstats/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run ledger schema
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Statements returns the DDL in execution order. Every statement is
// idempotent so Run can be repeated.
func (r *MigrationRunner) Statements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS run_manifests (
			run_id       UUID PRIMARY KEY,
			stage        TEXT NOT NULL,
			label        TEXT NOT NULL,
			seed         BIGINT NOT NULL DEFAULT 0,
			params_hash  TEXT NOT NULL,
			cohort_hash  TEXT NOT NULL DEFAULT '',
			input_stems  TEXT[] NOT NULL DEFAULT '{}',
			result_path  TEXT NOT NULL,
			digest       TEXT NOT NULL DEFAULT '',
			significant  INTEGER NOT NULL DEFAULT 0,
			code_version TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_manifests_stage ON run_manifests(stage, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_run_manifests_label ON run_manifests(label)`,
		`CREATE INDEX IF NOT EXISTS idx_run_manifests_fingerprint ON run_manifests(fingerprint)`,
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range r.Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration %s step %d failed", r.version, i+1)
		}
	}
	return nil
}
