// Package postgres stores run manifests in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// manifestRow is the run_manifests table row
type manifestRow struct {
	RunID       uuid.UUID      `db:"run_id"`
	Stage       string         `db:"stage"`
	Label       string         `db:"label"`
	Seed        int64          `db:"seed"`
	ParamsHash  string         `db:"params_hash"`
	CohortHash  string         `db:"cohort_hash"`
	InputStems  pq.StringArray `db:"input_stems"`
	ResultPath  string         `db:"result_path"`
	Digest      string         `db:"digest"`
	Significant int            `db:"significant"`
	CodeVersion string         `db:"code_version"`
	Fingerprint string         `db:"fingerprint"`
	CreatedAt   time.Time      `db:"created_at"`
}

const manifestColumns = `run_id, stage, label, seed, params_hash, cohort_hash, input_stems,
	result_path, digest, significant, code_version, fingerprint, created_at`

func toRow(m *run.Manifest) (manifestRow, error) {
	id, err := uuid.Parse(string(m.RunID))
	if err != nil {
		return manifestRow{}, fmt.Errorf("run manifest: invalid run_id %q: %w", m.RunID, err)
	}
	stems := m.InputStems
	if stems == nil {
		stems = []string{}
	}
	return manifestRow{
		RunID:       id,
		Stage:       string(m.Stage),
		Label:       m.Label,
		Seed:        m.Seed,
		ParamsHash:  string(m.ParamsHash),
		CohortHash:  string(m.CohortHash),
		InputStems:  pq.StringArray(stems),
		ResultPath:  m.ResultPath,
		Digest:      string(m.Digest),
		Significant: m.Significant,
		CodeVersion: m.Fingerprint.CodeVersion,
		Fingerprint: string(m.Fingerprint.Fingerprint),
		CreatedAt:   m.CreatedAt.Time(),
	}, nil
}

func (r manifestRow) toManifest() *run.Manifest {
	stems := []string(r.InputStems)
	return &run.Manifest{
		RunID:       core.RunID(r.RunID.String()),
		Stage:       run.Stage(r.Stage),
		Label:       r.Label,
		Seed:        r.Seed,
		ParamsHash:  core.ParamsHash(r.ParamsHash),
		CohortHash:  core.CohortHash(r.CohortHash),
		InputStems:  stems,
		ResultPath:  r.ResultPath,
		Digest:      core.Hash(r.Digest),
		Significant: r.Significant,
		Fingerprint: run.Fingerprint{
			ParamsHash:  core.ParamsHash(r.ParamsHash),
			CohortHash:  core.CohortHash(r.CohortHash),
			InputStems:  append([]string(nil), stems...),
			Seed:        r.Seed,
			CodeVersion: r.CodeVersion,
			Fingerprint: core.Hash(r.Fingerprint),
		},
		CreatedAt: core.NewTimestamp(r.CreatedAt),
	}
}

// RunLedger implements LedgerPort for PostgreSQL
type RunLedger struct {
	db *sqlx.DB
}

var _ ports.LedgerPort = (*RunLedger)(nil)

// NewRunLedger creates a new PostgreSQL run ledger
func NewRunLedger(db *sqlx.DB) *RunLedger {
	return &RunLedger{db: db}
}

// Record inserts a manifest
func (l *RunLedger) Record(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	row, err := toRow(m)
	if err != nil {
		return err
	}
	_, err = l.db.NamedExecContext(ctx, `
		INSERT INTO run_manifests (`+manifestColumns+`)
		VALUES (:run_id, :stage, :label, :seed, :params_hash, :cohort_hash, :input_stems,
			:result_path, :digest, :significant, :code_version, :fingerprint, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", m.RunID, err)
	}
	return nil
}

// ListRuns returns matching manifests, newest first
func (l *RunLedger) ListRuns(ctx context.Context, filters ports.RunFilters) ([]*run.Manifest, error) {
	query, args := listQuery(filters)
	var rows []manifestRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]*run.Manifest, len(rows))
	for i, r := range rows {
		out[i] = r.toManifest()
	}
	return out, nil
}

func listQuery(filters ports.RunFilters) (string, []interface{}) {
	query := `SELECT ` + manifestColumns + ` FROM run_manifests WHERE 1=1`
	var args []interface{}
	if filters.Stage != "" {
		args = append(args, string(filters.Stage))
		query += fmt.Sprintf(" AND stage = $%d", len(args))
	}
	if filters.Label != "" {
		args = append(args, filters.Label)
		query += fmt.Sprintf(" AND label = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// GetRun retrieves one manifest by ID
func (l *RunLedger) GetRun(ctx context.Context, runID core.RunID) (*run.Manifest, error) {
	id, err := uuid.Parse(string(runID))
	if err != nil {
		return nil, fmt.Errorf("%w: run %s", core.ErrNotFound, runID)
	}
	var row manifestRow
	err = l.db.GetContext(ctx, &row, `SELECT `+manifestColumns+` FROM run_manifests WHERE run_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", core.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return row.toManifest(), nil
}
