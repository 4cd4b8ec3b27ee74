// Package ledger records run manifests in an append-only JSON-lines file.
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"
)

// DefaultFile is the ledger file name under the output directory
const DefaultFile = "runs.jsonl"

// FileLedger appends one JSON manifest per line. Lines that fail to decode
// are skipped with a warning so a torn final write does not hide the rest.
type FileLedger struct {
	path   string
	mu     sync.Mutex
	logger *internal.Logger
}

var _ ports.LedgerPort = (*FileLedger)(nil)

// NewFileLedger creates a ledger at path; the file is created on first write
func NewFileLedger(path string, logger *internal.Logger) *FileLedger {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &FileLedger{path: path, logger: logger}
}

// Path returns the ledger file
func (l *FileLedger) Path() string { return l.path }

// Record appends m
func (l *FileLedger) Record(ctx context.Context, m *run.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest %s: %w", m.RunID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return apperrors.StorageError(l.path, err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.StorageError(l.path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return apperrors.StorageError(l.path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageError(l.path, err)
	}
	l.logger.Debug("recorded %s run %s (%s)", m.Stage, m.RunID, m.Label)
	return nil
}

// ListRuns returns matching manifests, newest first
func (l *FileLedger) ListRuns(ctx context.Context, filters ports.RunFilters) ([]*run.Manifest, error) {
	all, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*run.Manifest
	for i := len(all) - 1; i >= 0; i-- {
		if !filters.Match(all[i]) {
			continue
		}
		out = append(out, all[i])
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

// GetRun finds one manifest by ID
func (l *FileLedger) GetRun(ctx context.Context, runID core.RunID) (*run.Manifest, error) {
	all, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.RunID == runID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: run %s", core.ErrNotFound, runID)
}

func (l *FileLedger) readAll(ctx context.Context) ([]*run.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.StorageError(l.path, err)
	}
	defer f.Close()

	var out []*run.Manifest
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m run.Manifest
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			l.logger.Warn("skipping unreadable ledger line %d of %s: %v", lineNo, l.path, err)
			continue
		}
		out = append(out, &m)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.StorageError(l.path, err)
	}
	return out, nil
}
