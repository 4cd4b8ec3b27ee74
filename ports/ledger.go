package ports

import (
	"context"

	"megstats/domain/core"
	"megstats/domain/run"
)

// LedgerWriterPort provides append-only write access to run manifests
type LedgerWriterPort interface {
	Record(ctx context.Context, m *run.Manifest) error
}

// LedgerReaderPort provides read-only access to recorded runs
// Use this for queries, replay checks, and the report browser
type LedgerReaderPort interface {
	ListRuns(ctx context.Context, filters RunFilters) ([]*run.Manifest, error)
	GetRun(ctx context.Context, runID core.RunID) (*run.Manifest, error)
}

// RunFilters for querying manifests; zero values match everything
type RunFilters struct {
	Stage run.Stage
	Label string
	Limit int
}

// Match reports whether m passes the stage and label filters
func (f RunFilters) Match(m *run.Manifest) bool {
	if f.Stage != "" && m.Stage != f.Stage {
		return false
	}
	return f.Label == "" || m.Label == f.Label
}

// LedgerPort combines read and write access
type LedgerPort interface {
	LedgerWriterPort
	LedgerReaderPort
}
