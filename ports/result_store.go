package ports

import (
	"context"

	"megstats/domain/cluster"
)

// ResultStore persists cluster test results by stem
type ResultStore interface {
	SaveResult(ctx context.Context, stem string, res *cluster.Result) (string, error)
	LoadResult(ctx context.Context, stem string) (*cluster.Result, error)
	// MarkNoSignificant writes the sentinel that replaces extraction outputs
	MarkNoSignificant(ctx context.Context, stem string) (string, error)
}
