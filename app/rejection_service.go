package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/rejection"
	"megstats/ports"
)

// RejectionOutcome is the selected threshold and its ledger entry
type RejectionOutcome struct {
	Result   *rejection.Result `json:"result"`
	Manifest *run.Manifest     `json:"manifest"`
}

// RejectionService selects peak-to-peak rejection thresholds for epoch files
type RejectionService struct {
	reader ports.EpochReader
	ledger ports.LedgerWriterPort
	logger *internal.Logger
}

// NewRejectionService creates a rejection service; ledger may be nil
func NewRejectionService(reader ports.EpochReader, ledger ports.LedgerWriterPort, logger *internal.Logger) *RejectionService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &RejectionService{reader: reader, ledger: ledger, logger: logger}
}

// Select runs the grid search on the epochs at path. An all-infeasible
// grid is reported through Result.Best, not as an error.
func (s *RejectionService) Select(ctx context.Context, path string, cfg rejection.Config) (*RejectionOutcome, error) {
	epochs, err := s.reader.ReadEpochs(ctx, path)
	if err != nil {
		return nil, err
	}
	res, err := rejection.GridSearch(ctx, epochs, cfg)
	if err != nil {
		return nil, apperrors.Wrapf(err, "grid search on %s failed", path)
	}
	if res.Best == rejection.Infeasible {
		s.logger.Warn("%s: every threshold rejects all training epochs in some fold", path)
	} else {
		s.logger.Info("%s: best threshold %g (score %g)", path, res.Best, res.BestScore)
	}

	params := core.ComputeParamsHash(map[string]interface{}{
		"thresholds": cfg.Thresholds,
		"folds":      cfg.Folds,
	})
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	manifest := run.NewManifest(run.StageReject, stem, 0, params, "", []string{stem})

	var b strings.Builder
	for _, c := range res.Candidates {
		fmt.Fprintf(&b, "%g:%g:%d;", c.Threshold, c.Score, c.Kept)
	}
	feasible := 0
	for _, c := range res.Candidates {
		if c.Feasible() {
			feasible++
		}
	}
	manifest.Complete(path, core.NewHash([]byte(b.String())), feasible)

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, manifest); err != nil {
			return nil, apperrors.Wrapf(err, "failed to record run %s", manifest.RunID)
		}
	}
	return &RejectionOutcome{Result: res, Manifest: manifest}, nil
}
