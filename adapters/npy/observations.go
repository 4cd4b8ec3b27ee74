// Package npy stores observations as .npy arrays and cluster results as
// .npz archives laid out the way downstream analysis scripts expect.
package npy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// ObservationStore reads subject observations from the study layout and
// writes derived observations anywhere under the output directory.
type ObservationStore struct {
	layout naming.Layout
	tmin   float64
	tstep  float64
	logger *internal.Logger
}

var (
	_ ports.ObservationReader = (*ObservationStore)(nil)
	_ ports.ObservationWriter = (*ObservationStore)(nil)
)

// NewObservationStore creates a store. tmin and tstep describe the sample
// axis of every file; the .npy payload carries only the array.
func NewObservationStore(layout naming.Layout, tmin, tstep float64, logger *internal.Logger) *ObservationStore {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ObservationStore{layout: layout, tmin: tmin, tstep: tstep, logger: logger}
}

// ReadObservation loads one vertices × samples array. A missing file is
// reported as ErrObservationMissing.
func (s *ObservationStore) ReadObservation(ctx context.Context, subject core.SubjectID, tp core.Timepoint, condition core.Condition) (*observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !tp.IsRecorded() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("timepoint %q is derived and has no file", tp))
	}

	path := s.layout.SubjectPath(subject, tp, condition)
	data, err := readMatrix(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NewObservationMissingError(subject, tp, condition, err)
		}
		return nil, apperrors.StorageError(path, err)
	}
	s.logger.Trace("read %s", path)
	return observation.New(subject, tp, condition, s.tmin, s.tstep, data), nil
}

// WriteObservation stores obs.Data at path, creating parent directories
func (s *ObservationStore) WriteObservation(ctx context.Context, path string, obs *observation.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.StorageError(path, err)
	}
	if err := writeMatrix(path, obs.Data); err != nil {
		return apperrors.StorageError(path, err)
	}
	s.logger.Debug("wrote %s", path)
	return nil
}

func readMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

func writeMatrix(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
