package npy

import (
	"context"
	"fmt"
	"os"

	"megstats/domain/core"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// EpochReader loads epoch arrays for the rejection grid search. A file
// holds either n × channels × samples or n × samples (one channel).
type EpochReader struct {
	logger *internal.Logger
}

var _ ports.EpochReader = (*EpochReader)(nil)

// NewEpochReader creates an epoch reader
func NewEpochReader(logger *internal.Logger) *EpochReader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &EpochReader{logger: logger}
}

// ReadEpochs returns one channels × samples matrix per epoch
func (r *EpochReader) ReadEpochs(ctx context.Context, path string) ([]*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: epochs %s", core.ErrNotFound, path)
		}
		return nil, apperrors.StorageError(path, err)
	}
	defer f.Close()

	rd, err := npyio.NewReader(f)
	if err != nil {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("failed to decode %s", path), err)
	}
	shape := rd.Header.Descr.Shape
	if rd.Header.Descr.Fortran {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: fortran-ordered arrays are not supported", path), nil)
	}
	var n, channels, samples int
	switch len(shape) {
	case 2:
		n, channels, samples = shape[0], 1, shape[1]
	case 3:
		n, channels, samples = shape[0], shape[1], shape[2]
	default:
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: want a 2-D or 3-D array, got shape %v", path, shape), nil)
	}

	var flat []float64
	if err := rd.Read(&flat); err != nil {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("failed to read %s", path), err)
	}
	size := channels * samples
	if len(flat) != n*size {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: %d values for shape %v", path, len(flat), shape), nil)
	}

	epochs := make([]*mat.Dense, n)
	for i := range epochs {
		epochs[i] = mat.NewDense(channels, samples, append([]float64(nil), flat[i*size:(i+1)*size]...))
	}
	r.logger.Debug("read %d epochs (%d×%d) from %s", n, channels, samples, path)
	return epochs, nil
}
