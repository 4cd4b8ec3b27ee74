package ports

import (
	"context"

	"megstats/domain/core"
	"megstats/domain/observation"

	"gonum.org/v1/gonum/mat"
)

// ObservationReader loads immutable per-subject observations. Only recorded
// timepoints and plain conditions are stored; contrasts are derived by the
// caller.
type ObservationReader interface {
	ReadObservation(ctx context.Context, subject core.SubjectID, tp core.Timepoint, condition core.Condition) (*observation.Observation, error)
}

// ObservationWriter persists derived observations such as group averages
type ObservationWriter interface {
	WriteObservation(ctx context.Context, path string, obs *observation.Observation) error
}

// EpochReader loads per-epoch channels × samples arrays
type EpochReader interface {
	ReadEpochs(ctx context.Context, path string) ([]*mat.Dense, error)
}
