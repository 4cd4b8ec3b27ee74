package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	ErrNotFound            = errors.New("resource not found")
	ErrObservationMissing  = fmt.Errorf("%w: subject observation", ErrNotFound)
	ErrClusterResultAbsent = fmt.Errorf("%w: cluster result", ErrNotFound)

	// Shape and integrity errors
	ErrShapeMismatch      = errors.New("array shape mismatch")
	ErrAdjacencyMismatch  = errors.New("adjacency does not match data width")
	ErrHemisphereStraddle = errors.New("cluster straddles both hemispheres")
	ErrEmptyGroup         = errors.New("group has no members")

	// Cohort definition errors
	ErrCohortOverlap    = errors.New("cohorts overlap")
	ErrCohortIncomplete = errors.New("cohorts do not cover all subjects")
	ErrUnknownCohort    = errors.New("unknown cohort")

	// Statistics errors
	ErrUnknownTest          = errors.New("unknown test kind")
	ErrInsufficientData     = errors.New("insufficient data for analysis")
	ErrNoSignificantCluster = errors.New("no significant cluster")
)

// NewObservationMissingError reports a subject observation that could not be loaded
func NewObservationMissingError(subject SubjectID, timepoint Timepoint, condition Condition, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s %s %s: %v", ErrObservationMissing, subject, timepoint, condition, cause)
	}
	return fmt.Errorf("%w: %s %s %s", ErrObservationMissing, subject, timepoint, condition)
}

// NewShapeError reports two arrays whose dimensions disagree
func NewShapeError(what string, wantR, wantC, gotR, gotC int) error {
	return fmt.Errorf("%w: %s: want %dx%d, got %dx%d", ErrShapeMismatch, what, wantR, wantC, gotR, gotC)
}

// IsNotFoundError reports whether err is any not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIntegrityError reports errors that indicate a bug or corrupted inputs
// rather than a recoverable condition.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrAdjacencyMismatch) ||
		errors.Is(err, ErrHemisphereStraddle)
}
