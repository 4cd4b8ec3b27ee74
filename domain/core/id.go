package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific identifier types
type (
	RunID     ID
	SubjectID ID
	GroupName ID
	Condition ID
	Timepoint ID
)

func (id RunID) String() string     { return ID(id).String() }
func (id SubjectID) String() string { return ID(id).String() }
func (id GroupName) String() string { return ID(id).String() }
func (id Condition) String() string { return ID(id).String() }
func (id Timepoint) String() string { return ID(id).String() }

// NewRunID creates a time-ordered run identifier
func NewRunID() RunID {
	return RunID(NewID())
}

// Recording timepoints. PostMinusPre is the per-subject post-camp minus
// pre-camp contrast and is addressed like any other timepoint.
const (
	TimepointPre          Timepoint = "pre"
	TimepointPost         Timepoint = "post"
	TimepointPostMinusPre Timepoint = "post-pre"
)

// Timepoints lists the addressable timepoints in canonical order
func Timepoints() []Timepoint {
	return []Timepoint{TimepointPre, TimepointPost, TimepointPostMinusPre}
}

// IsRecorded reports whether the timepoint is an actual recording session
// rather than a derived contrast.
func (id Timepoint) IsRecorded() bool {
	return id == TimepointPre || id == TimepointPost
}

// GrandAverage is the group containing every enrolled subject
const GrandAverage GroupName = "GrandAvg"

// ParseSubjectID parses a string into SubjectID
func ParseSubjectID(s string) (SubjectID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("subject ID cannot be empty")
	}
	return SubjectID(s), nil
}

// ParseTimepoint parses a string into one of the known timepoints
func ParseTimepoint(s string) (Timepoint, error) {
	for _, tp := range Timepoints() {
		if string(tp) == s {
			return tp, nil
		}
	}
	return "", fmt.Errorf("unknown timepoint %q", s)
}

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// ContrastName names the difference a-b
func ContrastName(a, b Condition) Condition {
	return Condition(string(a) + "-" + string(b))
}
