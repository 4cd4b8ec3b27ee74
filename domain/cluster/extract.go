package cluster

import (
	"fmt"

	"megstats/domain/core"
)

// Hemisphere of the template mesh
type Hemisphere string

const (
	HemiLeft  Hemisphere = "lh"
	HemiRight Hemisphere = "rh"
)

// DefaultHemisphereVertices is the fsaverage ico-5 vertex count per hemisphere
const DefaultHemisphereVertices = 10242

// SplitHemisphere assigns a set of whole-brain vertex indices to one
// hemisphere. Left vertices keep their index; right vertices are returned
// relative to the start of the right hemisphere. A set touching both
// hemispheres is an error.
func SplitHemisphere(vertices []int, perHemi int) (Hemisphere, []int, error) {
	if perHemi <= 0 {
		return "", nil, fmt.Errorf("hemisphere size must be positive, got %d", perHemi)
	}
	if len(vertices) == 0 {
		return "", nil, fmt.Errorf("%w: empty vertex set", core.ErrInsufficientData)
	}
	var left, right int
	for _, v := range vertices {
		switch {
		case v < 0 || v >= 2*perHemi:
			return "", nil, fmt.Errorf("%w: vertex %d outside [0,%d)", core.ErrShapeMismatch, v, 2*perHemi)
		case v < perHemi:
			left++
		default:
			right++
		}
	}
	if left > 0 && right > 0 {
		return "", nil, fmt.Errorf("%w: %d left and %d right vertices", core.ErrHemisphereStraddle, left, right)
	}

	local := make([]int, len(vertices))
	copy(local, vertices)
	if right > 0 {
		for i := range local {
			local[i] -= perHemi
		}
		return HemiRight, local, nil
	}
	return HemiLeft, local, nil
}

// SubjectSeries is one subject's cluster-averaged time course
type SubjectSeries struct {
	Subject core.SubjectID `json:"subject"`
	Group   core.GroupName `json:"group"`
	Values  []float64      `json:"values"`
}

// TimeCourse holds the per-subject series of one condition
type TimeCourse struct {
	Condition core.Condition  `json:"condition"`
	Series    []SubjectSeries `json:"series"`
}

// Mean returns the across-subject mean series
func (tc TimeCourse) Mean() []float64 {
	if len(tc.Series) == 0 {
		return nil
	}
	out := make([]float64, len(tc.Series[0].Values))
	for _, s := range tc.Series {
		for i, v := range s.Values {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(tc.Series))
	}
	return out
}

// Extract describes one significant cluster in reporting terms
type Extract struct {
	Index          int          `json:"index"`
	PValue         float64      `json:"p_value"`
	Stat           float64      `json:"stat"`
	Size           int          `json:"size"`
	Hemisphere     Hemisphere   `json:"hemisphere"`
	Vertices       []int        `json:"vertices"` // hemisphere-local
	GlobalVertices []int        `json:"global_vertices"`
	SampleStart    int          `json:"sample_start"`
	SampleEnd      int          `json:"sample_end"`
	TimeStart      float64      `json:"time_start"`
	TimeEnd        float64      `json:"time_end"`
	TimeCourses    []TimeCourse `json:"time_courses"`
}

// Extraction is everything recovered from one cluster result
type Extraction struct {
	Stem       string    `json:"stem"`
	Kind       Kind      `json:"kind"`
	Alpha      float64   `json:"alpha"`
	NClusters  int       `json:"n_clusters"`
	Times      []float64 `json:"times"`
	Clusters   []Extract `json:"clusters"`
	MarkerPath string    `json:"marker_path,omitempty"`
}

// Significant reports whether any cluster survived correction
func (e *Extraction) Significant() bool { return len(e.Clusters) > 0 }

// SampleTimes converts sample indices to seconds
func SampleTimes(n int, tmin, tstep float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = tmin + float64(i)*tstep
	}
	return out
}
