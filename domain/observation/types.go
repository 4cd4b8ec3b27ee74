// Package observation holds cortical-surface arrays (vertices × samples)
// and the arithmetic the workflow performs on them.
package observation

import (
	"fmt"
	"sort"

	"megstats/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Observation is one cortical time series or spectrum on the template mesh.
// Data has one row per vertex and one column per sample (or frequency bin).
// Observations are immutable once built: every operation returns a new one.
type Observation struct {
	Subject   core.SubjectID `json:"subject,omitempty"`
	Group     core.GroupName `json:"group,omitempty"`
	Timepoint core.Timepoint `json:"timepoint"`
	Condition core.Condition `json:"condition"`
	Tmin      float64        `json:"tmin"`
	Tstep     float64        `json:"tstep"`
	Data      *mat.Dense     `json:"-"`
}

// New builds an observation, copying data
func New(subject core.SubjectID, timepoint core.Timepoint, condition core.Condition, tmin, tstep float64, data mat.Matrix) *Observation {
	return &Observation{
		Subject:   subject,
		Timepoint: timepoint,
		Condition: condition,
		Tmin:      tmin,
		Tstep:     tstep,
		Data:      mat.DenseCopyOf(data),
	}
}

// Dims returns (vertices, samples)
func (o *Observation) Dims() (int, int) {
	return o.Data.Dims()
}

// Times returns the sample times in seconds
func (o *Observation) Times() []float64 {
	_, n := o.Dims()
	times := make([]float64, n)
	for i := range times {
		times[i] = o.Tmin + float64(i)*o.Tstep
	}
	return times
}

// TimeByVertex returns a samples × vertices copy, the layout the cluster
// runner consumes.
func (o *Observation) TimeByVertex() *mat.Dense {
	return mat.DenseCopyOf(o.Data.T())
}

// SameShape reports whether two observations can be combined elementwise
func (o *Observation) SameShape(other *Observation) bool {
	r1, c1 := o.Dims()
	r2, c2 := other.Dims()
	return r1 == r2 && c1 == c2
}

// Subtract returns a - b as a new observation named "{a}-{b}". Both the
// condition and timepoint names are combined when they differ, so that
// post-minus-pre contrasts read "post-pre".
func Subtract(a, b *Observation) (*Observation, error) {
	if !a.SameShape(b) {
		ra, ca := a.Dims()
		rb, cb := b.Dims()
		return nil, core.NewShapeError("contrast", ra, ca, rb, cb)
	}
	var diff mat.Dense
	diff.Sub(a.Data, b.Data)

	out := &Observation{
		Subject:   a.Subject,
		Group:     a.Group,
		Timepoint: a.Timepoint,
		Condition: a.Condition,
		Tmin:      a.Tmin,
		Tstep:     a.Tstep,
		Data:      &diff,
	}
	if a.Condition != b.Condition {
		out.Condition = core.ContrastName(a.Condition, b.Condition)
	}
	if a.Timepoint != b.Timepoint {
		out.Timepoint = core.Timepoint(fmt.Sprintf("%s-%s", a.Timepoint, b.Timepoint))
	}
	return out, nil
}

// Negate returns -o
func Negate(o *Observation) *Observation {
	var neg mat.Dense
	neg.Scale(-1, o.Data)
	out := *o
	out.Data = &neg
	return &out
}

// Accumulator computes a group mean while holding only a running sum, so
// subjects can be loaded one at a time.
type Accumulator struct {
	group     core.GroupName
	timepoint core.Timepoint
	condition core.Condition
	tmin      float64
	tstep     float64
	seen      map[core.SubjectID]bool
	sum       *mat.Dense
}

// NewAccumulator creates an empty accumulator for one group average
func NewAccumulator(group core.GroupName, timepoint core.Timepoint, condition core.Condition) *Accumulator {
	return &Accumulator{
		group:     group,
		timepoint: timepoint,
		condition: condition,
		seen:      make(map[core.SubjectID]bool),
	}
}

// Add folds one subject into the running sum. The caller may drop obs
// afterwards.
func (a *Accumulator) Add(obs *Observation) error {
	r, c := obs.Dims()
	if a.sum == nil {
		a.sum = mat.NewDense(r, c, nil)
		a.tmin, a.tstep = obs.Tmin, obs.Tstep
	} else if sr, sc := a.sum.Dims(); r != sr || c != sc {
		return fmt.Errorf("subject %s: %w", obs.Subject, core.NewShapeError("group average", sr, sc, r, c))
	}
	if a.seen[obs.Subject] {
		return fmt.Errorf("%w: subject %s added twice to %s", core.ErrCohortOverlap, obs.Subject, a.group)
	}
	a.seen[obs.Subject] = true
	a.sum.Add(a.sum, obs.Data)
	return nil
}

// Len returns the number of subjects added
func (a *Accumulator) Len() int {
	return len(a.seen)
}

// Subjects returns the contributing subjects in sorted order
func (a *Accumulator) Subjects() []core.SubjectID {
	ids := make([]string, 0, len(a.seen))
	for id := range a.seen {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]core.SubjectID, len(ids))
	for i, id := range ids {
		out[i] = core.SubjectID(id)
	}
	return out
}

// Mean returns the elementwise group mean
func (a *Accumulator) Mean() (*Observation, error) {
	if len(a.seen) == 0 {
		return nil, fmt.Errorf("%w: %s %s %s", core.ErrEmptyGroup, a.group, a.timepoint, a.condition)
	}
	var mean mat.Dense
	mean.Scale(1/float64(len(a.seen)), a.sum)
	return &Observation{
		Group:     a.group,
		Timepoint: a.timepoint,
		Condition: a.condition,
		Tmin:      a.tmin,
		Tstep:     a.tstep,
		Data:      &mean,
	}, nil
}

// Average is a convenience wrapper over Accumulator for in-memory sets
func Average(group core.GroupName, obs []*Observation) (*Observation, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrEmptyGroup, group)
	}
	acc := NewAccumulator(group, obs[0].Timepoint, obs[0].Condition)
	for _, o := range obs {
		if err := acc.Add(o); err != nil {
			return nil, err
		}
	}
	return acc.Mean()
}

// VertexMean returns the per-sample mean over the given vertex rows
func (o *Observation) VertexMean(vertices []int) ([]float64, error) {
	rows, cols := o.Dims()
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: empty vertex set", core.ErrInsufficientData)
	}
	out := make([]float64, cols)
	for _, v := range vertices {
		if v < 0 || v >= rows {
			return nil, fmt.Errorf("%w: vertex %d outside [0,%d)", core.ErrShapeMismatch, v, rows)
		}
		for t := 0; t < cols; t++ {
			out[t] += o.Data.At(v, t)
		}
	}
	for t := range out {
		out[t] /= float64(len(vertices))
	}
	return out, nil
}
