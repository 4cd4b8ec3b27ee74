// Package cluster defines permutation cluster-test requests and results.
package cluster

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"megstats/domain/core"

	"gonum.org/v1/gonum/mat"
)

// DefaultAlpha is the corrected p-value below which a cluster is significant
const DefaultAlpha = 0.05

// Kind selects the test; it is always explicit, never inferred from shape
type Kind string

const (
	KindOneSample Kind = "one_sample"
	KindTwoSample Kind = "two_sample"
)

// Stat selects the point statistic for two-sample tests
type Stat string

const (
	StatT Stat = "t"
	StatF Stat = "f"
)

// Tail of the test: -1 lower, 0 two-sided, +1 upper
type Tail int

const (
	TailLower Tail = -1
	TailBoth  Tail = 0
	TailUpper Tail = 1
)

// Threshold is the cluster-forming rule. A nil TFCE means a fixed
// statistic cutoff; Value 0 with nil TFCE asks for the default parametric
// threshold (p=0.05 quantile).
type Threshold struct {
	Value float64 `json:"value"`
	TFCE  *TFCE   `json:"tfce,omitempty"`
}

// TFCE configures threshold-free cluster enhancement
type TFCE struct {
	Start float64 `json:"start"`
	Step  float64 `json:"step"`
	E     float64 `json:"e"`
	H     float64 `json:"h"`
}

// Fixed returns a fixed cluster-forming threshold
func Fixed(v float64) Threshold { return Threshold{Value: v} }

// ThresholdFree returns a TFCE ramp with the usual E=0.5, H=2 exponents
func ThresholdFree(start, step float64) Threshold {
	return Threshold{TFCE: &TFCE{Start: start, Step: step, E: 0.5, H: 2}}
}

// IsTFCE reports whether the threshold is a TFCE ramp
func (t Threshold) IsTFCE() bool { return t.TFCE != nil }

func (t Threshold) String() string {
	if t.TFCE != nil {
		return fmt.Sprintf("tfce(start=%g,step=%g)", t.TFCE.Start, t.TFCE.Step)
	}
	if t.Value == 0 {
		return "auto"
	}
	return fmt.Sprintf("%g", t.Value)
}

// Params are the knobs shared by both test kinds
type Params struct {
	Kind          Kind      `json:"kind"`
	Stat          Stat      `json:"stat"`
	Tail          Tail      `json:"tail"`
	Threshold     Threshold `json:"threshold"`
	NPermutations int       `json:"n_permutations"`
	Seed          int64     `json:"seed"`
	Workers       int       `json:"workers"`
	Alpha         float64   `json:"alpha"`
	// Include restricts testing to these vertices; Exclude removes vertices.
	// Both refer to the original (unreduced) vertex numbering.
	Include []int `json:"include,omitempty"`
	Exclude []int `json:"exclude,omitempty"`
}

// DefaultParams returns a two-sided one-sample configuration
func DefaultParams() Params {
	return Params{
		Kind:          KindOneSample,
		Stat:          StatT,
		Tail:          TailBoth,
		NPermutations: 1024,
		Seed:          42,
		Workers:       1,
		Alpha:         DefaultAlpha,
	}
}

// Hash fingerprints the parameters for the run ledger
func (p Params) Hash() core.ParamsHash {
	return core.ComputeParamsHash(map[string]interface{}{
		"kind":           p.Kind,
		"stat":           p.Stat,
		"tail":           p.Tail,
		"threshold":      p.Threshold.String(),
		"n_permutations": p.NPermutations,
		"seed":           p.Seed,
		"alpha":          p.Alpha,
		"include":        p.Include,
		"exclude":        p.Exclude,
	})
}

// Cluster is a set of (time index, vertex index) points. Times[i] pairs with
// Vertices[i]; points are sorted by time then vertex.
type Cluster struct {
	Times    []int   `json:"times"`
	Vertices []int   `json:"vertices"`
	Stat     float64 `json:"stat"`
}

// Size returns the number of points
func (c Cluster) Size() int { return len(c.Times) }

// UniqueVertices returns the sorted distinct vertex indices
func (c Cluster) UniqueVertices() []int { return unique(c.Vertices) }

// UniqueTimes returns the sorted distinct time indices
func (c Cluster) UniqueTimes() []int { return unique(c.Times) }

// Span returns the first and last time index covered
func (c Cluster) Span() (int, int) {
	ts := c.UniqueTimes()
	if len(ts) == 0 {
		return -1, -1
	}
	return ts[0], ts[len(ts)-1]
}

func unique(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}

// Result is the outcome of one permutation cluster test
type Result struct {
	Kind      Kind       `json:"kind"`
	Stat      Stat       `json:"stat"`
	Seed      int64      `json:"seed"`
	Alpha     float64    `json:"alpha"`
	Obs       *mat.Dense `json:"-"` // samples × vertices observed statistic
	Clusters  []Cluster  `json:"clusters"`
	PValues   []float64  `json:"p_values"`
	H0        []float64  `json:"h0"`
	NVertices int        `json:"n_vertices"`
}

// NClusters returns the number of clusters found
func (r *Result) NClusters() int { return len(r.Clusters) }

// GoodClusterIdxs returns the indices of clusters with p < Alpha
func (r *Result) GoodClusterIdxs() []int {
	alpha := r.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	var idxs []int
	for i, p := range r.PValues {
		if p < alpha {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// HasSignificant reports whether any cluster survived correction
func (r *Result) HasSignificant() bool { return len(r.GoodClusterIdxs()) > 0 }

// ObsKey is the archive key for the observed statistic
func (r *Result) ObsKey() string {
	if r.Stat == StatF {
		return "f_obs"
	}
	return "tvals"
}

// Digest hashes the numeric content of the result. Equal digests mean the
// clusters, p-values, observed statistic and null distribution are
// bit-for-bit identical.
func (r *Result) Digest() core.Hash {
	var buf []byte
	putF := func(f float64) { buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)) }
	putI := func(i int) { buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(i))) }

	buf = append(buf, string(r.Kind)...)
	buf = append(buf, string(r.Stat)...)
	putI(int(r.Seed))
	putI(len(r.Clusters))
	for _, c := range r.Clusters {
		putI(c.Size())
		for i := range c.Times {
			putI(c.Times[i])
			putI(c.Vertices[i])
		}
		putF(c.Stat)
	}
	for _, p := range r.PValues {
		putF(p)
	}
	for _, h := range r.H0 {
		putF(h)
	}
	if r.Obs != nil {
		rows, cols := r.Obs.Dims()
		putI(rows)
		putI(cols)
		for i := 0; i < rows; i++ {
			for _, v := range r.Obs.RawRowView(i) {
				putF(v)
			}
		}
	}
	return core.NewHash(buf)
}
