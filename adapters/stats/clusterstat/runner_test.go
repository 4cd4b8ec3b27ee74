package clusterstat

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"megstats/adapters/rng"
	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	nVertices = 3
	nSamples  = 5
	shiftVtx  = 1
)

func newTestRunner() *Runner {
	return NewRunner(rng.New(), internal.Nop())
}

// shiftContrasts builds per-subject post-minus-pre arrays (samples × vertices)
// for subjects whose observations are constant per vertex, with a +5 shift
// at shiftVtx after the intervention.
func shiftContrasts(t *testing.T, nSubjects int) []*mat.Dense {
	t.Helper()
	out := make([]*mat.Dense, nSubjects)
	for s := 0; s < nSubjects; s++ {
		pre := mat.NewDense(nVertices, nSamples, nil)
		post := mat.NewDense(nVertices, nSamples, nil)
		for v := 0; v < nVertices; v++ {
			base := float64(v+1) + 0.25*float64(s)
			shift := 0.0
			if v == shiftVtx {
				shift = 5 + 0.1*float64(s)
			}
			for i := 0; i < nSamples; i++ {
				pre.Set(v, i, base)
				post.Set(v, i, base+shift)
			}
		}
		subject := core.SubjectID("s" + string(rune('a'+s)))
		diff, err := observation.Subtract(
			observation.New(subject, core.TimepointPost, "letter", 0, 0.01, post),
			observation.New(subject, core.TimepointPre, "letter", 0, 0.01, pre),
		)
		require.NoError(t, err)
		out[s] = diff.TimeByVertex()
	}
	return out
}

func noisySubjects(src *rand.Rand, n int, offset float64) []*mat.Dense {
	out := make([]*mat.Dense, n)
	for s := range out {
		m := mat.NewDense(nSamples, nVertices, nil)
		for i := 0; i < nSamples; i++ {
			for v := 0; v < nVertices; v++ {
				m.Set(i, v, offset+0.1*src.NormFloat64())
			}
		}
		out[s] = m
	}
	return out
}

func TestRun_OneSampleShift_FourSubjects(t *testing.T) {
	params := cluster.DefaultParams()
	params.Tail = cluster.TailUpper
	params.Threshold = cluster.Fixed(1.5)
	// Four subjects admit only 16 sign flips, so the smallest attainable
	// one-tailed p is 1/16; the generous alpha makes that significant.
	params.Alpha = 0.1

	res, err := newTestRunner().Run(context.Background(), Request{
		Params:    params,
		X:         shiftContrasts(t, 4),
		Adjacency: Chain(nVertices),
	})
	require.NoError(t, err)

	assert.Len(t, res.H0, 16)
	require.Equal(t, 1, res.NClusters())
	assert.Equal(t, []int{0}, res.GoodClusterIdxs())
	assert.InDelta(t, 1.0/16, res.PValues[0], 1e-12)

	c := res.Clusters[0]
	assert.Equal(t, []int{shiftVtx}, c.UniqueVertices())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, c.UniqueTimes())
	assert.Greater(t, res.Obs.At(0, shiftVtx), 10.0)
	assert.Equal(t, 0.0, res.Obs.At(0, 0))
}

func TestRun_OneSampleShift_EightSubjectsDefaultAlpha(t *testing.T) {
	params := cluster.DefaultParams()
	params.Tail = cluster.TailUpper
	params.Threshold = cluster.Fixed(1.5)

	res, err := newTestRunner().Run(context.Background(), Request{
		Params:    params,
		X:         shiftContrasts(t, 8),
		Adjacency: Chain(nVertices),
	})
	require.NoError(t, err)

	require.Equal(t, 1, res.NClusters())
	assert.Equal(t, []int{0}, res.GoodClusterIdxs())
	assert.InDelta(t, 1.0/256, res.PValues[0], 1e-12)
	assert.Equal(t, []int{shiftVtx}, res.Clusters[0].UniqueVertices())
}

func TestRun_TFCE(t *testing.T) {
	params := cluster.DefaultParams()
	params.Tail = cluster.TailUpper
	params.Threshold = cluster.ThresholdFree(0, 0.5)

	res, err := newTestRunner().Run(context.Background(), Request{
		Params:    params,
		X:         shiftContrasts(t, 8),
		Adjacency: Chain(nVertices),
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.GoodClusterIdxs())
	for _, idx := range res.GoodClusterIdxs() {
		assert.Equal(t, []int{shiftVtx}, res.Clusters[idx].Vertices)
		assert.Equal(t, 1, res.Clusters[idx].Size())
	}
}

func TestRun_Determinism(t *testing.T) {
	src := rand.New(rand.NewSource(11))
	xs := noisySubjects(src, 12, 0.05)

	params := cluster.DefaultParams()
	params.NPermutations = 200
	params.Threshold = cluster.Fixed(1.0)
	params.Seed = 1234

	run := func(workers int) *cluster.Result {
		p := params
		p.Workers = workers
		res, err := newTestRunner().Run(context.Background(), Request{Params: p, X: xs, Adjacency: Chain(nVertices)})
		require.NoError(t, err)
		return res
	}

	first := run(1)
	second := run(1)
	parallel := run(4)

	assert.Len(t, first.H0, 200)
	assert.Equal(t, first.Digest(), second.Digest())
	assert.Equal(t, first.Digest(), parallel.Digest())
	assert.Equal(t, first.Clusters, parallel.Clusters)
	assert.Equal(t, first.PValues, parallel.PValues)
	assert.Equal(t, first.H0, parallel.H0)

	params.Seed = 4321
	other, err := newTestRunner().Run(context.Background(), Request{Params: params, X: xs, Adjacency: Chain(nVertices)})
	require.NoError(t, err)
	assert.NotEqual(t, first.H0[1:], other.H0[1:])
}

func TestRun_TwoSampleOffsetSign(t *testing.T) {
	for _, offset := range []float64{2, -2} {
		src := rand.New(rand.NewSource(99))
		a := noisySubjects(src, 3, offset)
		b := noisySubjects(src, 4, 0)

		params := cluster.DefaultParams()
		params.Kind = cluster.KindTwoSample
		params.NPermutations = 100

		res, err := newTestRunner().Run(context.Background(), Request{Params: params, A: a, B: b, Adjacency: Chain(nVertices)})
		require.NoError(t, err)

		rows, cols := res.Obs.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				assert.Equal(t, math.Signbit(offset), math.Signbit(res.Obs.At(i, j)), "offset %g at (%d,%d)", offset, i, j)
			}
		}
		assert.Equal(t, "tvals", res.ObsKey())
	}
}

func TestRun_TwoSampleF(t *testing.T) {
	src := rand.New(rand.NewSource(5))
	a := noisySubjects(src, 3, 2)
	b := noisySubjects(src, 4, 0)

	params := cluster.DefaultParams()
	params.Kind = cluster.KindTwoSample
	params.Stat = cluster.StatF
	params.NPermutations = 50

	_, err := newTestRunner().Run(context.Background(), Request{Params: params, A: a, B: b, Adjacency: Chain(nVertices)})
	require.Error(t, err, "F with a two-sided tail is rejected")

	params.Tail = cluster.TailUpper
	res, err := newTestRunner().Run(context.Background(), Request{Params: params, A: a, B: b, Adjacency: Chain(nVertices)})
	require.NoError(t, err)
	assert.Equal(t, "f_obs", res.ObsKey())
	assert.Greater(t, res.Obs.At(0, 0), 0.0)
	require.Equal(t, 1, res.NClusters())
	assert.Equal(t, nSamples*nVertices, res.Clusters[0].Size())
}

func TestRun_DispatchIsExplicit(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	xs := noisySubjects(src, 4, 0)
	adj := Chain(nVertices)

	params := cluster.DefaultParams()
	_, err := newTestRunner().Run(context.Background(), Request{Params: params, A: xs[:2], B: xs[2:], Adjacency: adj})
	assert.Error(t, err)

	params.Kind = cluster.KindTwoSample
	_, err = newTestRunner().Run(context.Background(), Request{Params: params, X: xs, Adjacency: adj})
	assert.Error(t, err)

	params.Kind = "paired"
	_, err = newTestRunner().Run(context.Background(), Request{Params: params, X: xs, Adjacency: adj})
	assert.ErrorIs(t, err, core.ErrUnknownTest)

	params.Kind = cluster.KindOneSample
	_, err = newTestRunner().Run(context.Background(), Request{Params: params, X: xs[:1], Adjacency: adj})
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestRun_SpatialExclusion(t *testing.T) {
	xs := shiftContrasts(t, 8)
	params := cluster.DefaultParams()
	params.Tail = cluster.TailUpper
	params.Threshold = cluster.Fixed(1.5)

	t.Run("adjacency width mismatch", func(t *testing.T) {
		_, err := newTestRunner().Run(context.Background(), Request{Params: params, X: xs, Adjacency: Chain(nVertices + 1)})
		assert.ErrorIs(t, err, core.ErrAdjacencyMismatch)
	})

	t.Run("exclude the effect", func(t *testing.T) {
		p := params
		p.Exclude = []int{shiftVtx}
		res, err := newTestRunner().Run(context.Background(), Request{Params: p, X: xs, Adjacency: Chain(nVertices)})
		require.NoError(t, err)
		assert.Zero(t, res.NClusters())
		_, cols := res.Obs.Dims()
		assert.Equal(t, nVertices, cols)
		assert.Equal(t, 0.0, res.Obs.At(0, shiftVtx))
	})

	t.Run("include only the effect region", func(t *testing.T) {
		p := params
		p.Include = []int{2, shiftVtx}
		res, err := newTestRunner().Run(context.Background(), Request{Params: p, X: xs, Adjacency: Chain(nVertices)})
		require.NoError(t, err)
		require.Equal(t, 1, res.NClusters())
		assert.Equal(t, []int{shiftVtx}, res.Clusters[0].UniqueVertices())
	})

	t.Run("out of range exclusion", func(t *testing.T) {
		p := params
		p.Exclude = []int{nVertices}
		_, err := newTestRunner().Run(context.Background(), Request{Params: p, X: xs, Adjacency: Chain(nVertices)})
		assert.ErrorIs(t, err, core.ErrAdjacencyMismatch)
	})

	t.Run("everything excluded", func(t *testing.T) {
		p := params
		p.Exclude = []int{0, 1, 2}
		_, err := newTestRunner().Run(context.Background(), Request{Params: p, X: xs, Adjacency: Chain(nVertices)})
		assert.ErrorIs(t, err, core.ErrInsufficientData)
	})
}

func TestRun_ShapeMismatch(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	xs := noisySubjects(src, 4, 0)
	xs[2] = mat.NewDense(nSamples+1, nVertices, nil)

	_, err := newTestRunner().Run(context.Background(), Request{Params: cluster.DefaultParams(), X: xs, Adjacency: Chain(nVertices)})
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestRun_Cancelled(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner().Run(ctx, Request{Params: cluster.DefaultParams(), X: noisySubjects(src, 4, 0), Adjacency: Chain(nVertices)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultThreshold(t *testing.T) {
	p := cluster.DefaultParams()
	// t(0.975, df=9)
	assert.InDelta(t, 2.262, defaultThreshold(p, 10, 0), 1e-3)

	p.Tail = cluster.TailUpper
	assert.InDelta(t, 1.833, defaultThreshold(p, 10, 0), 1e-3)

	p.Kind = cluster.KindTwoSample
	p.Tail = cluster.TailBoth
	// t(0.975, df=18)
	assert.InDelta(t, 2.101, defaultThreshold(p, 10, 10), 1e-3)
}

func TestSummarizeNull(t *testing.T) {
	s := SummarizeNull([]float64{0, 1, 2, 3, 4})
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Greater(t, s.StdDev, 0.0)

	assert.Equal(t, NullSummary{}, SummarizeNull(nil))
}
