// Package clusterstat runs permutation-based spatiotemporal cluster tests
// over stacks of per-subject cortical arrays.
package clusterstat

import (
	"context"
	"fmt"
	"math/rand"

	"megstats/adapters/rng"
	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// maxExactSubjects caps exact sign-flip enumeration at 2^maxExactSubjects
const maxExactSubjects = 20

// Request is one cluster test. Each array is samples × vertices. X is used
// by one-sample tests, A and B by two-sample tests; Params.Kind decides
// which, and the other fields must be empty.
type Request struct {
	Params    cluster.Params
	X         []*mat.Dense
	A         []*mat.Dense
	B         []*mat.Dense
	Adjacency *Adjacency
}

// Runner executes cluster tests
type Runner struct {
	rng    ports.RNGPort
	logger *internal.Logger
}

// NewRunner creates a runner drawing permutations from rngPort
func NewRunner(rngPort ports.RNGPort, logger *internal.Logger) *Runner {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if rngPort == nil {
		rngPort = rng.New()
	}
	return &Runner{rng: rngPort, logger: logger}
}

// prepared is a validated request reduced to the kept vertices
type prepared struct {
	params cluster.Params
	xs     []*mat.Dense
	nA     int
	nB     int
	adj    *Adjacency
	keep   []int
	nFull  int
	thresh float64
	step   float64 // TFCE increment, fixed from the observed map
}

// Run performs the test and returns the corrected result
func (r *Runner) Run(ctx context.Context, req Request) (*cluster.Result, error) {
	p, err := prepare(req)
	if err != nil {
		return nil, err
	}

	perms, signs, err := r.permutations(ctx, p)
	if err != nil {
		return nil, err
	}

	r.logger.Info("cluster test kind=%s stat=%s tail=%d threshold=%s n_perm=%d seed=%d vertices=%d/%d",
		p.params.Kind, p.params.Stat, p.params.Tail, p.params.Threshold, len(perms)+len(signs), p.params.Seed, len(p.keep), p.nFull)

	obs := p.statistic(nil, nil)
	if tf := p.params.Threshold.TFCE; tf != nil {
		p.step = tfceStep(obs, *tf, p.params.Tail)
	}
	observedClusters := p.clusters(obs)

	nPerm := len(perms) + len(signs)
	h0 := make([]float64, nPerm)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(p.params.Workers))
	for i := 0; i < nPerm; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var sv []float64
			var pv []int
			if signs != nil {
				sv = signs[i]
			} else {
				pv = perms[i]
			}
			h0[i] = p.nullValue(p.statistic(sv, pv))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Wrap(err, "permutation loop interrupted")
	}

	result := &cluster.Result{
		Kind:      p.params.Kind,
		Stat:      p.params.Stat,
		Seed:      p.params.Seed,
		Alpha:     p.params.Alpha,
		Obs:       p.expand(obs),
		H0:        h0,
		NVertices: p.nFull,
	}
	for _, c := range observedClusters {
		for i, v := range c.Vertices {
			c.Vertices[i] = p.keep[v]
		}
		result.Clusters = append(result.Clusters, c)
		result.PValues = append(result.PValues, pValue(c.Stat, h0, p.params.Tail))
	}

	r.logger.Info("cluster test found %d clusters, %d significant at alpha=%.3f", result.NClusters(), len(result.GoodClusterIdxs()), p.params.Alpha)
	return result, nil
}

func workers(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func prepare(req Request) (*prepared, error) {
	params := req.Params
	if params.Stat == "" {
		params.Stat = cluster.StatT
	}
	if params.Alpha == 0 {
		params.Alpha = cluster.DefaultAlpha
	}
	if params.NPermutations < 1 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("n_permutations must be positive, got %d", params.NPermutations))
	}
	if req.Adjacency == nil {
		return nil, apperrors.InvalidInput("adjacency is required")
	}
	if t := params.Threshold.TFCE; t != nil && t.Step <= 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("tfce step must be positive, got %g", t.Step))
	}

	p := &prepared{params: params}
	switch params.Kind {
	case cluster.KindOneSample:
		if len(req.A) > 0 || len(req.B) > 0 {
			return nil, apperrors.InvalidInput("one-sample test given two-sample arrays")
		}
		if len(req.X) < 2 {
			return nil, fmt.Errorf("%w: one-sample test needs at least 2 subjects, got %d", core.ErrInsufficientData, len(req.X))
		}
		if params.Stat != cluster.StatT {
			return nil, apperrors.InvalidInput("one-sample test only supports the t statistic")
		}
		p.xs = req.X
		p.nA = len(req.X)
	case cluster.KindTwoSample:
		if len(req.X) > 0 {
			return nil, apperrors.InvalidInput("two-sample test given one-sample array")
		}
		if len(req.A) < 1 || len(req.B) < 1 || len(req.A)+len(req.B) < 3 {
			return nil, fmt.Errorf("%w: two-sample test needs both groups and 3 subjects, got %d+%d", core.ErrInsufficientData, len(req.A), len(req.B))
		}
		if params.Stat == cluster.StatF && params.Tail != cluster.TailUpper {
			return nil, apperrors.InvalidInput("f statistic requires tail=1")
		}
		if params.Stat != cluster.StatT && params.Stat != cluster.StatF {
			return nil, apperrors.InvalidInput(fmt.Sprintf("unknown statistic %q", params.Stat))
		}
		p.xs = append(append([]*mat.Dense{}, req.A...), req.B...)
		p.nA, p.nB = len(req.A), len(req.B)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownTest, params.Kind)
	}

	rows, cols := p.xs[0].Dims()
	for i, x := range p.xs {
		r, c := x.Dims()
		if r != rows || c != cols {
			return nil, fmt.Errorf("subject %d: %w", i, core.NewShapeError("cluster input", rows, cols, r, c))
		}
	}
	if cols != req.Adjacency.N() {
		return nil, fmt.Errorf("%w: data has %d vertices, adjacency has %d", core.ErrAdjacencyMismatch, cols, req.Adjacency.N())
	}
	p.nFull = cols

	keep, err := keptVertices(cols, params.Include, params.Exclude)
	if err != nil {
		return nil, err
	}
	p.keep = keep
	p.adj = req.Adjacency
	if len(keep) != cols {
		if p.adj, err = req.Adjacency.Restrict(keep); err != nil {
			return nil, err
		}
		reduced := make([]*mat.Dense, len(p.xs))
		for i, x := range p.xs {
			reduced[i] = selectColumns(x, keep)
		}
		p.xs = reduced
	}
	if _, c := p.xs[0].Dims(); c != p.adj.N() {
		return nil, fmt.Errorf("%w: reduced data has %d vertices, adjacency has %d", core.ErrAdjacencyMismatch, c, p.adj.N())
	}

	if !params.Threshold.IsTFCE() {
		p.thresh = params.Threshold.Value
		if p.thresh == 0 {
			p.thresh = defaultThreshold(params, p.nA, p.nB)
		}
	}
	return p, nil
}

func selectColumns(x *mat.Dense, cols []int) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for j, c := range cols {
		for i := 0; i < r; i++ {
			out.Set(i, j, x.At(i, c))
		}
	}
	return out
}

// expand scatters a reduced samples × kept map back to full vertex width;
// excluded vertices read 0.
func (p *prepared) expand(m *mat.Dense) *mat.Dense {
	if len(p.keep) == p.nFull {
		return m
	}
	r, _ := m.Dims()
	out := mat.NewDense(r, p.nFull, nil)
	for j, v := range p.keep {
		for i := 0; i < r; i++ {
			out.Set(i, v, m.At(i, j))
		}
	}
	return out
}

// statistic computes the point statistic for sign flips (one-sample) or a
// label permutation (two-sample). Both nil means the observed data.
func (p *prepared) statistic(signs []float64, perm []int) *mat.Dense {
	if p.params.Kind == cluster.KindOneSample {
		return oneSampleT(p.xs, signs)
	}
	if perm == nil {
		perm = identity(len(p.xs))
	}
	return twoSample(p.xs, p.nA, perm, p.params.Stat)
}

func (p *prepared) clusters(statMap *mat.Dense) []cluster.Cluster {
	if tf := p.params.Threshold.TFCE; tf != nil {
		return tfceClusters(tfceScores(statMap, p.adj, *tf, p.step, p.params.Tail))
	}
	return clustersForTail(statMap, p.adj, p.thresh, p.params.Tail)
}

func (p *prepared) nullValue(statMap *mat.Dense) float64 {
	if tf := p.params.Threshold.TFCE; tf != nil {
		return tfceExtremum(tfceScores(statMap, p.adj, *tf, p.step, p.params.Tail), p.params.Tail)
	}
	cs := clustersForTail(statMap, p.adj, p.thresh, p.params.Tail)
	stats := make([]float64, len(cs))
	for i, c := range cs {
		stats[i] = c.Stat
	}
	return extremum(stats, p.params.Tail)
}

// permutations draws every relabelling up front from a single seeded
// stream, so the null does not depend on how work is spread over workers.
// Index 0 is always the identity. One-sample tests return sign vectors,
// two-sample tests return index permutations.
func (r *Runner) permutations(ctx context.Context, p *prepared) ([][]int, [][]float64, error) {
	stream, err := r.rng.SeededStream(ctx, "cluster-permutation", p.params.Seed)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to create permutation stream")
	}
	n := len(p.xs)

	if p.params.Kind == cluster.KindOneSample {
		if n <= maxExactSubjects && 1<<uint(n) <= p.params.NPermutations {
			r.logger.Debug("enumerating all %d sign flips exactly", 1<<uint(n))
			return nil, exactSignFlips(n), nil
		}
		return nil, randomSignFlips(stream, n, p.params.NPermutations), nil
	}

	perms := make([][]int, p.params.NPermutations)
	perms[0] = identity(n)
	for i := 1; i < len(perms); i++ {
		perms[i] = stream.Perm(n)
	}
	return perms, nil, nil
}

func exactSignFlips(n int) [][]float64 {
	total := 1 << uint(n)
	out := make([][]float64, total)
	for mask := 0; mask < total; mask++ {
		s := make([]float64, n)
		for i := range s {
			s[i] = 1
			if mask&(1<<uint(i)) != 0 {
				s[i] = -1
			}
		}
		out[mask] = s
	}
	return out
}

func randomSignFlips(stream *rand.Rand, n, count int) [][]float64 {
	out := make([][]float64, count)
	for k := range out {
		s := make([]float64, n)
		for i := range s {
			s[i] = 1
			if k > 0 && stream.Intn(2) == 1 {
				s[i] = -1
			}
		}
		out[k] = s
	}
	return out
}
