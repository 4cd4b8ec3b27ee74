package app

import (
	"context"
	"fmt"
	"time"

	"megstats/adapters/stats/clusterstat"
	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/domain/run"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"

	"gonum.org/v1/gonum/mat"
)

// ClusterRequest selects the data for one cluster test. One-sample tests
// use Group; two-sample tests compare Group (A) against GroupB (B) on the
// same timepoint and condition.
type ClusterRequest struct {
	Params    cluster.Params
	Group     core.GroupName
	GroupB    core.GroupName
	Timepoint core.Timepoint
	Name      core.Condition
}

// ClusterOutcome is what a cluster run produced
type ClusterOutcome struct {
	Stem      string                  `json:"stem"`
	Path      string                  `json:"path"`
	Skipped   bool                    `json:"skipped"`
	Result    *cluster.Result         `json:"-"`
	Null      clusterstat.NullSummary `json:"null"`
	Manifest  *run.Manifest           `json:"manifest"`
	RuntimeMs int64                   `json:"runtime_ms"`
}

// ClusterService runs cluster tests on assembled subject stacks, stores
// the result archive and records a manifest in the run ledger.
type ClusterService struct {
	assembler *ContrastAssembler
	runner    *clusterstat.Runner
	adjacency *clusterstat.Adjacency
	store     ports.ResultStore
	ledger    ports.LedgerWriterPort
	method    string
	logger    *internal.Logger
}

// NewClusterService creates a cluster service
func NewClusterService(assembler *ContrastAssembler, runner *clusterstat.Runner, adjacency *clusterstat.Adjacency,
	store ports.ResultStore, ledger ports.LedgerWriterPort, method string, logger *internal.Logger) *ClusterService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ClusterService{
		assembler: assembler,
		runner:    runner,
		adjacency: adjacency,
		store:     store,
		ledger:    ledger,
		method:    method,
		logger:    logger,
	}
}

// Stem returns the result stem a request is stored under
func (s *ClusterService) Stem(req ClusterRequest) (string, error) {
	group := req.Group
	n, err := s.assembler.GroupSize(req.Group)
	if err != nil {
		return "", err
	}
	if req.Params.Kind == cluster.KindTwoSample {
		nB, err := s.assembler.GroupSize(req.GroupB)
		if err != nil {
			return "", err
		}
		group = core.GroupName(core.ContrastName(core.Condition(req.Group), core.Condition(req.GroupB)))
		n += nB
	}
	return naming.ClusterStem(group, n, req.Timepoint, s.method, req.Name), nil
}

// Run executes one test. Requests the study design does not define are
// skipped and return an outcome with Skipped set.
func (s *ClusterService) Run(ctx context.Context, req ClusterRequest) (*ClusterOutcome, error) {
	start := time.Now()
	stem, err := s.Stem(req)
	if err != nil {
		return nil, err
	}

	stackA, err := s.assembler.SubjectStack(ctx, req.Group, req.Timepoint, req.Name)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to assemble %s", stem)
	}
	if stackA == nil {
		return &ClusterOutcome{Stem: stem, Skipped: true}, nil
	}

	creq := clusterstat.Request{Params: req.Params, Adjacency: s.adjacency}
	inputs := stackA
	switch req.Params.Kind {
	case cluster.KindTwoSample:
		stackB, err := s.assembler.SubjectStack(ctx, req.GroupB, req.Timepoint, req.Name)
		if err != nil {
			return nil, apperrors.Wrapf(err, "failed to assemble %s", stem)
		}
		if stackB == nil {
			return &ClusterOutcome{Stem: stem, Skipped: true}, nil
		}
		creq.A = timeByVertex(stackA)
		creq.B = timeByVertex(stackB)
		inputs = append(append([]*observation.Observation{}, stackA...), stackB...)
	default:
		creq.X = timeByVertex(stackA)
	}

	s.logger.Info("cluster test %s: %d subjects", stem, len(inputs))
	res, err := s.runner.Run(ctx, creq)
	if err != nil {
		return nil, apperrors.Wrapf(err, "cluster test %s failed", stem)
	}

	path, err := s.store.SaveResult(ctx, stem, res)
	if err != nil {
		return nil, err
	}

	subjects := make([]core.SubjectID, len(inputs))
	stems := make([]string, len(inputs))
	for i, o := range inputs {
		subjects[i] = o.Subject
		stems[i] = naming.SubjectStem(o.Subject, req.Timepoint, s.method, req.Name)
	}
	manifest := run.NewManifest(run.StageCluster, stem, req.Params.Seed, req.Params.Hash(), core.ComputeCohortHash(subjects), stems)
	manifest.Complete(path, res.Digest(), len(res.GoodClusterIdxs()))
	if s.ledger != nil {
		if err := s.ledger.Record(ctx, manifest); err != nil {
			return nil, apperrors.Wrapf(err, "failed to record run %s", manifest.RunID)
		}
	}

	return &ClusterOutcome{
		Stem:      stem,
		Path:      path,
		Result:    res,
		Null:      clusterstat.SummarizeNull(res.H0),
		Manifest:  manifest,
		RuntimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// RunAll runs a one-sample test for every allowed request whose name is a
// condition contrast or whose timepoint is post-pre, the combinations with
// a meaningful zero.
func (s *ClusterService) RunAll(ctx context.Context, params cluster.Params) ([]*ClusterOutcome, error) {
	contrasts := make(map[core.Condition]bool)
	for _, c := range s.assembler.Contrasts() {
		contrasts[c] = true
	}
	params.Kind = cluster.KindOneSample

	var outcomes []*ClusterOutcome
	for _, r := range s.assembler.Requests() {
		if !contrasts[r.Name] && r.Timepoint != core.TimepointPostMinusPre {
			continue
		}
		out, err := s.Run(ctx, ClusterRequest{Params: params, Group: r.Group, Timepoint: r.Timepoint, Name: r.Name})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func timeByVertex(stack []*observation.Observation) []*mat.Dense {
	out := make([]*mat.Dense, len(stack))
	for i, o := range stack {
		out[i] = o.TimeByVertex()
	}
	return out
}

// String describes an outcome for logs and the CLI
func (o *ClusterOutcome) String() string {
	if o.Skipped {
		return fmt.Sprintf("%s: skipped", o.Stem)
	}
	return fmt.Sprintf("%s: %d clusters, %d significant, digest %s", o.Stem, o.Result.NClusters(), len(o.Result.GoodClusterIdxs()), o.Result.Digest().Short())
}
