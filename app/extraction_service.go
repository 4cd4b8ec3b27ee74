package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/domain/observation"
	"megstats/domain/run"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"
)

// ExtractionConfig fixes the mesh and time axis the results refer to
type ExtractionConfig struct {
	Layout             naming.Layout
	HemisphereVertices int
	Alpha              float64
	Tmin               float64
	Tstep              float64
}

// ExtractionOutcome lists what an extraction wrote
type ExtractionOutcome struct {
	Extraction *cluster.Extraction `json:"extraction"`
	SheetPath  string              `json:"sheet_path,omitempty"`
	PlotPaths  []string            `json:"plot_paths,omitempty"`
	ReportPath string              `json:"report_path,omitempty"`
	Manifest   *run.Manifest       `json:"manifest"`
	RuntimeMs  int64               `json:"runtime_ms"`
}

// ExtractionService turns stored cluster results into reportable clusters:
// hemisphere, temporal span and per-subject time courses.
type ExtractionService struct {
	assembler *ContrastAssembler
	store     ports.ResultStore
	sheets    ports.TimeCourseWriter
	plotter   ports.ClusterPlotter
	reports   ports.ReportWriter
	ledger    ports.LedgerWriterPort
	config    ExtractionConfig
	logger    *internal.Logger
}

// NewExtractionService creates an extraction service. Any of sheets,
// plotter, reports and ledger may be nil to skip that output.
func NewExtractionService(assembler *ContrastAssembler, store ports.ResultStore, sheets ports.TimeCourseWriter,
	plotter ports.ClusterPlotter, reports ports.ReportWriter, ledger ports.LedgerWriterPort,
	config ExtractionConfig, logger *internal.Logger) *ExtractionService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if config.HemisphereVertices == 0 {
		config.HemisphereVertices = cluster.DefaultHemisphereVertices
	}
	if config.Alpha == 0 {
		config.Alpha = cluster.DefaultAlpha
	}
	return &ExtractionService{
		assembler: assembler,
		store:     store,
		sheets:    sheets,
		plotter:   plotter,
		reports:   reports,
		ledger:    ledger,
		config:    config,
		logger:    logger,
	}
}

// Extract processes the cluster result stored under stem. A result without
// significant clusters produces only the marker file and is not an error.
func (s *ExtractionService) Extract(ctx context.Context, stem string) (*ExtractionOutcome, error) {
	start := time.Now()
	parts, err := naming.ParseGroupStem(stem)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if !parts.Cluster {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%q is not a cluster stem", stem))
	}

	loaded, err := s.store.LoadResult(ctx, stem)
	if err != nil {
		return nil, err
	}
	res := *loaded
	res.Alpha = s.config.Alpha

	ex := &cluster.Extraction{
		Stem:      stem,
		Kind:      res.Kind,
		Alpha:     s.config.Alpha,
		NClusters: res.NClusters(),
	}
	if res.Obs != nil {
		samples, _ := res.Obs.Dims()
		ex.Times = cluster.SampleTimes(samples, s.config.Tmin, s.config.Tstep)
	}

	out := &ExtractionOutcome{Extraction: ex}
	good := res.GoodClusterIdxs()
	if len(good) == 0 {
		marker, err := s.store.MarkNoSignificant(ctx, stem)
		if err != nil {
			return nil, err
		}
		ex.MarkerPath = marker
		s.logger.Info("%s: no significant clusters among %d, wrote %s", stem, ex.NClusters, marker)
		out.Manifest, err = s.record(ctx, stem, &res, nil, marker)
		if err != nil {
			return nil, err
		}
		out.RuntimeMs = time.Since(start).Milliseconds()
		return out, nil
	}

	groups, err := s.groupsOf(parts.Group)
	if err != nil {
		return nil, err
	}
	conditions := s.assembler.Constituents(parts.Condition)
	if len(conditions) == 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown condition or contrast %q in %s", parts.Condition, stem))
	}
	stacks, err := s.loadStacks(ctx, groups, parts.Timepoint, conditions)
	if err != nil {
		return nil, err
	}

	for _, idx := range good {
		extract, err := s.extractCluster(&res, idx, conditions, stacks)
		if err != nil {
			return nil, apperrors.Wrapf(err, "%s cluster %d", stem, idx)
		}
		ex.Clusters = append(ex.Clusters, extract)
	}
	if ex.Times == nil && len(ex.Clusters) > 0 && len(ex.Clusters[0].TimeCourses) > 0 && len(ex.Clusters[0].TimeCourses[0].Series) > 0 {
		n := len(ex.Clusters[0].TimeCourses[0].Series[0].Values)
		ex.Times = cluster.SampleTimes(n, s.config.Tmin, s.config.Tstep)
	}

	if err := s.writeOutputs(ctx, out); err != nil {
		return nil, err
	}

	var inputs []*observation.Observation
	for _, c := range conditions {
		inputs = append(inputs, stacks[c]...)
	}
	out.Manifest, err = s.record(ctx, stem, &res, inputs, out.ReportPath)
	if err != nil {
		return nil, err
	}
	out.RuntimeMs = time.Since(start).Milliseconds()
	s.logger.Info("%s: extracted %d of %d clusters", stem, len(ex.Clusters), ex.NClusters)
	return out, nil
}

// ExtractAll extracts every stem in order, stopping at the first error
func (s *ExtractionService) ExtractAll(ctx context.Context, stems []string) ([]*ExtractionOutcome, error) {
	var outcomes []*ExtractionOutcome
	for _, stem := range stems {
		out, err := s.Extract(ctx, stem)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (s *ExtractionService) extractCluster(res *cluster.Result, idx int, conditions []core.Condition,
	stacks map[core.Condition][]*observation.Observation) (cluster.Extract, error) {
	c := res.Clusters[idx]
	vertices := c.UniqueVertices()
	hemi, local, err := cluster.SplitHemisphere(vertices, s.config.HemisphereVertices)
	if err != nil {
		return cluster.Extract{}, err
	}
	first, last := c.Span()

	extract := cluster.Extract{
		Index:          idx,
		PValue:         res.PValues[idx],
		Stat:           c.Stat,
		Size:           c.Size(),
		Hemisphere:     hemi,
		Vertices:       local,
		GlobalVertices: vertices,
		SampleStart:    first,
		SampleEnd:      last,
		TimeStart:      s.config.Tmin + float64(first)*s.config.Tstep,
		TimeEnd:        s.config.Tmin + float64(last)*s.config.Tstep,
	}
	for _, cond := range conditions {
		tc := cluster.TimeCourse{Condition: cond}
		for _, obs := range stacks[cond] {
			values, err := obs.VertexMean(vertices)
			if err != nil {
				return cluster.Extract{}, apperrors.Wrapf(err, "time course of %s %s", obs.Subject, cond)
			}
			tc.Series = append(tc.Series, cluster.SubjectSeries{Subject: obs.Subject, Group: obs.Group, Values: values})
		}
		extract.TimeCourses = append(extract.TimeCourses, tc)
	}
	return extract, nil
}

// groupsOf resolves the group field of a stem. Two-sample stems join two
// group names with a dash.
func (s *ExtractionService) groupsOf(group core.GroupName) ([]core.GroupName, error) {
	if _, err := s.assembler.GroupSize(group); err == nil {
		return []core.GroupName{group}, nil
	}
	name := string(group)
	for i := strings.Index(name, "-"); i > 0; {
		a, b := core.GroupName(name[:i]), core.GroupName(name[i+1:])
		_, errA := s.assembler.GroupSize(a)
		_, errB := s.assembler.GroupSize(b)
		if errA == nil && errB == nil {
			return []core.GroupName{a, b}, nil
		}
		next := strings.Index(name[i+1:], "-")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnknownCohort, group)
}

func (s *ExtractionService) loadStacks(ctx context.Context, groups []core.GroupName, tp core.Timepoint,
	conditions []core.Condition) (map[core.Condition][]*observation.Observation, error) {
	stacks := make(map[core.Condition][]*observation.Observation, len(conditions))
	for _, cond := range conditions {
		for _, g := range groups {
			stack, err := s.assembler.SubjectStack(ctx, g, tp, cond)
			if err != nil {
				return nil, err
			}
			stacks[cond] = append(stacks[cond], stack...)
		}
	}
	return stacks, nil
}

func (s *ExtractionService) writeOutputs(ctx context.Context, out *ExtractionOutcome) error {
	ex := out.Extraction
	layout := s.config.Layout

	if s.sheets != nil {
		out.SheetPath = layout.SheetPath(ex.Stem)
		if err := s.sheets.WriteTimeCourses(ctx, out.SheetPath, ex); err != nil {
			return err
		}
	}
	if s.plotter != nil {
		for i, c := range ex.Clusters {
			path := layout.PlotPath(ex.Stem, c.Index)
			if err := s.plotter.PlotCluster(ctx, path, ex, i); err != nil {
				return err
			}
			out.PlotPaths = append(out.PlotPaths, path)
		}
	}
	if s.reports != nil {
		out.ReportPath = layout.ReportPath(ex.Stem)
		artifacts := ports.ReportArtifacts{Sheet: out.SheetPath, Plots: out.PlotPaths}
		if err := s.reports.WriteReport(ctx, out.ReportPath, ex, artifacts); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExtractionService) record(ctx context.Context, stem string, res *cluster.Result, inputs []*observation.Observation, path string) (*run.Manifest, error) {
	subjects := make([]core.SubjectID, 0, len(inputs))
	stems := make([]string, 0, len(inputs))
	seen := make(map[core.SubjectID]bool)
	for _, o := range inputs {
		stems = append(stems, naming.SubjectStem(o.Subject, o.Timepoint, s.config.Layout.Method, o.Condition))
		if !seen[o.Subject] {
			seen[o.Subject] = true
			subjects = append(subjects, o.Subject)
		}
	}
	params := core.ComputeParamsHash(map[string]interface{}{
		"alpha":               s.config.Alpha,
		"hemisphere_vertices": s.config.HemisphereVertices,
		"tmin":                s.config.Tmin,
		"tstep":               s.config.Tstep,
	})
	if path == "" {
		path = stem
	}
	manifest := run.NewManifest(run.StageExtract, stem, res.Seed, params, core.ComputeCohortHash(subjects), stems)
	manifest.Complete(path, res.Digest(), len(res.GoodClusterIdxs()))
	if s.ledger == nil {
		return manifest, nil
	}
	if err := s.ledger.Record(ctx, manifest); err != nil {
		return nil, apperrors.Wrapf(err, "failed to record run %s", manifest.RunID)
	}
	return manifest, nil
}
