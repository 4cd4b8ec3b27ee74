package app

import (
	"context"
	"os"
	"testing"

	"megstats/adapters/excel"
	"megstats/adapters/plot"
	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/internal"
	"megstats/internal/naming"
	"megstats/internal/report"
	"megstats/internal/testkit"
	"megstats/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testHemiVertices = 3

func newExtractionService(t *testing.T, kit *testkit.TestKit, cfg testkit.SubjectGeneratorConfig, withOutputs bool) (*ExtractionService, naming.Layout) {
	t.Helper()
	layout := naming.Layout{Root: t.TempDir(), Output: t.TempDir(), Method: "dSPM"}
	assembler := NewContrastAssembler(kit.Generator.Study(), kit.Observations, cfg.Conditions, nil, internal.Nop())
	config := ExtractionConfig{
		Layout:             layout,
		HemisphereVertices: testHemiVertices,
		Alpha:              0.05,
		Tmin:               cfg.Tmin,
		Tstep:              cfg.Tstep,
	}
	if !withOutputs {
		return NewExtractionService(assembler, kit.Results, nil, nil, nil, kit.Ledger, config, internal.Nop()), layout
	}
	return NewExtractionService(assembler, kit.Results,
		excel.NewTimeCourseWriter(internal.Nop()),
		plot.NewClusterPlotter(internal.Nop()),
		report.NewWriter(internal.Nop()),
		kit.Ledger, config, internal.Nop()), layout
}

// storeResult saves a handcrafted single-cluster result over the default
// 10 samples × 6 vertices grid
func storeResult(t *testing.T, kit *testkit.TestKit, stem string, vertices []int, p float64) {
	t.Helper()
	c := cluster.Cluster{Stat: 10}
	for _, v := range vertices {
		for tm := 2; tm <= 4; tm++ {
			c.Times = append(c.Times, tm)
			c.Vertices = append(c.Vertices, v)
		}
	}
	res := &cluster.Result{
		Kind:      cluster.KindOneSample,
		Stat:      cluster.StatT,
		Seed:      42,
		Obs:       mat.NewDense(10, 6, nil),
		Clusters:  []cluster.Cluster{c},
		PValues:   []float64{p},
		H0:        []float64{10, 1, 2},
		NVertices: 6,
	}
	_, err := kit.Results.SaveResult(context.Background(), stem, res)
	require.NoError(t, err)
}

func TestExtractionService_RecoversShiftedVertex(t *testing.T) {
	kit, cfg := effectKit()
	ctx := context.Background()

	clu, err := newClusterService(kit, cfg).Run(ctx, ClusterRequest{
		Params:    oneSampleParams(),
		Group:     core.GrandAverage,
		Timepoint: core.TimepointPostMinusPre,
		Name:      "letter",
	})
	require.NoError(t, err)

	svc, layout := newExtractionService(t, kit, cfg, true)
	out, err := svc.Extract(ctx, clu.Stem)
	require.NoError(t, err)

	ex := out.Extraction
	require.True(t, ex.Significant())
	assert.Len(t, ex.Times, cfg.Samples)

	largest := ex.Clusters[0]
	for _, c := range ex.Clusters {
		assert.Equal(t, cluster.HemiLeft, c.Hemisphere)
		assert.Equal(t, []int{effectVertex}, c.Vertices)
		if c.Size > largest.Size {
			largest = c
		}
	}
	assert.Equal(t, 0, largest.SampleStart)
	assert.Equal(t, cfg.Samples-1, largest.SampleEnd)
	assert.InDelta(t, cfg.Tmin, largest.TimeStart, 1e-12)
	assert.InDelta(t, cfg.Tmin+float64(cfg.Samples-1)*cfg.Tstep, largest.TimeEnd, 1e-12)

	require.Len(t, largest.TimeCourses, 1)
	tc := largest.TimeCourses[0]
	assert.Equal(t, core.Condition("letter"), tc.Condition)
	require.Len(t, tc.Series, cfg.Subjects)
	for _, s := range tc.Series {
		require.Len(t, s.Values, cfg.Samples)
		for _, v := range s.Values {
			assert.InDelta(t, 5, v, 1)
		}
	}

	assert.Equal(t, layout.SheetPath(clu.Stem), out.SheetPath)
	assert.Equal(t, layout.ReportPath(clu.Stem), out.ReportPath)
	assert.Len(t, out.PlotPaths, len(ex.Clusters))
	for _, p := range append([]string{out.SheetPath, out.ReportPath}, out.PlotPaths...) {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	runs, err := kit.Ledger.ListRuns(ctx, ports.RunFilters{Stage: "extract"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, clu.Result.Digest(), runs[0].Digest)
	assert.Equal(t, out.ReportPath, runs[0].ResultPath)
}

func TestExtractionService_NoSignificantWritesMarker(t *testing.T) {
	kit, cfg := effectKit()
	stem := "GrandAvgN8FSAverage_post-pre_dSPM_letter_clu"
	storeResult(t, kit, stem, []int{1}, 0.5)

	svc, _ := newExtractionService(t, kit, cfg, false)
	out, err := svc.Extract(context.Background(), stem)
	require.NoError(t, err)

	assert.False(t, out.Extraction.Significant())
	assert.Equal(t, 1, out.Extraction.NClusters)
	assert.NotEmpty(t, out.Extraction.MarkerPath)
	assert.True(t, kit.Results.Marked(stem))
	assert.Zero(t, out.Manifest.Significant)
	assert.Zero(t, kit.Observations.Reads())
}

func TestExtractionService_Hemispheres(t *testing.T) {
	tests := []struct {
		name     string
		vertices []int
		hemi     cluster.Hemisphere
		local    []int
		err      error
	}{
		{"left", []int{0, 1}, cluster.HemiLeft, []int{0, 1}, nil},
		{"right", []int{4, 5}, cluster.HemiRight, []int{1, 2}, nil},
		{"straddle", []int{2, 3}, "", nil, core.ErrHemisphereStraddle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kit, cfg := effectKit()
			stem := "LowKnowledgeN4FSAverage_pre_dSPM_letter-noise_clu"
			storeResult(t, kit, stem, tt.vertices, 0.01)

			svc, _ := newExtractionService(t, kit, cfg, false)
			out, err := svc.Extract(context.Background(), stem)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Len(t, out.Extraction.Clusters, 1)
			c := out.Extraction.Clusters[0]
			assert.Equal(t, tt.hemi, c.Hemisphere)
			assert.Equal(t, tt.local, c.Vertices)
			assert.Equal(t, tt.vertices, c.GlobalVertices)
			assert.Equal(t, 2, c.SampleStart)
			assert.Equal(t, 4, c.SampleEnd)

			// a contrast reports both of its conditions for the cohort
			require.Len(t, c.TimeCourses, 2)
			assert.Equal(t, core.Condition("letter"), c.TimeCourses[0].Condition)
			assert.Equal(t, core.Condition("noise"), c.TimeCourses[1].Condition)
			assert.Len(t, c.TimeCourses[0].Series, 4)
		})
	}
}

func TestExtractionService_TwoSampleStem(t *testing.T) {
	kit, cfg := effectKit()
	stem := "LanguageIntervention-LetterInterventionN8FSAverage_post-pre_dSPM_letter_clu"
	storeResult(t, kit, stem, []int{0}, 0.01)

	svc, _ := newExtractionService(t, kit, cfg, false)
	out, err := svc.Extract(context.Background(), stem)
	require.NoError(t, err)

	series := out.Extraction.Clusters[0].TimeCourses[0].Series
	require.Len(t, series, 8)
	assert.Equal(t, core.GroupName("LanguageIntervention"), series[0].Group)
	assert.Equal(t, core.GroupName("LetterIntervention"), series[7].Group)
}

func TestExtractionService_BadStems(t *testing.T) {
	kit, cfg := effectKit()
	svc, _ := newExtractionService(t, kit, cfg, false)
	ctx := context.Background()

	_, err := svc.Extract(ctx, "GrandAvgN8FSAverage_pre_dSPM_letter")
	assert.Error(t, err)

	_, err = svc.Extract(ctx, "not-a-stem")
	assert.Error(t, err)

	_, err = svc.Extract(ctx, "GrandAvgN8FSAverage_pre_dSPM_letter_clu")
	assert.ErrorIs(t, err, core.ErrClusterResultAbsent)

	stem := "NobodyN8FSAverage_pre_dSPM_letter_clu"
	storeResult(t, kit, stem, []int{0}, 0.01)
	_, err = svc.Extract(ctx, stem)
	assert.ErrorIs(t, err, core.ErrUnknownCohort)
}
