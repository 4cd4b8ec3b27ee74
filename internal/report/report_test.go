package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"megstats/domain/cluster"
	"megstats/internal"
	"megstats/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extraction() *cluster.Extraction {
	return &cluster.Extraction{
		Stem:      "GrandAvgN2FSAverage_post-pre_dSPM_letter_clu",
		Kind:      cluster.KindOneSample,
		Alpha:     0.05,
		NClusters: 3,
		Times:     []float64{0, 0.01, 0.02},
		Clusters: []cluster.Extract{{
			Index:      1,
			PValue:     0.004,
			Stat:       42.5,
			Size:       6,
			Hemisphere: cluster.HemiLeft,
			Vertices:   []int{7, 3},
			TimeStart:  0.01,
			TimeEnd:    0.02,
			TimeCourses: []cluster.TimeCourse{{
				Condition: "letter",
				Series: []cluster.SubjectSeries{
					{Subject: "s01", Values: []float64{0, -4, 1}},
					{Subject: "s02", Values: []float64{0, -2, 1}},
				},
			}},
		}},
	}
}

func TestMarkdown(t *testing.T) {
	md := string(Markdown(extraction(), ports.ReportArtifacts{Sheet: "x_timecourses.xlsx", Plots: []string{"x_cluster01.png"}}))

	assert.True(t, strings.HasPrefix(md, "# GrandAvgN2FSAverage_post-pre_dSPM_letter_clu\n"))
	assert.Contains(t, md, "- clusters found: 3")
	assert.Contains(t, md, "- significant at alpha 0.05: 1")
	assert.Contains(t, md, "| 1 | lh | 2 | 6 | 0.010 | 0.020 | 0.0040 | 42.50 |")
	assert.Contains(t, md, "lh vertices: 3, 7")
	assert.Contains(t, md, "- letter: 2 subjects, mean peak -3 at 0.010 s")
	assert.Contains(t, md, "![cluster 1](x_cluster01.png)")
}

func TestMarkdown_NoSignificant(t *testing.T) {
	ex := extraction()
	ex.Clusters = nil
	md := string(Markdown(ex, ports.ReportArtifacts{}))
	assert.Contains(t, md, "No cluster survived correction.")
	assert.NotContains(t, md, "| cluster |")
}

func TestHTML(t *testing.T) {
	out := string(HTML(Markdown(extraction(), ports.ReportArtifacts{})))
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<table>")
}

func TestWriteReport_RelativeLinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "r.md")
	w := NewWriter(internal.Nop())
	err := w.WriteReport(context.Background(), path, extraction(), ports.ReportArtifacts{
		Sheet: filepath.Join(dir, "reports", "r_timecourses.xlsx"),
		Plots: []string{filepath.Join(dir, "plots", "r_cluster01.png")},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "(r_timecourses.xlsx)")
	assert.Contains(t, string(raw), "(../plots/r_cluster01.png)")
}
