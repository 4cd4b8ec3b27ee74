// Package report renders cluster extractions as markdown and HTML.
package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"megstats/domain/cluster"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Writer writes markdown reports next to the other extraction outputs
type Writer struct {
	logger *internal.Logger
}

var _ ports.ReportWriter = (*Writer)(nil)

// NewWriter creates a report writer
func NewWriter(logger *internal.Logger) *Writer {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Writer{logger: logger}
}

// WriteReport renders ex to path as markdown. Artifact links are made
// relative to the report's directory.
func (w *Writer) WriteReport(ctx context.Context, path string, ex *cluster.Extraction, artifacts ports.ReportArtifacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.StorageError(path, err)
	}
	md := Markdown(ex, relative(filepath.Dir(path), artifacts))
	if err := os.WriteFile(path, md, 0o644); err != nil {
		return apperrors.StorageError(path, err)
	}
	w.logger.Debug("wrote report %s", path)
	return nil
}

func relative(dir string, a ports.ReportArtifacts) ports.ReportArtifacts {
	rel := func(p string) string {
		if p == "" {
			return ""
		}
		if r, err := filepath.Rel(dir, p); err == nil {
			return filepath.ToSlash(r)
		}
		return p
	}
	out := ports.ReportArtifacts{Sheet: rel(a.Sheet)}
	for _, p := range a.Plots {
		out.Plots = append(out.Plots, rel(p))
	}
	return out
}

// Markdown renders the extraction summary
func Markdown(ex *cluster.Extraction, artifacts ports.ReportArtifacts) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", ex.Stem)
	fmt.Fprintf(&b, "- test: %s\n", ex.Kind)
	fmt.Fprintf(&b, "- clusters found: %d\n", ex.NClusters)
	fmt.Fprintf(&b, "- significant at alpha %g: %d\n", ex.Alpha, len(ex.Clusters))
	if artifacts.Sheet != "" {
		fmt.Fprintf(&b, "- time courses: [%s](%s)\n", filepath.Base(artifacts.Sheet), artifacts.Sheet)
	}
	b.WriteString("\n")

	if !ex.Significant() {
		b.WriteString("No cluster survived correction.\n")
		return b.Bytes()
	}

	b.WriteString("| cluster | hemisphere | vertices | points | start (s) | end (s) | p | stat |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, c := range ex.Clusters {
		fmt.Fprintf(&b, "| %d | %s | %d | %d | %.3f | %.3f | %.4f | %.2f |\n",
			c.Index, c.Hemisphere, len(c.Vertices), c.Size, c.TimeStart, c.TimeEnd, c.PValue, c.Stat)
	}

	for i, c := range ex.Clusters {
		fmt.Fprintf(&b, "\n## Cluster %d\n\n", c.Index)
		fmt.Fprintf(&b, "%s vertices: %s\n\n", c.Hemisphere, vertexList(c.Vertices, 12))
		for _, tc := range c.TimeCourses {
			peakT, peak := peakOf(ex.Times, tc.Mean())
			fmt.Fprintf(&b, "- %s: %d subjects, mean peak %.3g at %.3f s\n", tc.Condition, len(tc.Series), peak, peakT)
		}
		if i < len(artifacts.Plots) && artifacts.Plots[i] != "" {
			fmt.Fprintf(&b, "\n![cluster %d](%s)\n", c.Index, artifacts.Plots[i])
		}
	}
	return b.Bytes()
}

// HTML converts markdown to an HTML fragment
func HTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.Render(doc, renderer)
}

func vertexList(vertices []int, limit int) string {
	sorted := append([]int(nil), vertices...)
	sort.Ints(sorted)
	var b bytes.Buffer
	for i, v := range sorted {
		if i == limit {
			fmt.Fprintf(&b, " … (+%d)", len(sorted)-limit)
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", v)
	}
	return b.String()
}

func peakOf(times, values []float64) (float64, float64) {
	best, bestT := 0.0, 0.0
	for i, v := range values {
		if i >= len(times) {
			break
		}
		if i == 0 || abs(v) > abs(best) {
			best, bestT = v, times[i]
		}
	}
	return bestT, best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
