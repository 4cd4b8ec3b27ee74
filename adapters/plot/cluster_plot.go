// Package plot renders cluster time courses as PNG figures.
package plot

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"megstats/domain/cluster"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Size of the rendered figure
const (
	Width  = 8 * vg.Inch
	Height = 4 * vg.Inch
)

var traceAlpha = uint8(70)

// ClusterPlotter draws each condition's group mean over faint subject
// traces and shades the cluster's temporal extent.
type ClusterPlotter struct {
	logger *internal.Logger
}

var _ ports.ClusterPlotter = (*ClusterPlotter)(nil)

// NewClusterPlotter creates a plotter
func NewClusterPlotter(logger *internal.Logger) *ClusterPlotter {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ClusterPlotter{logger: logger}
}

// PlotCluster renders ex.Clusters[i] to path
func (p *ClusterPlotter) PlotCluster(ctx context.Context, path string, ex *cluster.Extraction, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i < 0 || i >= len(ex.Clusters) {
		return apperrors.InvalidInput(fmt.Sprintf("cluster %d out of range [0,%d)", i, len(ex.Clusters)))
	}
	c := ex.Clusters[i]

	fig := plot.New()
	fig.Title.Text = fmt.Sprintf("%s cluster %d (%s, p=%.4f)", ex.Stem, c.Index, c.Hemisphere, c.PValue)
	fig.X.Label.Text = "time (s)"
	fig.Y.Label.Text = "amplitude"
	fig.Add(plotter.NewGrid())

	lo, hi := seriesRange(c)
	if span, err := spanBox(c.TimeStart, c.TimeEnd, lo, hi); err == nil {
		fig.Add(span)
	}

	for ci, tc := range c.TimeCourses {
		base := plotutil.Color(ci)
		faint := fade(base)
		for _, s := range tc.Series {
			line, err := plotter.NewLine(xys(ex.Times, s.Values))
			if err != nil {
				return apperrors.Wrapf(err, "failed to plot %s %s", tc.Condition, s.Subject)
			}
			line.Color = faint
			line.Width = vg.Points(0.5)
			fig.Add(line)
		}
		mean, err := plotter.NewLine(xys(ex.Times, tc.Mean()))
		if err != nil {
			return apperrors.Wrapf(err, "failed to plot %s mean", tc.Condition)
		}
		mean.Color = base
		mean.Width = vg.Points(2)
		fig.Add(mean)
		fig.Legend.Add(string(tc.Condition), mean)
	}
	fig.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.StorageError(path, err)
	}
	if err := fig.Save(Width, Height, path); err != nil {
		return apperrors.StorageError(path, err)
	}
	p.logger.Debug("plotted cluster %d of %s to %s", c.Index, ex.Stem, path)
	return nil
}

func xys(times, values []float64) plotter.XYs {
	n := len(times)
	if len(values) < n {
		n = len(values)
	}
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = times[i]
		pts[i].Y = values[i]
	}
	return pts
}

func fade(c color.Color) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: traceAlpha}
}

func seriesRange(c cluster.Extract) (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, tc := range c.TimeCourses {
		for _, s := range tc.Series {
			for _, v := range s.Values {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
		}
	}
	return lo, hi
}

// spanBox outlines the cluster's temporal extent as a closed polygon
func spanBox(start, end, lo, hi float64) (*plotter.Polygon, error) {
	poly, err := plotter.NewPolygon(plotter.XYs{{X: start, Y: lo}, {X: end, Y: lo}, {X: end, Y: hi}, {X: start, Y: hi}})
	if err != nil {
		return nil, err
	}
	poly.Color = color.NRGBA{R: 200, G: 200, B: 200, A: 90}
	poly.LineStyle.Width = 0
	return poly, nil
}
