// Package rejection picks a peak-to-peak epoch rejection threshold by
// cross-validated grid search.
//
// Each epoch is a channels × samples matrix. For a candidate threshold and
// each of K contiguous folds, the training epochs whose peak-to-peak
// amplitude stays below the threshold are averaged and compared with the
// elementwise median of the held-out fold. The candidate's score is the
// mean RMSE over folds; the lowest score wins.
package rejection

import (
	"context"
	"fmt"
	"math"
	"sort"

	"megstats/domain/core"
	apperrors "megstats/internal/errors"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Infeasible is the score of a threshold that rejects every training
// epoch in some fold, and the threshold returned when no candidate works.
const Infeasible = -1.0

// DefaultFolds is the K used when none is configured
const DefaultFolds = 5

// Config controls the search
type Config struct {
	Thresholds []float64 `json:"thresholds"`
	Folds      int       `json:"folds"`
	Workers    int       `json:"workers"`
}

// Candidate is one scored threshold
type Candidate struct {
	Threshold float64 `json:"threshold"`
	Score     float64 `json:"score"`
	Kept      int     `json:"kept"`
}

// Feasible reports whether the threshold kept training epochs in every fold
func (c Candidate) Feasible() bool { return c.Score != Infeasible }

// Result is the outcome of a grid search. Best is Infeasible when no
// candidate threshold was feasible.
type Result struct {
	Best       float64     `json:"best"`
	BestScore  float64     `json:"best_score"`
	Candidates []Candidate `json:"candidates"`
}

// PeakToPeak returns the largest max-min range over the epoch's channels
func PeakToPeak(epoch *mat.Dense) float64 {
	rows, _ := epoch.Dims()
	ptp := 0.0
	for i := 0; i < rows; i++ {
		row := epoch.RawRowView(i)
		if r := floats.Max(row) - floats.Min(row); r > ptp {
			ptp = r
		}
	}
	return ptp
}

// Folds splits n indices into k contiguous folds whose sizes differ by at
// most one, larger folds first.
func Folds(n, k int) [][]int {
	folds := make([][]int, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		for i := start; i < start+size; i++ {
			folds[f] = append(folds[f], i)
		}
		start += size
	}
	return folds
}

// Score is the RMSE between the mean of the training epochs under
// threshold and the elementwise median of the test epochs. It returns
// Infeasible when no training epoch survives.
func Score(train, test []*mat.Dense, threshold float64) (float64, int) {
	var kept []*mat.Dense
	for _, e := range train {
		if PeakToPeak(e) < threshold {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 || len(test) == 0 {
		return Infeasible, 0
	}

	rows, cols := kept[0].Dims()
	mean := mat.NewDense(rows, cols, nil)
	for _, e := range kept {
		mean.Add(mean, e)
	}
	mean.Scale(1/float64(len(kept)), mean)

	column := make([]float64, len(test))
	var sq float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			for k, e := range test {
				column[k] = e.At(i, j)
			}
			median, err := stats.Median(column)
			if err != nil {
				return Infeasible, 0
			}
			d := mean.At(i, j) - median
			sq += d * d
		}
	}
	return math.Sqrt(sq / float64(rows*cols)), len(kept)
}

// GridSearch scores every threshold and returns the best feasible one.
// Ties go to the smaller threshold.
func GridSearch(ctx context.Context, epochs []*mat.Dense, cfg Config) (*Result, error) {
	if len(cfg.Thresholds) == 0 {
		return nil, apperrors.InvalidInput("no candidate thresholds")
	}
	k := cfg.Folds
	if k == 0 {
		k = DefaultFolds
	}
	if k < 2 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("need at least 2 folds, got %d", k))
	}
	if len(epochs) < k {
		return nil, fmt.Errorf("%w: %d epochs for %d folds", core.ErrInsufficientData, len(epochs), k)
	}
	rows, cols := epochs[0].Dims()
	for i, e := range epochs {
		if r, c := e.Dims(); r != rows || c != cols {
			return nil, core.NewShapeError(fmt.Sprintf("epoch %d", i), rows, cols, r, c)
		}
	}

	thresholds := append([]float64(nil), cfg.Thresholds...)
	sort.Float64s(thresholds)
	folds := Folds(len(epochs), k)
	candidates := make([]Candidate, len(thresholds))

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for ti, threshold := range thresholds {
		ti, threshold := ti, threshold
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[ti] = evaluate(epochs, folds, threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Best: Infeasible, BestScore: Infeasible, Candidates: candidates}
	for _, c := range candidates {
		if !c.Feasible() {
			continue
		}
		if res.BestScore == Infeasible || c.Score < res.BestScore {
			res.Best, res.BestScore = c.Threshold, c.Score
		}
	}
	return res, nil
}

func evaluate(epochs []*mat.Dense, folds [][]int, threshold float64) Candidate {
	c := Candidate{Threshold: threshold}
	var total float64
	for f, testIdx := range folds {
		var train, test []*mat.Dense
		for _, i := range testIdx {
			test = append(test, epochs[i])
		}
		for g, idx := range folds {
			if g == f {
				continue
			}
			for _, i := range idx {
				train = append(train, epochs[i])
			}
		}
		score, kept := Score(train, test, threshold)
		if score == Infeasible {
			c.Score, c.Kept = Infeasible, 0
			return c
		}
		total += score
		c.Kept += kept
	}
	c.Score = total / float64(len(folds))
	return c
}
