package clusterstat

import (
	"math"

	"megstats/domain/cluster"

	"gonum.org/v1/gonum/mat"
)

// maxTFCESteps bounds the enhancement ramp when a statistic is huge
const maxTFCESteps = 10000

// tfceStep picks the threshold increment for a test from its observed map.
// The configured step is widened when the observed peak would need more
// than maxTFCESteps increments. Every permutation map reuses the result so
// that observed and null scores share one threshold grid.
func tfceStep(observed *mat.Dense, cfg cluster.TFCE, tail cluster.Tail) float64 {
	top := 0.0
	for _, sign := range signsFor(tail) {
		if t := peak(observed, sign); t > top {
			top = t
		}
	}
	if (top-cfg.Start)/cfg.Step > maxTFCESteps {
		return (top - cfg.Start) / maxTFCESteps
	}
	return cfg.Step
}

// peak is the largest finite value of sign*statMap, or 0
func peak(statMap *mat.Dense, sign float64) float64 {
	nT, nV := statMap.Dims()
	top := 0.0
	for t := 0; t < nT; t++ {
		for v := 0; v < nV; v++ {
			x := sign * statMap.At(t, v)
			if !math.IsInf(x, 0) && x > top {
				top = x
			}
		}
	}
	return top
}

// tfceScores integrates cluster extent over thresholds spaced step apart,
// for each sign of the tail. Positive-sign scores are positive,
// negative-sign scores negative; a point is scored by whichever sign it
// exceeds.
func tfceScores(statMap *mat.Dense, adj *Adjacency, cfg cluster.TFCE, step float64, tail cluster.Tail) *mat.Dense {
	nT, nV := statMap.Dims()
	scores := mat.NewDense(nT, nV, nil)

	for _, sign := range signsFor(tail) {
		top := peak(statMap, sign)
		for h := cfg.Start; h < top; h += step {
			for _, c := range findClusters(statMap, adj, h, sign) {
				gain := math.Pow(float64(c.Size()), cfg.E) * math.Pow(h, cfg.H) * step
				for i := range c.Times {
					scores.Set(c.Times[i], c.Vertices[i], scores.At(c.Times[i], c.Vertices[i])+sign*gain)
				}
			}
		}
	}
	return scores
}

// tfceClusters turns every scored point into a single-point cluster whose
// statistic is its enhanced score.
func tfceClusters(scores *mat.Dense) []cluster.Cluster {
	nT, nV := scores.Dims()
	var out []cluster.Cluster
	for t := 0; t < nT; t++ {
		for v := 0; v < nV; v++ {
			if s := scores.At(t, v); s != 0 {
				out = append(out, cluster.Cluster{Times: []int{t}, Vertices: []int{v}, Stat: s})
			}
		}
	}
	return out
}

// tfceExtremum reduces a score map to its null-distribution value
func tfceExtremum(scores *mat.Dense, tail cluster.Tail) float64 {
	return extremum(scores.RawMatrix().Data, tail)
}
