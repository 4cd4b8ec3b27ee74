package clusterstat

import (
	"math"

	"megstats/domain/cluster"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// moments returns the mean and the sum of squared deviations of the
// signed/selected subject arrays. signs may be nil (all +1).
func moments(xs []*mat.Dense, idx []int, signs []float64) (*mat.Dense, *mat.Dense) {
	r, c := xs[idx[0]].Dims()
	mean := mat.NewDense(r, c, nil)
	scaled := mat.NewDense(r, c, nil)
	for k, i := range idx {
		s := 1.0
		if signs != nil {
			s = signs[k]
		}
		scaled.Scale(s, xs[i])
		mean.Add(mean, scaled)
	}
	mean.Scale(1/float64(len(idx)), mean)

	ss := mat.NewDense(r, c, nil)
	dev := mat.NewDense(r, c, nil)
	for k, i := range idx {
		s := 1.0
		if signs != nil {
			s = signs[k]
		}
		dev.Scale(s, xs[i])
		dev.Sub(dev, mean)
		dev.MulElem(dev, dev)
		ss.Add(ss, dev)
	}
	return mean, ss
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// ratio divides num by den elementwise with the conventions 0/0 = 0 and
// x/0 = ±Inf.
func ratio(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return 0
		}
		return math.Copysign(math.Inf(1), num)
	}
	return num / den
}

// oneSampleT computes the one-sample t statistic against zero for sign-
// flipped subjects.
func oneSampleT(xs []*mat.Dense, signs []float64) *mat.Dense {
	n := float64(len(xs))
	mean, ss := moments(xs, identity(len(xs)), signs)
	r, c := mean.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, m float64) float64 {
		sd := math.Sqrt(ss.At(i, j) / (n - 1))
		return ratio(m, sd/math.Sqrt(n))
	}, mean)
	return out
}

// twoSample computes the pooled-variance t (A minus B) or the one-way F for
// the subjects assigned to each group by perm: perm[:nA] are group A.
func twoSample(xs []*mat.Dense, nA int, perm []int, which cluster.Stat) *mat.Dense {
	idxA, idxB := perm[:nA], perm[nA:]
	na, nb := float64(len(idxA)), float64(len(idxB))
	meanA, ssA := moments(xs, idxA, nil)
	meanB, ssB := moments(xs, idxB, nil)
	df := na + nb - 2

	r, c := meanA.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		ma, mb := meanA.At(i, j), meanB.At(i, j)
		within := (ssA.At(i, j) + ssB.At(i, j)) / df
		if which == cluster.StatF {
			grand := (na*ma + nb*mb) / (na + nb)
			between := na*(ma-grand)*(ma-grand) + nb*(mb-grand)*(mb-grand)
			return ratio(between, within)
		}
		return ratio(ma-mb, math.Sqrt(within*(1/na+1/nb)))
	}, out)
	return out
}

// defaultThreshold is the parametric cutoff corresponding to p=0.05 for the
// test's tail and degrees of freedom.
func defaultThreshold(p cluster.Params, nA, nB int) float64 {
	const pThresh = 0.05
	if p.Kind == cluster.KindTwoSample && p.Stat == cluster.StatF {
		f := distuv.F{D1: 1, D2: float64(nA + nB - 2)}
		return f.Quantile(1 - pThresh)
	}
	df := float64(nA - 1)
	if p.Kind == cluster.KindTwoSample {
		df = float64(nA + nB - 2)
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	if p.Tail == cluster.TailBoth {
		return t.Quantile(1 - pThresh/2)
	}
	return t.Quantile(1 - pThresh)
}
