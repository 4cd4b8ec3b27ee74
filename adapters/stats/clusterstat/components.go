package clusterstat

import (
	"math"
	"sort"

	"megstats/domain/cluster"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"
)

// findClusters returns the connected supra-threshold regions of statMap for
// one sign. A point (t,v) is supra-threshold when sign*stat > thresh; points
// connect to mesh neighbours at the same sample and to the same vertex at
// the adjacent samples. Clusters come back ordered by their first point so
// repeated calls are identical.
func findClusters(statMap *mat.Dense, adj *Adjacency, thresh float64, sign float64) []cluster.Cluster {
	nT, nV := statMap.Dims()
	above := func(t, v int) bool {
		return sign*statMap.At(t, v) > thresh
	}
	id := func(t, v int) int64 { return int64(t*nV + v) }

	g := simple.NewUndirectedGraph()
	for t := 0; t < nT; t++ {
		for v := 0; v < nV; v++ {
			if !above(t, v) {
				continue
			}
			if g.Node(id(t, v)) == nil {
				g.AddNode(simple.Node(id(t, v)))
			}
			for _, u := range adj.Neighbors(v) {
				if u > v && above(t, u) {
					g.SetEdge(g.NewEdge(simple.Node(id(t, v)), simple.Node(id(t, u))))
				}
			}
			if t+1 < nT && above(t+1, v) {
				g.SetEdge(g.NewEdge(simple.Node(id(t, v)), simple.Node(id(t+1, v))))
			}
		}
	}
	if g.Nodes().Len() == 0 {
		return nil
	}

	comps := topo.ConnectedComponents(g)
	clusters := make([]cluster.Cluster, 0, len(comps))
	for _, comp := range comps {
		clusters = append(clusters, toCluster(comp, statMap, nV))
	}
	sort.Slice(clusters, func(i, j int) bool {
		ti, tj := clusters[i].Times[0], clusters[j].Times[0]
		if ti != tj {
			return ti < tj
		}
		return clusters[i].Vertices[0] < clusters[j].Vertices[0]
	})
	return clusters
}

func toCluster(comp []graph.Node, statMap *mat.Dense, nV int) cluster.Cluster {
	ids := make([]int, len(comp))
	for i, n := range comp {
		ids[i] = int(n.ID())
	}
	sort.Ints(ids)
	c := cluster.Cluster{
		Times:    make([]int, len(ids)),
		Vertices: make([]int, len(ids)),
	}
	for i, pid := range ids {
		t, v := pid/nV, pid%nV
		c.Times[i] = t
		c.Vertices[i] = v
		c.Stat += statMap.At(t, v)
	}
	return c
}

// signsFor lists the cluster signs a tail inspects
func signsFor(tail cluster.Tail) []float64 {
	switch tail {
	case cluster.TailUpper:
		return []float64{1}
	case cluster.TailLower:
		return []float64{-1}
	default:
		return []float64{1, -1}
	}
}

// clustersForTail runs findClusters for every sign the tail looks at
func clustersForTail(statMap *mat.Dense, adj *Adjacency, thresh float64, tail cluster.Tail) []cluster.Cluster {
	var out []cluster.Cluster
	for _, s := range signsFor(tail) {
		out = append(out, findClusters(statMap, adj, thresh, s)...)
	}
	return out
}

// extremum reduces cluster statistics to the single value recorded in the
// null distribution for one permutation. No cluster contributes 0.
func extremum(stats []float64, tail cluster.Tail) float64 {
	best := 0.0
	for _, s := range stats {
		switch tail {
		case cluster.TailUpper:
			best = math.Max(best, s)
		case cluster.TailLower:
			best = math.Min(best, s)
		default:
			best = math.Max(best, math.Abs(s))
		}
	}
	return best
}

// pValue is the fraction of the null at least as extreme as obs; the
// identity permutation is part of the null so p is never 0.
func pValue(obs float64, h0 []float64, tail cluster.Tail) float64 {
	count := 0
	for _, h := range h0 {
		switch tail {
		case cluster.TailUpper:
			if h >= obs {
				count++
			}
		case cluster.TailLower:
			if h <= obs {
				count++
			}
		default:
			if math.Abs(h) >= math.Abs(obs) {
				count++
			}
		}
	}
	return float64(count) / float64(len(h0))
}
