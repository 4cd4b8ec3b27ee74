package clusterstat

import (
	"fmt"
	"sort"

	"megstats/domain/core"

	"gonum.org/v1/gonum/graph/simple"
)

// Adjacency is the vertex neighbourhood graph of the cortical mesh. The
// graph is kept for construction and restriction; neighbour lists are
// materialised once because the cluster search walks them for every
// permutation.
type Adjacency struct {
	n         int
	g         *simple.UndirectedGraph
	neighbors [][]int
}

// NewAdjacency builds an adjacency over n vertices from an undirected edge
// list. Self loops are ignored.
func NewAdjacency(n int, edges [][2]int) (*Adjacency, error) {
	g := simple.NewUndirectedGraph()
	for v := 0; v < n; v++ {
		g.AddNode(simple.Node(v))
	}
	for _, e := range edges {
		a, b := e[0], e[1]
		if a < 0 || a >= n || b < 0 || b >= n {
			return nil, fmt.Errorf("%w: edge (%d,%d) outside [0,%d)", core.ErrAdjacencyMismatch, a, b, n)
		}
		if a == b {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(a), simple.Node(b)))
	}
	return fromGraph(n, g), nil
}

// FromTriangles builds the adjacency of a triangulated surface: every pair
// of vertices sharing a triangle is connected.
func FromTriangles(n int, tris [][3]int) (*Adjacency, error) {
	edges := make([][2]int, 0, len(tris)*3)
	for _, t := range tris {
		edges = append(edges, [2]int{t[0], t[1]}, [2]int{t[1], t[2]}, [2]int{t[0], t[2]})
	}
	return NewAdjacency(n, edges)
}

// Chain builds a 1-D line adjacency (v connected to v±1), the natural
// neighbourhood of frequency bins or a synthetic strip of vertices.
func Chain(n int) *Adjacency {
	edges := make([][2]int, 0, n)
	for v := 0; v+1 < n; v++ {
		edges = append(edges, [2]int{v, v + 1})
	}
	adj, _ := NewAdjacency(n, edges)
	return adj
}

// Concat places two hemispheres side by side: rh vertex v becomes lh.N()+v
// and no edge crosses the hemispheres.
func Concat(lh, rh *Adjacency) *Adjacency {
	n := lh.n + rh.n
	edges := make([][2]int, 0)
	for v := 0; v < lh.n; v++ {
		for _, u := range lh.neighbors[v] {
			if u > v {
				edges = append(edges, [2]int{v, u})
			}
		}
	}
	for v := 0; v < rh.n; v++ {
		for _, u := range rh.neighbors[v] {
			if u > v {
				edges = append(edges, [2]int{lh.n + v, lh.n + u})
			}
		}
	}
	adj, _ := NewAdjacency(n, edges)
	return adj
}

func fromGraph(n int, g *simple.UndirectedGraph) *Adjacency {
	neighbors := make([][]int, n)
	for v := 0; v < n; v++ {
		it := g.From(int64(v))
		for it.Next() {
			neighbors[v] = append(neighbors[v], int(it.Node().ID()))
		}
		sort.Ints(neighbors[v])
	}
	return &Adjacency{n: n, g: g, neighbors: neighbors}
}

// N returns the number of vertices
func (a *Adjacency) N() int { return a.n }

// Neighbors returns the sorted neighbours of v
func (a *Adjacency) Neighbors(v int) []int { return a.neighbors[v] }

// Edges returns the number of undirected edges
func (a *Adjacency) Edges() int { return a.g.Edges().Len() }

// Restrict keeps only the listed vertices (sorted, original numbering) and
// renumbers them 0..len(keep)-1. Edges to dropped vertices disappear.
func (a *Adjacency) Restrict(keep []int) (*Adjacency, error) {
	index := make(map[int]int, len(keep))
	for i, v := range keep {
		if v < 0 || v >= a.n {
			return nil, fmt.Errorf("%w: vertex %d outside [0,%d)", core.ErrAdjacencyMismatch, v, a.n)
		}
		index[v] = i
	}
	var edges [][2]int
	for i, v := range keep {
		for _, u := range a.neighbors[v] {
			if j, ok := index[u]; ok && j > i {
				edges = append(edges, [2]int{i, j})
			}
		}
	}
	return NewAdjacency(len(keep), edges)
}

// keptVertices resolves include/exclude lists against n vertices. An empty
// include means every vertex.
func keptVertices(n int, include, exclude []int) ([]int, error) {
	drop := make(map[int]bool, len(exclude))
	for _, v := range exclude {
		if v < 0 || v >= n {
			return nil, fmt.Errorf("%w: excluded vertex %d outside [0,%d)", core.ErrAdjacencyMismatch, v, n)
		}
		drop[v] = true
	}
	var keep []int
	if len(include) == 0 {
		for v := 0; v < n; v++ {
			if !drop[v] {
				keep = append(keep, v)
			}
		}
	} else {
		seen := make(map[int]bool, len(include))
		for _, v := range include {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("%w: included vertex %d outside [0,%d)", core.ErrAdjacencyMismatch, v, n)
			}
			if !drop[v] && !seen[v] {
				seen[v] = true
				keep = append(keep, v)
			}
		}
		sort.Ints(keep)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: spatial restriction leaves no vertices", core.ErrInsufficientData)
	}
	return keep, nil
}
