package npy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/internal/naming"
	"megstats/ports"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// Archive keys
const (
	KeyClusters        = "clusters"
	KeyTVals           = "tvals"
	KeyFObs            = "f_obs"
	KeyPVals           = "pvals"
	KeyHZero           = "hzero"
	KeyGoodClusterIdxs = "good_cluster_idxs"
	KeyNClusters       = "n_clusters"
)

// ResultStore writes cluster results as .npz archives under the layout's
// output directory.
type ResultStore struct {
	layout naming.Layout
	logger *internal.Logger
}

var _ ports.ResultStore = (*ResultStore)(nil)

// NewResultStore creates a result store
func NewResultStore(layout naming.Layout, logger *internal.Logger) *ResultStore {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ResultStore{layout: layout, logger: logger}
}

// SaveResult writes res to {output}/{stem}.npz. The clusters table has one
// (cluster, time, vertex) row per point, stored row-major as a flat int64
// array since npyio writes slices one-dimensionally.
func (s *ResultStore) SaveResult(ctx context.Context, stem string, res *cluster.Result) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.layout.ClusterPath(stem)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperrors.StorageError(path, err)
	}

	table := make([]int64, 0)
	for ci, c := range res.Clusters {
		for i := range c.Times {
			table = append(table, int64(ci), int64(c.Times[i]), int64(c.Vertices[i]))
		}
	}
	good := make([]int64, 0)
	for _, idx := range res.GoodClusterIdxs() {
		good = append(good, int64(idx))
	}

	w, err := npz.Create(path)
	if err != nil {
		return "", apperrors.StorageError(path, err)
	}
	entries := []struct {
		key string
		val interface{}
	}{
		{KeyClusters, table},
		{res.ObsKey(), res.Obs},
		{KeyPVals, append([]float64{}, res.PValues...)},
		{KeyHZero, append([]float64{}, res.H0...)},
		{KeyGoodClusterIdxs, good},
		{KeyNClusters, []int64{int64(res.NClusters())}},
	}
	for _, e := range entries {
		if err := w.Write(e.key, e.val); err != nil {
			w.Close()
			return "", apperrors.StorageError(path, fmt.Errorf("write %s: %w", e.key, err))
		}
	}
	if err := w.Close(); err != nil {
		return "", apperrors.StorageError(path, err)
	}
	s.logger.Info("saved cluster result %s (%d clusters, %d significant)", path, res.NClusters(), len(good))
	return path, nil
}

// LoadResult reads {output}/{stem}.npz. Every key must be present. The
// archive does not carry cluster statistics, so each cluster's Stat is
// recomputed as the sum of the observed map over its points.
func (s *ResultStore) LoadResult(ctx context.Context, stem string) (*cluster.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.layout.ClusterPath(stem)
	r, err := npz.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrClusterResultAbsent, path)
		}
		return nil, apperrors.StorageError(path, err)
	}
	defer r.Close()

	keys := r.Keys()
	res := &cluster.Result{Kind: kindOf(stem), Stat: cluster.StatT, Alpha: cluster.DefaultAlpha}
	obsKey := KeyTVals
	if _, ok := findKey(keys, KeyFObs); ok {
		obsKey = KeyFObs
		res.Kind = cluster.KindTwoSample
		res.Stat = cluster.StatF
	}

	read := func(name string, ptr interface{}) error {
		key, ok := findKey(keys, name)
		if !ok {
			return apperrors.DataIntegrity(fmt.Sprintf("%s: missing key %q", path, name), nil)
		}
		if err := r.Read(key, ptr); err != nil {
			return apperrors.StorageError(path, fmt.Errorf("read %s: %w", name, err))
		}
		return nil
	}

	var (
		table   []int64
		good    []int64
		nClu    []int64
		obs     mat.Dense
		pvals   []float64
		hzero   []float64
		targets = []struct {
			key string
			ptr interface{}
		}{
			{KeyClusters, &table},
			{obsKey, &obs},
			{KeyPVals, &pvals},
			{KeyHZero, &hzero},
			{KeyGoodClusterIdxs, &good},
			{KeyNClusters, &nClu},
		}
	)
	for _, t := range targets {
		if err := read(t.key, t.ptr); err != nil {
			return nil, err
		}
	}

	if len(nClu) != 1 || int(nClu[0]) != len(pvals) {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: n_clusters %v disagrees with %d p-values", path, nClu, len(pvals)), nil)
	}
	if len(table)%3 != 0 {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: clusters table has %d cells, not a multiple of 3", path, len(table)), nil)
	}

	res.Obs = &obs
	nT, nV := obs.Dims()
	res.NVertices = nV
	res.PValues = pvals
	res.H0 = hzero
	res.Clusters = make([]cluster.Cluster, len(pvals))
	for i := 0; i < len(table); i += 3 {
		ci, t, v := int(table[i]), int(table[i+1]), int(table[i+2])
		if ci < 0 || ci >= len(res.Clusters) || t < 0 || t >= nT || v < 0 || v >= nV {
			return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: cluster point (%d,%d,%d) out of range", path, ci, t, v), nil)
		}
		c := &res.Clusters[ci]
		c.Times = append(c.Times, t)
		c.Vertices = append(c.Vertices, v)
		c.Stat += obs.At(t, v)
	}
	for i := range res.Clusters {
		sortPoints(&res.Clusters[i])
	}
	s.logger.Debug("loaded cluster result %s (%d clusters)", path, res.NClusters())
	return res, nil
}

// MarkNoSignificant writes the no-significant-cluster marker for stem
func (s *ResultStore) MarkNoSignificant(ctx context.Context, stem string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.layout.MarkerPath(stem)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperrors.StorageError(path, err)
	}
	msg := fmt.Sprintf("no significant clusters for %s\n", stem)
	if err := os.WriteFile(path, []byte(msg), 0o644); err != nil {
		return "", apperrors.StorageError(path, err)
	}
	s.logger.Info("no significant clusters for %s, wrote %s", stem, path)
	return path, nil
}

// kindOf recovers the test kind from the stem, since the archive does not
// store it. An F statistic overrides this to two-sample.
func kindOf(stem string) cluster.Kind {
	if parts, err := naming.ParseGroupStem(stem); err == nil && parts.TwoSample() {
		return cluster.KindTwoSample
	}
	return cluster.KindOneSample
}

// findKey matches an array name against archive keys with or without the
// .npy suffix.
func findKey(keys []string, name string) (string, bool) {
	for _, k := range keys {
		if strings.TrimSuffix(k, ".npy") == name {
			return k, true
		}
	}
	return "", false
}

func sortPoints(c *cluster.Cluster) {
	idx := make([]int, len(c.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if c.Times[ia] != c.Times[ib] {
			return c.Times[ia] < c.Times[ib]
		}
		return c.Vertices[ia] < c.Vertices[ib]
	})
	times := make([]int, len(idx))
	verts := make([]int, len(idx))
	for i, j := range idx {
		times[i] = c.Times[j]
		verts[i] = c.Vertices[j]
	}
	c.Times, c.Vertices = times, verts
}
