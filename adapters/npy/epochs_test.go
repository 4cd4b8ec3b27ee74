package npy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"megstats/domain/core"
	"megstats/internal"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestEpochReader_TwoDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epochs.npy")
	require.NoError(t, writeMatrix(path, mat.NewDense(4, 3, []float64{
		0, 1, 2,
		3, 4, 5,
		6, 7, 8,
		9, 10, 11,
	})))

	epochs, err := NewEpochReader(internal.Nop()).ReadEpochs(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, epochs, 4)
	r, c := epochs[2].Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []float64{6, 7, 8}, epochs[2].RawRowView(0))
}

func TestEpochReader_Errors(t *testing.T) {
	dir := t.TempDir()
	reader := NewEpochReader(internal.Nop())

	_, err := reader.ReadEpochs(context.Background(), filepath.Join(dir, "missing.npy"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	flat := filepath.Join(dir, "flat.npy")
	f, err := os.Create(flat)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, []float64{1, 2, 3}))
	require.NoError(t, f.Close())

	_, err = reader.ReadEpochs(context.Background(), flat)
	assert.Error(t, err)
}

func TestReadTriangles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tris.npy")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, []int64{0, 1, 2, 1, 2, 3}))
	require.NoError(t, f.Close())

	tris, err := ReadTriangles(path)
	require.NoError(t, err)
	assert.Equal(t, [][3]int{{0, 1, 2}, {1, 2, 3}}, tris)

	bad := filepath.Join(t.TempDir(), "bad.npy")
	f, err = os.Create(bad)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, []int64{0, 1}))
	require.NoError(t, f.Close())
	_, err = ReadTriangles(bad)
	assert.Error(t, err)
}
