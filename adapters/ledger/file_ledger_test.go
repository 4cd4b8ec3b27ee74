package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal"
	"megstats/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(stage run.Stage, label string) *run.Manifest {
	m := run.NewManifest(stage, label, 42, core.ParamsHash("p"), core.CohortHash("c"), []string{"s01_pre_dSPM_letter"})
	m.Complete("/out/"+label+".npz", core.Hash("d-"+label), 1)
	return m
}

func TestFileLedger_RecordAndList(t *testing.T) {
	ctx := context.Background()
	l := NewFileLedger(filepath.Join(t.TempDir(), "nested", DefaultFile), internal.Nop())

	runs, err := l.ListRuns(ctx, ports.RunFilters{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	first := manifest(run.StageCluster, "a_clu")
	second := manifest(run.StageExtract, "a_clu")
	third := manifest(run.StageCluster, "b_clu")
	for _, m := range []*run.Manifest{first, second, third} {
		require.NoError(t, l.Record(ctx, m))
	}

	runs, err = l.ListRuns(ctx, ports.RunFilters{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, third.RunID, runs[0].RunID)
	assert.Equal(t, first.Fingerprint, runs[2].Fingerprint)

	runs, err = l.ListRuns(ctx, ports.RunFilters{Stage: run.StageCluster, Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b_clu", runs[0].Label)

	runs, err = l.ListRuns(ctx, ports.RunFilters{Label: "a_clu"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	got, err := l.GetRun(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StageExtract, got.Stage)
	assert.Equal(t, second.Digest, got.Digest)

	_, err = l.GetRun(ctx, core.NewRunID())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFileLedger_RejectsIncompleteManifest(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), DefaultFile), internal.Nop())
	m := run.NewManifest(run.StageCluster, "x", 1, core.ParamsHash("p"), "", nil)
	assert.Error(t, l.Record(context.Background(), m))
}

func TestFileLedger_SkipsTornLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultFile)
	l := NewFileLedger(path, internal.Nop())
	require.NoError(t, l.Record(ctx, manifest(run.StageCluster, "a_clu")))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"run_id": "trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	runs, err := l.ListRuns(ctx, ports.RunFilters{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
