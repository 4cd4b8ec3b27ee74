package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootOptionsInit_EnvFileOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "megstats.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
paths: {root: /data}
study: {conditions: [letter], cohort_file: cohorts.yaml}
stats: {seed: 7}
`), 0o644))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("MEGSTATS_STATS_SEED=99\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("MEGSTATS_STATS_SEED") })

	opts := &rootOptions{configPath: configPath, envFile: envPath}
	require.NoError(t, opts.init())
	assert.Equal(t, int64(99), opts.config.Stats.Seed)
	assert.NotNil(t, opts.logger)
}

func TestRootOptionsInit_MissingEnvFileIsFine(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "megstats.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("paths: {root: /data}\nstudy: {conditions: [letter], cohort_file: c.yaml}\n"), 0o644))

	opts := &rootOptions{configPath: configPath, envFile: filepath.Join(dir, "absent.env"), logLevel: "debug"}
	require.NoError(t, opts.init())
	assert.Equal(t, "/data", opts.config.Paths.Root)
}

func TestRootOptionsInit_BadConfig(t *testing.T) {
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "absent.yaml"), envFile: "absent.env"}
	assert.Error(t, opts.init())
}
