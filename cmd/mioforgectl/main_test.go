package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mioforge/pkg/mioforge"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	require.NoError(t, err)
	workdir := t.TempDir()
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func TestRunRunsArchiveExport(t *testing.T) {
	workdir := chdirTemp(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"run", "--demo", "--seed", "5", "--evaluations", "60", "--json", "--log-level", "error"}, &out))
	var summary mioforge.RunSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary), out.String())
	require.Equal(t, 60, summary.Evaluations)
	require.NotEmpty(t, summary.RunID)

	out.Reset()
	require.NoError(t, run(ctx, []string{"runs"}, &out))
	require.Contains(t, out.String(), "run_id="+summary.RunID)

	out.Reset()
	require.NoError(t, run(ctx, []string{"archive", "--latest"}, &out))
	require.Contains(t, out.String(), "target=POST /items:201")

	out.Reset()
	require.NoError(t, run(ctx, []string{"export", "--run-id", summary.RunID, "--out", "exported"}, &out))
	for _, file := range []string{"run.json", "archive.json", "best_tests.json", "coverage_series.csv"} {
		require.FileExists(t, filepath.Join(workdir, "exported", summary.RunID, file))
	}
}

func TestRunRefusesCatalogueWithoutEvaluator(t *testing.T) {
	fixture := catalogueFixture(t)
	chdirTemp(t)
	t.Setenv("MIOFORGE_CATALOGUE", fixture)

	err := run(context.Background(), []string{"run", "--evaluations", "5"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "--demo")
	require.NoError(t, run(context.Background(), []string{"run", "--demo", "--evaluations", "5", "--log-level", "error"}, &bytes.Buffer{}))
}

func TestCatalogueCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"catalogue"}, &out))
	require.Contains(t, out.String(), "GET /items/{id}: POST /items -> GET /items/{id} (complete)")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"catalogue", "--file", catalogueFixture(t)}, &out))
	require.Regexp(t, `^actions=4 `, out.String())
}

func TestCommandErrors(t *testing.T) {
	chdirTemp(t)
	cases := [][]string{
		nil,
		{"bogus"},
		{"runs", "--limit", "0"},
		{"archive"},
		{"export", "--run-id", "a", "--latest"},
		{"run", "--demo", "--store", "postgres"},
	}
	for _, args := range cases {
		require.Error(t, run(context.Background(), args, &bytes.Buffer{}), "%v", args)
	}
}

// catalogueFixture must be called before the test changes directory.
func catalogueFixture(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "testdata", "catalogue", "items.yaml"))
	require.NoError(t, err)
	require.FileExists(t, path)
	return path
}
