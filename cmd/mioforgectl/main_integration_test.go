//go:build sqlite

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCommandSQLitePersistsRuns(t *testing.T) {
	workdir := chdirTemp(t)
	dbPath := filepath.Join(workdir, "mioforge.db")
	store := []string{"--store", "sqlite", "--sqlite-path", dbPath, "--artifacts-dir", ""}

	var out bytes.Buffer
	args := append([]string{"run", "--demo", "--seed", "11", "--evaluations", "40", "--log-level", "error"}, store...)
	require.NoError(t, run(context.Background(), args, &out))
	require.FileExists(t, dbPath)
	require.NoDirExists(t, filepath.Join(workdir, "mioforge-runs"))

	out.Reset()
	require.NoError(t, run(context.Background(), append([]string{"runs"}, store...), &out))
	require.Contains(t, out.String(), "seed=11")
	require.Contains(t, out.String(), "evaluations=40")

	out.Reset()
	require.NoError(t, run(context.Background(), append([]string{"export", "--latest", "--out", "exported"}, store...), &out))
	require.Regexp(t, `^exported run_id=`, out.String())
}
