//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mioforge/internal/model"
)

func TestSQLiteStoreRunArchiveAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "mioforge.db"))
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() {
		_ = store.Close()
	})

	started := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-new"} {
		require.NoError(t, store.SaveRun(ctx, model.RunRecord{
			VersionedRecord: Versioned(),
			ID:              id,
			Seed:            int64(i),
			Status:          model.RunCompleted,
			StartedAt:       started.Add(time.Duration(i) * time.Hour),
			Config:          []byte(`{"search":{"seed":1}}`),
		}))
	}
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-new", runs[0].ID)

	loaded, ok, err := store.GetRun(ctx, "run-old")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"search":{"seed":1}}`, string(loaded.Config))

	require.NoError(t, store.SaveArchive(ctx, model.ArchiveSnapshot{
		VersionedRecord: Versioned(),
		RunID:           "run-new",
		Targets:         2,
		Covered:         []string{"t1"},
	}))
	archive, ok, err := store.GetArchive(ctx, "run-new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, archive.Targets)
	require.Len(t, archive.Covered, 1)

	history := []model.CoverageSample{{Evaluations: 10, Covered: 1, Targets: 2}}
	require.NoError(t, store.SaveCoverageHistory(ctx, "run-new", history))
	loadedHistory, ok, err := store.GetCoverageHistory(ctx, "run-new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, history, loadedHistory)

	_, ok, err = store.GetArchive(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "uninit.db"))
	require.Error(t, store.SaveRun(context.Background(), model.RunRecord{ID: "x"}))
}
