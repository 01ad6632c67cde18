package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mioforge/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	member := func(id string, fitness float64) model.EvaluatedRecord {
		return model.EvaluatedRecord{
			Individual: model.IndividualRecord{ID: id, Signature: "sig-" + id},
			Fitness:    model.FitnessVector{"GET /items:200": fitness},
		}
	}
	return RunArtifacts{
		Run: model.RunRecord{
			VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
			ID:              runID,
			Seed:            1,
			Status:          model.RunCompleted,
			Evaluations:     40,
			Targets:         2,
			Covered:         1,
		},
		Archive: model.ArchiveSnapshot{
			VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
			RunID:           runID,
			Targets:         2,
			Covered:         []string{"GET /items:200"},
			Entries: []model.ArchiveEntry{
				{Target: "POST /items:409", Fitness: 0.4, Member: member("b", 0)},
				{Target: "GET /items:200", Fitness: 1, Covered: true, Member: member("a", 1)},
				{Target: "POST /items:409", Fitness: 0.2, Member: member("c", 0)},
			},
		},
		History: []model.CoverageSample{
			{Evaluations: 20, Covered: 0, Targets: 2, Phase: "exploration", Elapsed: 0.5},
			{Evaluations: 40, Covered: 1, Targets: 2, Phase: "focused", Elapsed: 1.25},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts(runID))
	require.NoError(t, err)

	files := []string{runFile, archiveFile, bestTestsFile, coverageHistoryFile, coverageSeriesFile}
	for _, file := range files {
		require.FileExists(t, filepath.Join(runDir, file))
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	require.NoError(t, err)
	for _, file := range files {
		require.FileExists(t, filepath.Join(exportedDir, file))
	}

	run, ok, err := ReadRun(outDir, runID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 40, run.Evaluations)
	require.Equal(t, model.RunCompleted, run.Status)

	_, ok, err = ReadArchive(baseDir, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBestTestsKeepOneMemberPerTarget(t *testing.T) {
	baseDir := t.TempDir()
	_, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-1"))
	require.NoError(t, err)

	tests, ok, err := ReadBestTests(baseDir, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tests, 2)
	require.Equal(t, "GET /items:200", tests[0].Target)
	require.True(t, tests[0].Covered)
	require.Equal(t, "b", tests[1].Individual.ID, "best member of POST /items:409")
	require.Equal(t, 0.4, tests[1].Fitness)
}

func TestCoverageSeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := sampleArtifacts("run-1")
	_, err := WriteRunArtifacts(baseDir, artifacts)
	require.NoError(t, err)

	series, ok, err := ReadCoverageSeries(baseDir, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, artifacts.History, series)
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Seed:         1,
		Status:       model.RunCompleted,
		Evaluations:  100,
		Covered:      5,
		Targets:      14,
		CreatedAtUTC: "2026-02-10T10:00:00Z",
	}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-2",
		Seed:         2,
		Status:       model.RunCancelled,
		Evaluations:  40,
		Covered:      3,
		Targets:      14,
		CreatedAtUTC: "2026-02-10T11:00:00Z",
	}))

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "run-2", entries[0].RunID)
	require.Equal(t, "run-1", entries[1].RunID)

	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Seed:         1,
		Status:       model.RunCompleted,
		Evaluations:  200,
		Covered:      9,
		Targets:      14,
		CreatedAtUTC: "2026-02-10T12:00:00Z",
	}))

	entries, err = ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "run-1", entries[0].RunID)
	require.Equal(t, 9, entries[0].Covered)
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}))

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "run-b", entries[0].RunID)
}
