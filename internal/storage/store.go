package storage

import (
	"context"
	"errors"

	"mioforge/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store defines transaction-like persistence operations for search runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, most recently started first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveArchive(ctx context.Context, snapshot model.ArchiveSnapshot) error
	GetArchive(ctx context.Context, runID string) (model.ArchiveSnapshot, bool, error)
	SaveCoverageHistory(ctx context.Context, runID string, history []model.CoverageSample) error
	GetCoverageHistory(ctx context.Context, runID string) ([]model.CoverageSample, bool, error)
}
