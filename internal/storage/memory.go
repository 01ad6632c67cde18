package storage

import (
	"context"
	"sort"
	"sync"

	"mioforge/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	archives    map[string]model.ArchiveSnapshot
	history     map[string][]model.CoverageSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.archives = make(map[string]model.ArchiveSnapshot)
	s.history = make(map[string][]model.CoverageSample)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	run.Config = append([]byte(nil), run.Config...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveArchive(_ context.Context, snapshot model.ArchiveSnapshot) error {
	// Round-trip through the codec so stored snapshots share nothing with
	// the caller.
	payload, err := EncodeArchive(snapshot)
	if err != nil {
		return err
	}
	copied, err := DecodeArchive(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.archives[snapshot.RunID] = copied
	return nil
}

func (s *MemoryStore) GetArchive(_ context.Context, runID string) (model.ArchiveSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.archives[runID]
	return snapshot, ok, nil
}

func (s *MemoryStore) SaveCoverageHistory(_ context.Context, runID string, history []model.CoverageSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	copied := append([]model.CoverageSample(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetCoverageHistory(_ context.Context, runID string) ([]model.CoverageSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]model.CoverageSample(nil), history...)
	return copied, true, nil
}

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
