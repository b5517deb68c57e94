package testkit

import (
	"context"
	"sync"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/ports"
)

// InMemoryResultRepository implements ResultRepositoryPort for tests.
type InMemoryResultRepository struct {
	mu   sync.RWMutex
	runs map[core.RunID]*permtest.RunResult
}

// NewInMemoryResultRepository creates an empty in-memory repository
func NewInMemoryResultRepository() *InMemoryResultRepository {
	return &InMemoryResultRepository{
		runs: make(map[core.RunID]*permtest.RunResult),
	}
}

func (r *InMemoryResultRepository) SaveRun(ctx context.Context, result *permtest.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[result.Manifest.RunID] = result
	return nil
}

func (r *InMemoryResultRepository) GetRun(ctx context.Context, id core.RunID) (*permtest.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return result, nil
}

func (r *InMemoryResultRepository) ListRuns(ctx context.Context) ([]permtest.RunManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	manifests := make([]permtest.RunManifest, 0, len(r.runs))
	for _, result := range r.runs {
		manifests = append(manifests, result.Manifest)
	}
	return manifests, nil
}

var _ ports.ResultRepositoryPort = (*InMemoryResultRepository)(nil)
