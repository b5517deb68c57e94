package ports

import (
	"context"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
)

// ResultRepositoryPort persists completed analysis runs.
type ResultRepositoryPort interface {
	SaveRun(ctx context.Context, result *permtest.RunResult) error
	GetRun(ctx context.Context, id core.RunID) (*permtest.RunResult, error)
	ListRuns(ctx context.Context) ([]permtest.RunManifest, error)
}
