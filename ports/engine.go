package ports

import (
	"context"

	"stratatest/domain/permtest"
	"stratatest/domain/survey"
)

// EnginePort runs one permutation-test pass over a dataset. The pass is
// stratified by cfg.StratifyBy; an empty StratifyBy produces the single
// trivial stratum covering the whole dataset. Per-stratum failures come
// back as skip results inside the slice, not as errors.
type EnginePort interface {
	Run(ctx context.Context, ds *survey.Dataset, cfg permtest.Config) ([]permtest.StratumResult, error)
}
