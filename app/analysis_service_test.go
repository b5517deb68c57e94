package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratatest/adapters/permutation"
	"stratatest/adapters/rng"
	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
	"stratatest/internal/testkit"
)

func newService(t *testing.T) (*AnalysisService, *testkit.InMemoryResultRepository) {
	t.Helper()
	repo := testkit.NewInMemoryResultRepository()
	engine := permutation.NewEngine(rng.NewSeededAdapter())
	return NewAnalysisService(engine, repo), repo
}

func incomeConfig(seed int64) permtest.Config {
	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 300
	cfg.Seed = seed
	cfg.StratifyBy = []core.CovariateKey{"age", "edu"}
	levels := testkit.IncomeLevels()
	cfg.Directions = make(map[survey.OutcomeLevel]permtest.Direction, len(levels.Outcomes))
	for i, level := range levels.Outcomes {
		// Hypothesized shift: group-a over-represented in low brackets,
		// under-represented in high ones.
		if i < len(levels.Outcomes)/2 {
			cfg.Directions[level] = permtest.DirectionGreater
		} else {
			cfg.Directions[level] = permtest.DirectionLess
		}
	}
	return cfg
}

func TestAnalysisService_RunAnalysis(t *testing.T) {
	svc, repo := newService(t)
	kit := testkit.NewTestKit(42)
	ds, err := kit.SkewedDataset(600, 0.5)
	require.NoError(t, err)

	cfg := incomeConfig(42)
	result, err := svc.RunAnalysis(context.Background(), ds, cfg)
	require.NoError(t, err)

	// Passes: trivial + age + edu + age x edu.
	// Strata: 1 + 4 + 3 + 12 = 20 declared combinations.
	assert.Len(t, result.Strata, 20)
	assert.Equal(t, result.Manifest.StrataEvaluated+result.Manifest.StrataSkipped, len(result.Strata))
	assert.Equal(t, ds.Fingerprint, result.Manifest.DatasetHash)
	assert.Equal(t, cfg.Seed, result.Manifest.Seed)

	// The trivial stratum comes first and must never be skipped here.
	first := result.Strata[0]
	assert.Equal(t, survey.KeyAll, first.Stratum)
	require.False(t, first.Skipped, first.SkipReason)
	assert.Len(t, first.Results, len(testkit.IncomeLevels().Outcomes))
	for _, r := range first.Results {
		assert.GreaterOrEqual(t, r.PValue, 0.0)
		assert.LessOrEqual(t, r.PValue, 1.0)
	}

	// Persisted and retrievable.
	stored, err := repo.GetRun(context.Background(), result.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Manifest.RunID, stored.Manifest.RunID)
}

func TestAnalysisService_StrongSkewRejectsAtTopAndBottom(t *testing.T) {
	svc, _ := newService(t)
	kit := testkit.NewTestKit(7)
	ds, err := kit.SkewedDataset(800, 0.8)
	require.NoError(t, err)

	cfg := incomeConfig(7)
	cfg.StratifyBy = nil // whole-dataset pass only

	result, err := svc.RunAnalysis(context.Background(), ds, cfg)
	require.NoError(t, err)
	require.Len(t, result.Strata, 1)

	for _, r := range result.Strata[0].Results {
		switch r.Level {
		case "under-25k", "over-100k":
			// 80% mass piled on these brackets in opposite arms: the
			// association is overwhelming at n=1600.
			assert.True(t, permtest.Reject(r.PValue, cfg.SignificanceLevel),
				"level %s: expected rejection, p=%f", r.Level, r.PValue)
		}
	}
}

func TestAnalysisService_InvalidConfig(t *testing.T) {
	svc, _ := newService(t)
	kit := testkit.NewTestKit(1)
	ds, err := kit.NullDataset(100)
	require.NoError(t, err)

	cfg := incomeConfig(1)
	cfg.NumReplicates = 0

	_, err = svc.RunAnalysis(context.Background(), ds, cfg)
	assert.Error(t, err)
}

func TestAnalysisService_DeterministicAcrossRuns(t *testing.T) {
	svc, _ := newService(t)
	kit := testkit.NewTestKit(11)
	ds, err := kit.SkewedDataset(300, 0.4)
	require.NoError(t, err)

	cfg := incomeConfig(11)
	cfg.StratifyBy = []core.CovariateKey{"age"}

	first, err := svc.RunAnalysis(context.Background(), ds, cfg)
	require.NoError(t, err)
	second, err := svc.RunAnalysis(context.Background(), ds, cfg)
	require.NoError(t, err)

	require.Equal(t, len(first.Strata), len(second.Strata))
	for i := range first.Strata {
		a, b := first.Strata[i], second.Strata[i]
		assert.Equal(t, a.Stratum, b.Stratum)
		assert.Equal(t, a.Skipped, b.Skipped)
		require.Equal(t, len(a.Results), len(b.Results))
		for j := range a.Results {
			assert.Equal(t, a.Results[j].PValue, b.Results[j].PValue,
				"stratum %s level %s", a.Stratum, a.Results[j].Level)
		}
	}
}

func TestBuildPasses(t *testing.T) {
	tests := []struct {
		name       string
		stratifyBy []core.CovariateKey
		want       int
	}{
		{"no covariates", nil, 1},
		{"one covariate", []core.CovariateKey{"age"}, 2},
		{"two covariates", []core.CovariateKey{"age", "edu"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, buildPasses(tt.stratifyBy), tt.want)
		})
	}
}
