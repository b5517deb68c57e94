package app

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
	"stratatest/internal/errors"
	"stratatest/ports"
)

// AnalysisService orchestrates a full analysis run: the unstratified pass,
// one pass per stratifying covariate, and the full covariate cross, all
// against the same dataset and seed. Per-stratum failures are recorded as
// skip results; only infrastructure failures abort the run.
type AnalysisService struct {
	engine  ports.EnginePort
	results ports.ResultRepositoryPort // optional; nil disables persistence
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(engine ports.EnginePort, results ports.ResultRepositoryPort) *AnalysisService {
	return &AnalysisService{
		engine:  engine,
		results: results,
	}
}

// RunAnalysis executes every pass and assembles the run manifest.
func (s *AnalysisService) RunAnalysis(ctx context.Context, ds *survey.Dataset, cfg permtest.Config) (*permtest.RunResult, error) {
	start := time.Now()

	if err := cfg.Validate(ds.Levels); err != nil {
		return nil, errors.WithCode(err, errors.CodeAnalysis, "invalid analysis configuration")
	}

	passes := buildPasses(cfg.StratifyBy)
	log.Printf("[AnalysisService] Starting run: %d observations, %d replicates, %d passes",
		ds.Len(), cfg.NumReplicates, len(passes))

	perPass := make([][]permtest.StratumResult, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2) // each pass already fans out across replicate workers
	for i, pass := range passes {
		i, pass := i, pass
		g.Go(func() error {
			passCfg := cfg
			passCfg.StratifyBy = pass
			res, err := s.engine.Run(gctx, ds, passCfg)
			if err != nil {
				return errors.Wrapf(err, "pass %d (stratify_by=%v) failed", i, pass)
			}
			perPass[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var strata []permtest.StratumResult
	for _, res := range perPass {
		strata = append(strata, res...)
	}

	manifest := buildManifest(ds, cfg, strata, time.Since(start))
	result := &permtest.RunResult{
		Manifest: manifest,
		Config:   cfg,
		Strata:   strata,
	}

	log.Printf("[AnalysisService] Run %s complete: %d strata evaluated, %d skipped in %dms",
		manifest.RunID, manifest.StrataEvaluated, manifest.StrataSkipped, manifest.RuntimeMs)

	if s.results != nil {
		if err := s.results.SaveRun(ctx, result); err != nil {
			return nil, errors.WithCode(err, errors.CodeStorage, "failed to persist analysis run")
		}
	}

	return result, nil
}

// GetRun loads a persisted run.
func (s *AnalysisService) GetRun(ctx context.Context, id core.RunID) (*permtest.RunResult, error) {
	if s.results == nil {
		return nil, core.ErrRunNotFound
	}
	return s.results.GetRun(ctx, id)
}

// ListRuns lists persisted run manifests.
func (s *AnalysisService) ListRuns(ctx context.Context) ([]permtest.RunManifest, error) {
	if s.results == nil {
		return nil, nil
	}
	return s.results.ListRuns(ctx)
}

// buildPasses expands the configured stratification into the sequence of
// passes: trivial, each covariate alone, and (when more than one) the full
// cross. Pass order is fixed so run output order is deterministic.
func buildPasses(stratifyBy []core.CovariateKey) [][]core.CovariateKey {
	passes := [][]core.CovariateKey{nil}
	for _, key := range stratifyBy {
		passes = append(passes, []core.CovariateKey{key})
	}
	if len(stratifyBy) > 1 {
		passes = append(passes, stratifyBy)
	}
	return passes
}

func buildManifest(ds *survey.Dataset, cfg permtest.Config, strata []permtest.StratumResult, elapsed time.Duration) permtest.RunManifest {
	manifest := permtest.RunManifest{
		RunID:         core.RunID(core.NewID()),
		DatasetID:     ds.ID,
		DatasetName:   ds.Name,
		DatasetHash:   ds.Fingerprint,
		ConfigHash:    cfg.Hash(),
		Seed:          cfg.Seed,
		NumReplicates: cfg.NumReplicates,
		SampleSize:    cfg.SampleSize,
		SkipCounts:    make(map[string]int),
		RuntimeMs:     elapsed.Milliseconds(),
		CreatedAt:     core.Now(),
	}
	for _, stratum := range strata {
		if stratum.Skipped {
			manifest.StrataSkipped++
			manifest.SkipCounts[classifySkip(stratum.SkipReason)]++
		} else {
			manifest.StrataEvaluated++
		}
	}
	return manifest
}

func classifySkip(reason string) string {
	switch {
	case strings.Contains(reason, "degenerate grouping"):
		return "degenerate_grouping"
	case strings.Contains(reason, "insufficient data"):
		return "insufficient_data"
	case strings.Contains(reason, "direction"):
		return "invalid_direction"
	default:
		return "other"
	}
}
