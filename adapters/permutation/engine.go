package permutation

import (
	"context"
	"fmt"
	"sync"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
	"stratatest/ports"
)

// Engine implements the stratified permutation test: it builds a null
// distribution of group differences by label shuffling and derives one-sided
// p-values per stratum and outcome level.
type Engine struct {
	rngPort    ports.RNGPort
	numWorkers int
}

// NewEngine creates a permutation engine with default worker settings
func NewEngine(rngPort ports.RNGPort) *Engine {
	return &Engine{
		rngPort:    rngPort,
		numWorkers: 4, // Balance between CPU cores and memory usage
	}
}

// SetWorkers configures the replicate worker pool size
func (e *Engine) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	e.numWorkers = n
}

// Run evaluates every stratum of the dataset under the given configuration.
// Strata that fail their preconditions (empty slice, absent group, missing
// direction) come back as skip records; they never abort the run.
func (e *Engine) Run(ctx context.Context, ds *survey.Dataset, cfg permtest.Config) ([]permtest.StratumResult, error) {
	if err := cfg.Validate(ds.Levels); err != nil {
		return nil, err
	}

	byStratum, keys, err := ds.Partition(cfg.StratifyBy)
	if err != nil {
		return nil, err
	}

	enc := encodeDataset(ds)

	// Observed pass: the true-data statistic is a property of the original
	// data, not of any replicate. Compute it once per stratum, and decide
	// here which strata are evaluable at all.
	results := make([]permtest.StratumResult, len(keys))
	active := make([]survey.StratumKey, 0, len(keys))
	observed := make([]map[survey.OutcomeLevel]float64, 0, len(keys))
	for i, key := range keys {
		rows := byStratum[key]
		res, obsDiff, err := e.evaluateObserved(ds, key, rows, cfg)
		if err != nil {
			if !core.IsStratumError(err) {
				return nil, err
			}
			results[i] = skippedResult(ds, key, rows, err)
			continue
		}
		results[i] = *res
		enc.activate(rows, len(active))
		active = append(active, key)
		observed = append(observed, obsDiff)
	}

	if len(active) == 0 {
		return results, nil
	}

	nullDist, err := e.buildNullDistribution(ctx, enc, len(active), cfg)
	if err != nil {
		return nil, err
	}

	// Reduce: one-sided tail fraction per active stratum x level, compared
	// against the observed difference in the declared direction.
	activePos := 0
	for i := range results {
		if results[i].Skipped {
			continue
		}
		pvals, err := computePValues(ds.Levels, results[i].Stratum, observed[activePos],
			nullDist.diffs[activePos], nullDist.valid[activePos], results[i].SmallSample, cfg)
		if err != nil {
			if !core.IsStratumError(err) {
				return nil, err
			}
			// Bootstrap draws emptied one arm in every replicate.
			results[i].Skipped = true
			results[i].SkipReason = err.Error()
			results[i].Observed = nil
			activePos++
			continue
		}
		results[i].Results = pvals
		activePos++
	}

	return results, nil
}

// nullDistribution holds the shuffled differences for every active stratum.
// diffs[s][l][r] is the replicate-r difference for stratum s at level l;
// valid[s][r] marks replicates where both groups were present in stratum s
// (always true without resampling, can be false under bootstrap draws).
type nullDistribution struct {
	diffs [][][]float64
	valid [][]bool
}

// replicateOutcome carries one replicate's per-stratum differences back from
// a worker. diffs[s] is nil when the stratum lost a group in the resample.
type replicateOutcome struct {
	index int
	diffs [][]float64
}

// buildNullDistribution generates cfg.NumReplicates label-shuffled replicates
// across a worker pool. Each replicate draws its own deterministic RNG stream
// from the run seed, so the result is identical regardless of scheduling.
func (e *Engine) buildNullDistribution(ctx context.Context, enc *encodedData, numActive int, cfg permtest.Config) (*nullDistribution, error) {
	numLevels := enc.numLevels
	r := cfg.NumReplicates

	dist := &nullDistribution{
		diffs: make([][][]float64, numActive),
		valid: make([][]bool, numActive),
	}
	for s := 0; s < numActive; s++ {
		dist.diffs[s] = make([][]float64, numLevels)
		for l := 0; l < numLevels; l++ {
			dist.diffs[s][l] = make([]float64, r)
		}
		dist.valid[s] = make([]bool, r)
	}

	numWorkers := e.numWorkers
	if cfg.Workers > 0 {
		numWorkers = cfg.Workers
	}
	if r < 100 {
		numWorkers = 1
	}

	workChan := make(chan int, r)
	resultChan := make(chan replicateOutcome, r)
	errChan := make(chan error, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.replicateWorker(ctx, enc, numActive, cfg, workChan, resultChan, errChan)
		}()
	}

	go func() {
		for i := 0; i < r; i++ {
			workChan <- i
		}
		close(workChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for outcome := range resultChan {
		for s := 0; s < numActive; s++ {
			if outcome.diffs[s] == nil {
				continue
			}
			dist.valid[s][outcome.index] = true
			for l := 0; l < numLevels; l++ {
				dist.diffs[s][l][outcome.index] = outcome.diffs[s][l]
			}
		}
	}

	select {
	case err := <-errChan:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("null distribution build cancelled: %w", err)
	}

	return dist, nil
}

// replicateWorker processes replicate indices from workChan. One replicate:
// draw the resample, shuffle its outcome column, tally stratum x group x
// level counts, and collapse to signed per-level differences.
func (e *Engine) replicateWorker(ctx context.Context, enc *encodedData, numActive int, cfg permtest.Config,
	workChan <-chan int, resultChan chan<- replicateOutcome, errChan chan<- error) {

	numLevels := enc.numLevels

	for index := range workChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rng, err := e.rngPort.ReplicateStream(ctx, "null-distribution", index, cfg.Seed)
		if err != nil {
			select {
			case errChan <- fmt.Errorf("replicate %d: rng stream: %w", index, err):
			default:
			}
			return
		}

		// Resample: bootstrap n rows with replacement, or take the original
		// rows as-is when no sample size is configured.
		var rows []int32
		if cfg.SampleSize > 0 {
			rows = make([]int32, cfg.SampleSize)
			for i := range rows {
				rows[i] = int32(rng.Intn(enc.n))
			}
		} else {
			rows = enc.identity
		}

		// Shuffled copy of the outcome column. The permutation spans the
		// whole replicate, independent of group and stratum.
		shuffled := make([]int32, len(rows))
		for i, rowIdx := range rows {
			shuffled[i] = enc.outcome[rowIdx]
		}
		for i := len(shuffled) - 1; i > 0; i-- {
			j := rng.Intn(i + 1)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}

		// Tally counts per (stratum, group, level) over the shuffled column.
		tally := make([]int, numActive*2*numLevels)
		denom := make([]int, numActive*2)
		for i, rowIdx := range rows {
			s := enc.stratum[rowIdx]
			if s < 0 {
				continue
			}
			g := int32(enc.group[rowIdx])
			tally[(int(s)*2+int(g))*numLevels+int(shuffled[i])]++
			denom[int(s)*2+int(g)]++
		}

		diffs := make([][]float64, numActive)
		for s := 0; s < numActive; s++ {
			nA := denom[s*2]
			nB := denom[s*2+1]
			if nA == 0 || nB == 0 {
				// Bootstrap draw emptied one arm of this stratum; the
				// difference is undefined for this replicate.
				continue
			}
			byLevel := make([]float64, numLevels)
			for l := 0; l < numLevels; l++ {
				propA := float64(tally[(s*2)*numLevels+l]) / float64(nA)
				propB := float64(tally[(s*2+1)*numLevels+l]) / float64(nB)
				byLevel[l] = propA - propB
			}
			diffs[s] = byLevel
		}

		resultChan <- replicateOutcome{index: index, diffs: diffs}
	}
}

func skippedResult(ds *survey.Dataset, key survey.StratumKey, rows []int, cause error) permtest.StratumResult {
	counts := make(map[survey.Group]int, 2)
	for _, i := range rows {
		counts[ds.Row(i).Group]++
	}
	return permtest.StratumResult{
		Stratum:     key,
		GroupCounts: counts,
		Skipped:     true,
		SkipReason:  cause.Error(),
	}
}
