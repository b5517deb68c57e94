package permutation

import (
	"fmt"
	"math"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// computePValues collapses the null distribution of one stratum into a
// one-sided p-value per outcome level, with Monte-Carlo error bounds and a
// summary of the shuffled differences for the audit trail.
//
// diffs[l][r] is the replicate-r shuffled difference at level l; valid[r]
// marks replicates where the difference was defined for this stratum.
func computePValues(levels survey.Levels, stratum survey.StratumKey, observed map[survey.OutcomeLevel]float64,
	diffs [][]float64, valid []bool, smallSample bool, cfg permtest.Config) ([]permtest.PValueResult, error) {

	validCount := 0
	for _, ok := range valid {
		if ok {
			validCount++
		}
	}
	if validCount == 0 {
		return nil, fmt.Errorf("%w: stratum %q produced no valid replicates", core.ErrInsufficientData, stratum)
	}

	z975 := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.975)

	results := make([]permtest.PValueResult, 0, len(levels.Outcomes))
	for levelIdx, level := range levels.Outcomes {
		dir, ok := cfg.Directions[level]
		if !ok {
			return nil, core.NewInvalidDirectionError(string(level))
		}

		obs := observed[level]
		extreme := 0
		nullVals := make([]float64, 0, validCount)
		for r, okRep := range valid {
			if !okRep {
				continue
			}
			d := diffs[levelIdx][r]
			nullVals = append(nullVals, d)
			switch dir {
			case permtest.DirectionGreater:
				if d >= obs {
					extreme++
				}
			case permtest.DirectionLess:
				if d <= obs {
					extreme++
				}
			}
		}

		p := float64(extreme) / float64(validCount)

		// Monte-Carlo error of the p-value estimate itself: the tail count
		// is binomial over validCount replicates.
		stdErr := math.Sqrt(p * (1 - p) / float64(validCount))
		ciLow := math.Max(0, p-z975*stdErr)
		ciHigh := math.Min(1, p+z975*stdErr)

		result, err := permtest.NewPValueResult(permtest.PValueResult{
			Stratum:     stratum,
			Level:       level,
			Direction:   dir,
			Observed:    obs,
			PValue:      p,
			Replicates:  validCount,
			StdErr:      stdErr,
			CILow:       ciLow,
			CIHigh:      ciHigh,
			SmallSample: smallSample,
			Null:        summarizeNull(nullVals),
		})
		if err != nil {
			return nil, fmt.Errorf("stratum %q level %q: %w", stratum, level, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// summarizeNull describes the shuffled-difference distribution for reporting.
func summarizeNull(nullVals []float64) permtest.NullSummary {
	mean, _ := stats.Mean(nullVals)
	stdDev, _ := stats.StandardDeviationSample(nullVals)
	min, _ := stats.Min(nullVals)
	max, _ := stats.Max(nullVals)
	p95, _ := stats.Percentile(nullVals, 95)
	p99, _ := stats.Percentile(nullVals, 99)
	return permtest.NullSummary{
		Mean:         mean,
		StdDev:       stdDev,
		Min:          min,
		Max:          max,
		Percentile95: p95,
		Percentile99: p99,
	}
}
