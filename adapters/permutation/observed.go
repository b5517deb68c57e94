package permutation

import (
	"fmt"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
)

// encodedData is a dense integer view of the dataset for the replicate hot
// loop: group as 0/1 in declared order, outcome as level index, stratum as
// active-stratum index (-1 for rows in skipped strata).
type encodedData struct {
	n         int
	numLevels int
	group     []int8
	outcome   []int32
	stratum   []int32
	identity  []int32
}

func encodeDataset(ds *survey.Dataset) *encodedData {
	n := ds.Len()
	levels := ds.Levels

	levelIndex := make(map[survey.OutcomeLevel]int32, len(levels.Outcomes))
	for i, level := range levels.Outcomes {
		levelIndex[level] = int32(i)
	}

	enc := &encodedData{
		n:         n,
		numLevels: len(levels.Outcomes),
		group:     make([]int8, n),
		outcome:   make([]int32, n),
		stratum:   make([]int32, n),
		identity:  make([]int32, n),
	}
	for i := 0; i < n; i++ {
		obs := ds.Row(i)
		if obs.Group == levels.Groups[1] {
			enc.group[i] = 1
		}
		enc.outcome[i] = levelIndex[obs.Outcome]
		enc.stratum[i] = -1
		enc.identity[i] = int32(i)
	}
	return enc
}

// activate marks the given rows as belonging to active stratum index s.
func (e *encodedData) activate(rows []int, s int) {
	for _, i := range rows {
		e.stratum[i] = int32(s)
	}
}

// evaluateObserved computes the true-data proportion tables and signed
// differences for one stratum slice, enforcing the per-stratum preconditions:
//
//   - an empty slice is ErrInsufficientData (difference undefined),
//   - a slice where group does not take exactly two values is
//     ErrDegenerateGrouping (covers a covariate that perfectly separates
//     the groups, leaving one arm absent from the stratum).
func (e *Engine) evaluateObserved(ds *survey.Dataset, key survey.StratumKey, rows []int, cfg permtest.Config) (*permtest.StratumResult, map[survey.OutcomeLevel]float64, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: stratum %q", core.ErrInsufficientData, key)
	}

	levels := ds.Levels
	counts := make(map[survey.Group]int, 2)
	levelCounts := make(map[survey.Group]map[survey.OutcomeLevel]int, 2)
	for _, g := range levels.Groups {
		levelCounts[g] = make(map[survey.OutcomeLevel]int, len(levels.Outcomes))
	}
	for _, i := range rows {
		obs := ds.Row(i)
		counts[obs.Group]++
		levelCounts[obs.Group][obs.Outcome]++
	}

	if counts[levels.Groups[0]] == 0 || counts[levels.Groups[1]] == 0 {
		present := make([]string, 0, 2)
		for _, g := range levels.Groups {
			if counts[g] > 0 {
				present = append(present, string(g))
			}
		}
		return nil, nil, core.NewDegenerateGroupingError(string(key), present)
	}

	// Proportion tables over the declared levels: absent levels show up as
	// explicit zeros, never as missing cells.
	summaries := make([]permtest.ProportionSummary, 0, 2)
	props := make(map[survey.Group]map[survey.OutcomeLevel]float64, 2)
	for _, g := range levels.Groups {
		p := make(map[survey.OutcomeLevel]float64, len(levels.Outcomes))
		for _, level := range levels.Outcomes {
			p[level] = float64(levelCounts[g][level]) / float64(counts[g])
		}
		props[g] = p
		summaries = append(summaries, permtest.ProportionSummary{
			Stratum:     key,
			Group:       g,
			Count:       counts[g],
			Proportions: p,
		})
	}

	observed := make(map[survey.OutcomeLevel]float64, len(levels.Outcomes))
	for _, level := range levels.Outcomes {
		observed[level] = props[levels.Groups[0]][level] - props[levels.Groups[1]][level]
	}

	smallSample := counts[levels.Groups[0]] < cfg.MinStratumSize ||
		counts[levels.Groups[1]] < cfg.MinStratumSize

	return &permtest.StratumResult{
		Stratum:     key,
		GroupCounts: counts,
		Observed:    summaries,
		SmallSample: smallSample,
	}, observed, nil
}
