package survey

import (
	"fmt"
	"strings"

	"stratatest/domain/core"
)

// StratumKey canonically identifies one covariate-value combination,
// e.g. "age=30-44|edu=college". The unstratified whole-dataset case is KeyAll.
type StratumKey string

// KeyAll is the trivial stratum covering the entire dataset.
const KeyAll StratumKey = "(all)"

func (k StratumKey) String() string { return string(k) }

// NewStratumKey builds a canonical key from covariate values, in the given
// covariate order. Key order must stay fixed across a run so that the same
// combination always maps to the same stratum.
func NewStratumKey(order []core.CovariateKey, vals map[core.CovariateKey]string) StratumKey {
	if len(order) == 0 {
		return KeyAll
	}
	parts := make([]string, len(order))
	for i, key := range order {
		parts[i] = fmt.Sprintf("%s=%s", key, vals[key])
	}
	return StratumKey(strings.Join(parts, "|"))
}

// Partition splits the dataset into strata over the full declared cross
// product of the given covariates. It returns the row indices per stratum and
// the stratum keys in deterministic declaration order. Declared combinations
// with no rows still appear (with an empty index slice) so the caller can
// report them instead of silently dropping them.
//
// An empty stratifyBy yields the single trivial stratum KeyAll.
func (d *Dataset) Partition(stratifyBy []core.CovariateKey) (map[StratumKey][]int, []StratumKey, error) {
	if len(stratifyBy) == 0 {
		all := make([]int, d.Len())
		for i := range all {
			all[i] = i
		}
		return map[StratumKey][]int{KeyAll: all}, []StratumKey{KeyAll}, nil
	}

	for _, key := range stratifyBy {
		if _, ok := d.Levels.CovariateLevels(key); !ok {
			return nil, nil, fmt.Errorf("%w: %q", core.ErrUnknownCovariate, key)
		}
	}

	keys := enumerateCross(d.Levels, stratifyBy)
	strata := make(map[StratumKey][]int, len(keys))
	for _, key := range keys {
		strata[key] = nil
	}

	for i, obs := range d.rows {
		vals := make(map[core.CovariateKey]string, len(stratifyBy))
		for _, covKey := range stratifyBy {
			val, ok := obs.Strata[covKey]
			if !ok {
				return nil, nil, fmt.Errorf("%w: row %d missing covariate %q", core.ErrInvalidDataset, i, covKey)
			}
			vals[covKey] = val
		}
		key := NewStratumKey(stratifyBy, vals)
		strata[key] = append(strata[key], i)
	}

	return strata, keys, nil
}

// enumerateCross walks the declared level sets of the chosen covariates in
// declaration order, producing every combination.
func enumerateCross(levels Levels, stratifyBy []core.CovariateKey) []StratumKey {
	combos := []map[core.CovariateKey]string{{}}
	for _, covKey := range stratifyBy {
		declared, _ := levels.CovariateLevels(covKey)
		next := make([]map[core.CovariateKey]string, 0, len(combos)*len(declared))
		for _, combo := range combos {
			for _, val := range declared {
				extended := make(map[core.CovariateKey]string, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[covKey] = val
				next = append(next, extended)
			}
		}
		combos = next
	}

	keys := make([]StratumKey, len(combos))
	for i, combo := range combos {
		keys[i] = NewStratumKey(stratifyBy, combo)
	}
	return keys
}
