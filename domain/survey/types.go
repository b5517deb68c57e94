package survey

import (
	"fmt"
	"sort"
	"strings"

	"stratatest/domain/core"
)

// Group is one of the two comparison arms of a two-sample design.
type Group string

// OutcomeLevel is one level of the ordered categorical outcome
// (e.g. an income bracket).
type OutcomeLevel string

func (g Group) String() string        { return string(g) }
func (o OutcomeLevel) String() string { return string(o) }

// Levels declares the categorical vocabulary of a dataset up front. Levels
// are configuration, never inferred from data: a declared outcome level that
// happens to be absent from a small stratum still gets a proportion of 0.0
// instead of silently vanishing from the result table.
type Levels struct {
	// Groups fixes the comparison order for the whole run. Every signed
	// difference is prop(Groups[0]) - prop(Groups[1]).
	Groups [2]Group `json:"groups"`

	// Outcomes is the ordered set of outcome levels.
	Outcomes []OutcomeLevel `json:"outcomes"`

	// Covariates maps each stratifying covariate to its declared level set.
	Covariates map[core.CovariateKey][]string `json:"covariates,omitempty"`
}

// Validate checks the level registry for internal consistency.
func (l Levels) Validate() error {
	if l.Groups[0] == "" || l.Groups[1] == "" {
		return core.NewValidationError("groups", "both group values must be declared")
	}
	if l.Groups[0] == l.Groups[1] {
		return fmt.Errorf("%w: declared groups are identical (%q)", core.ErrDegenerateGrouping, l.Groups[0])
	}
	if len(l.Outcomes) == 0 {
		return core.NewValidationError("outcomes", "at least one outcome level must be declared")
	}
	seen := make(map[OutcomeLevel]bool, len(l.Outcomes))
	for _, o := range l.Outcomes {
		if o == "" {
			return core.NewValidationError("outcomes", "empty outcome level")
		}
		if seen[o] {
			return core.NewValidationError("outcomes", fmt.Sprintf("duplicate outcome level %q", o))
		}
		seen[o] = true
	}
	for key, vals := range l.Covariates {
		if len(vals) == 0 {
			return core.NewValidationError(string(key), "covariate declared with no levels")
		}
	}
	return nil
}

// HasGroup reports whether g is one of the two declared groups.
func (l Levels) HasGroup(g Group) bool {
	return g == l.Groups[0] || g == l.Groups[1]
}

// HasOutcome reports whether o is a declared outcome level.
func (l Levels) HasOutcome(o OutcomeLevel) bool {
	for _, lv := range l.Outcomes {
		if lv == o {
			return true
		}
	}
	return false
}

// CovariateLevels returns the declared level set for a covariate.
func (l Levels) CovariateLevels(key core.CovariateKey) ([]string, bool) {
	vals, ok := l.Covariates[key]
	return vals, ok
}

// Observation is a single survey record: which arm it belongs to, which
// outcome level it landed on, and the values of any stratifying covariates.
type Observation struct {
	Group   Group                         `json:"group"`
	Outcome OutcomeLevel                  `json:"outcome"`
	Strata  map[core.CovariateKey]string  `json:"strata,omitempty"`
}

// Dataset is an ordered, immutable collection of observations plus the level
// registry they were validated against. Construct with NewDataset; the row
// slice must not be mutated afterwards.
type Dataset struct {
	ID          core.DatasetID   `json:"id"`
	Name        string           `json:"name"`
	Levels      Levels           `json:"levels"`
	Fingerprint core.DatasetHash `json:"fingerprint"`
	CreatedAt   core.Timestamp   `json:"created_at"`

	rows []Observation
}

// NewDataset validates every observation against the declared levels and
// returns an immutable dataset. Malformed rows (missing group or outcome)
// are the loader's responsibility and are rejected here rather than
// silently dropped.
func NewDataset(name string, levels Levels, rows []Observation) (*Dataset, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no observations", core.ErrInvalidDataset)
	}

	seenGroups := make(map[Group]bool, 2)
	for i, obs := range rows {
		if obs.Group == "" {
			return nil, fmt.Errorf("%w: row %d has no group", core.ErrInvalidDataset, i)
		}
		if obs.Outcome == "" {
			return nil, fmt.Errorf("%w: row %d has no outcome", core.ErrInvalidDataset, i)
		}
		if !levels.HasGroup(obs.Group) {
			return nil, fmt.Errorf("%w: row %d group %q", core.ErrUnknownLevel, i, obs.Group)
		}
		if !levels.HasOutcome(obs.Outcome) {
			return nil, fmt.Errorf("%w: row %d outcome %q", core.ErrUnknownLevel, i, obs.Outcome)
		}
		for key, val := range obs.Strata {
			declared, ok := levels.CovariateLevels(key)
			if !ok {
				return nil, fmt.Errorf("%w: row %d covariate %q", core.ErrUnknownCovariate, i, key)
			}
			if !containsString(declared, val) {
				return nil, fmt.Errorf("%w: row %d covariate %q value %q", core.ErrUnknownLevel, i, key, val)
			}
		}
		seenGroups[obs.Group] = true
	}

	// Two-sample design: the diff statistic is undefined unless both
	// declared groups actually appear in the data.
	if len(seenGroups) != 2 {
		observed := make([]string, 0, len(seenGroups))
		for g := range seenGroups {
			observed = append(observed, string(g))
		}
		sort.Strings(observed)
		return nil, core.NewDegenerateGroupingError("dataset", observed)
	}

	return &Dataset{
		ID:          core.DatasetID(core.NewID()),
		Name:        name,
		Levels:      levels,
		Fingerprint: computeFingerprint(levels, rows),
		CreatedAt:   core.Now(),
		rows:        rows,
	}, nil
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Row returns the observation at index i.
func (d *Dataset) Row(i int) Observation {
	return d.rows[i]
}

// Rows returns the underlying observation slice. Read-only by convention.
func (d *Dataset) Rows() []Observation {
	return d.rows
}

// GroupCounts returns the number of observations per declared group.
func (d *Dataset) GroupCounts() map[Group]int {
	counts := make(map[Group]int, 2)
	for _, obs := range d.rows {
		counts[obs.Group]++
	}
	return counts
}

func computeFingerprint(levels Levels, rows []Observation) core.DatasetHash {
	declared := []string{string(levels.Groups[0]), string(levels.Groups[1])}
	for _, o := range levels.Outcomes {
		declared = append(declared, string(o))
	}
	covKeys := make([]string, 0, len(levels.Covariates))
	for key := range levels.Covariates {
		covKeys = append(covKeys, string(key))
	}
	sort.Strings(covKeys)
	for _, key := range covKeys {
		declared = append(declared, key+"="+strings.Join(levels.Covariates[core.CovariateKey(key)], ","))
	}

	encoded := make([]string, len(rows))
	for i, obs := range rows {
		var sb strings.Builder
		sb.WriteString(string(obs.Group))
		sb.WriteByte('|')
		sb.WriteString(string(obs.Outcome))
		keys := make([]string, 0, len(obs.Strata))
		for key := range obs.Strata {
			keys = append(keys, string(key))
		}
		sort.Strings(keys)
		for _, key := range keys {
			sb.WriteByte('|')
			sb.WriteString(key)
			sb.WriteByte('=')
			sb.WriteString(obs.Strata[core.CovariateKey(key)])
		}
		encoded[i] = sb.String()
	}

	return core.ComputeDatasetHash(declared, encoded)
}

func containsString(vals []string, v string) bool {
	for _, s := range vals {
		if s == v {
			return true
		}
	}
	return false
}
