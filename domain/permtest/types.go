package permtest

import (
	"fmt"

	"stratatest/domain/core"
	"stratatest/domain/survey"
)

// Direction declares which tail of the null distribution counts as extreme
// for an outcome level. Directions are required configuration: they are never
// inferred from the data.
type Direction string

const (
	// DirectionGreater rejects when the observed difference is unusually high:
	// p = fraction of shuffled differences >= observed.
	DirectionGreater Direction = ">="
	// DirectionLess rejects when the observed difference is unusually low:
	// p = fraction of shuffled differences <= observed.
	DirectionLess Direction = "<="
)

// Valid reports whether d is a recognized direction.
func (d Direction) Valid() bool {
	return d == DirectionGreater || d == DirectionLess
}

// Config holds every knob of a permutation run. Nothing here is global
// state: the engine receives the dataset and this config explicitly.
type Config struct {
	// NumReplicates is R, the number of label-shuffled replicates.
	NumReplicates int `json:"num_replicates"`

	// SampleSize is n, the rows drawn per replicate. Zero means each
	// replicate shuffles the original rows as-is (no resampling); a positive
	// value means each replicate first bootstraps n rows with replacement.
	SampleSize int `json:"sample_size"`

	// SignificanceLevel is the alpha used by the reporting layer's decision
	// column. The engine itself only reports p-values.
	SignificanceLevel float64 `json:"significance_level"`

	// Directions maps every tested outcome level to its one-sided direction.
	Directions map[survey.OutcomeLevel]Direction `json:"directions"`

	// StratifyBy lists the covariates whose cross product defines the strata.
	// Empty means a single whole-dataset stratum.
	StratifyBy []core.CovariateKey `json:"stratify_by,omitempty"`

	// MinStratumSize is the per-group observation count below which results
	// are flagged as small-sample. Flagged, never dropped.
	MinStratumSize int `json:"min_stratum_size"`

	// Seed makes the whole run reproducible.
	Seed int64 `json:"seed"`

	// Workers bounds the replicate worker pool. Zero picks a default.
	Workers int `json:"workers,omitempty"`
}

// DefaultConfig returns the baseline configuration: 1000 replicates, no
// resampling, alpha 0.05, small-sample threshold 30.
func DefaultConfig() Config {
	return Config{
		NumReplicates:     1000,
		SampleSize:        0,
		SignificanceLevel: 0.05,
		Directions:        make(map[survey.OutcomeLevel]Direction),
		MinStratumSize:    30,
		Seed:              1,
	}
}

// Validate checks the config against the dataset's declared levels.
// Every declared outcome level needs a direction up front; a missing one is
// ErrInvalidDirection here rather than a surprise mid-run.
func (c Config) Validate(levels survey.Levels) error {
	if c.NumReplicates <= 0 {
		return fmt.Errorf("%w: num_replicates must be > 0, got %d", core.ErrInvalidConfig, c.NumReplicates)
	}
	if c.SampleSize < 0 {
		return fmt.Errorf("%w: sample_size must be >= 0, got %d", core.ErrInvalidConfig, c.SampleSize)
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		return fmt.Errorf("%w: significance_level must be in (0,1), got %f", core.ErrInvalidConfig, c.SignificanceLevel)
	}
	if c.MinStratumSize <= 0 {
		return fmt.Errorf("%w: min_stratum_size must be > 0, got %d", core.ErrInvalidConfig, c.MinStratumSize)
	}
	for _, level := range levels.Outcomes {
		dir, ok := c.Directions[level]
		if !ok {
			return core.NewInvalidDirectionError(string(level))
		}
		if !dir.Valid() {
			return fmt.Errorf("%w: level %q has direction %q", core.ErrInvalidDirection, level, dir)
		}
	}
	for level := range c.Directions {
		if !levels.HasOutcome(level) {
			return fmt.Errorf("%w: direction declared for unknown level %q", core.ErrUnknownLevel, level)
		}
	}
	return nil
}

// Hash fingerprints the configuration for the run manifest.
func (c Config) Hash() core.ConfigHash {
	fields := map[string]interface{}{
		"num_replicates":     c.NumReplicates,
		"sample_size":        c.SampleSize,
		"significance_level": c.SignificanceLevel,
		"min_stratum_size":   c.MinStratumSize,
		"seed":               c.Seed,
	}
	for level, dir := range c.Directions {
		fields["direction:"+string(level)] = string(dir)
	}
	for i, key := range c.StratifyBy {
		fields[fmt.Sprintf("stratify:%d", i)] = string(key)
	}
	return core.ComputeConfigHash(fields)
}

// ProportionSummary is the proportion of observations at each declared
// outcome level for one (stratum, group) slice. Proportions over the declared
// levels sum to 1.0 whenever Count > 0.
type ProportionSummary struct {
	Stratum     survey.StratumKey                    `json:"stratum"`
	Group       survey.Group                         `json:"group"`
	Count       int                                  `json:"count"`
	Proportions map[survey.OutcomeLevel]float64      `json:"proportions"`
}

// DifferenceStatistic is the signed per-level difference in proportion
// between the two groups for one stratum:
// prop(levels.Groups[0]) - prop(levels.Groups[1]).
type DifferenceStatistic struct {
	Stratum survey.StratumKey                   `json:"stratum"`
	ByLevel map[survey.OutcomeLevel]float64     `json:"by_level"`
}

// NullSummary describes the distribution of shuffled differences for one
// stratum x level, for the audit trail.
type NullSummary struct {
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Percentile95 float64 `json:"percentile_95"`
	Percentile99 float64 `json:"percentile_99"`
}

// PValueResult is the engine's answer for one stratum x outcome level.
// INVARIANTS:
// - PValue always in [0.0, 1.0]
// - Replicates > 0
type PValueResult struct {
	Stratum   survey.StratumKey   `json:"stratum"`
	Level     survey.OutcomeLevel `json:"level"`
	Direction Direction           `json:"direction"`

	// Observed is the true-data difference, computed once from the full
	// un-shuffled dataset slice for this stratum.
	Observed float64 `json:"observed"`

	PValue     float64 `json:"p_value"`
	Replicates int     `json:"replicates"`

	// StdErr and the CI bounds quantify the Monte-Carlo error of the
	// p-value estimate itself (normal approximation).
	StdErr float64 `json:"std_err"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`

	// SmallSample is set when either group in the stratum has fewer than
	// MinStratumSize observations. The p-value is still reported.
	SmallSample bool `json:"small_sample"`

	Null NullSummary `json:"null"`
}

// NewPValueResult validates the engine invariants before handing a result to
// callers.
func NewPValueResult(r PValueResult) (PValueResult, error) {
	if r.PValue < 0.0 || r.PValue > 1.0 {
		return PValueResult{}, fmt.Errorf("p-value must be in [0.0, 1.0], got %f", r.PValue)
	}
	if r.Replicates <= 0 {
		return PValueResult{}, fmt.Errorf("replicates must be > 0, got %d", r.Replicates)
	}
	if !r.Direction.Valid() {
		return PValueResult{}, core.NewInvalidDirectionError(string(r.Level))
	}
	return r, nil
}

// StratumResult is the outcome of evaluating one stratum: either a full set
// of per-level p-values or a skip record carrying the per-stratum error.
type StratumResult struct {
	Stratum     survey.StratumKey     `json:"stratum"`
	GroupCounts map[survey.Group]int  `json:"group_counts"`
	Observed    []ProportionSummary   `json:"observed,omitempty"`
	Results     []PValueResult        `json:"results,omitempty"`
	SmallSample bool                  `json:"small_sample"`
	Skipped     bool                  `json:"skipped"`
	SkipReason  string                `json:"skip_reason,omitempty"`
}

// RunManifest captures the complete specification of an analysis run for
// replayability: same dataset hash + config hash + seed means byte-identical
// results.
type RunManifest struct {
	RunID       core.RunID       `json:"run_id"`
	DatasetID   core.DatasetID   `json:"dataset_id"`
	DatasetName string           `json:"dataset_name"`
	DatasetHash core.DatasetHash `json:"dataset_hash"`
	ConfigHash  core.ConfigHash  `json:"config_hash"`
	Seed        int64            `json:"seed"`

	NumReplicates int `json:"num_replicates"`
	SampleSize    int `json:"sample_size"`

	StrataEvaluated int            `json:"strata_evaluated"`
	StrataSkipped   int            `json:"strata_skipped"`
	SkipCounts      map[string]int `json:"skip_counts,omitempty"`

	RuntimeMs int64          `json:"runtime_ms"`
	CreatedAt core.Timestamp `json:"created_at"`
}

// RunResult bundles the manifest with the per-stratum results.
type RunResult struct {
	Manifest RunManifest     `json:"manifest"`
	Config   Config          `json:"config"`
	Strata   []StratumResult `json:"strata"`
}

// Reject applies the caller-side decision rule: reject the null when
// p < alpha. Kept out of the engine on purpose.
func Reject(p, alpha float64) bool {
	return p < alpha
}
