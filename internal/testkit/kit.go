package testkit

import (
	"context"
	"math/rand"

	"stratatest/domain/core"
	"stratatest/domain/survey"
	"stratatest/ports"
)

// TestKit provides synthetic survey fixtures for tests and demos.
type TestKit struct {
	rng *rand.Rand
}

// NewTestKit creates a test kit with a fixed seed for reproducibility
func NewTestKit(seed int64) *TestKit {
	return &TestKit{rng: rand.New(rand.NewSource(seed))}
}

// IncomeLevels is the level registry used by the income survey fixtures:
// two comparison arms, five income brackets, age and education covariates.
func IncomeLevels() survey.Levels {
	return survey.Levels{
		Groups: [2]survey.Group{"group-a", "group-b"},
		Outcomes: []survey.OutcomeLevel{
			"under-25k", "25k-50k", "50k-75k", "75k-100k", "over-100k",
		},
		Covariates: map[core.CovariateKey][]string{
			"age": {"18-29", "30-44", "45-64", "65-plus"},
			"edu": {"hs-or-less", "some-college", "bachelors-plus"},
		},
	}
}

// NullDataset builds a dataset where outcome is independent of group by
// construction: both arms draw brackets from the same distribution.
func (t *TestKit) NullDataset(perGroup int) (*survey.Dataset, error) {
	levels := IncomeLevels()
	rows := make([]survey.Observation, 0, perGroup*2)
	for _, g := range levels.Groups {
		for i := 0; i < perGroup; i++ {
			rows = append(rows, survey.Observation{
				Group:   g,
				Outcome: levels.Outcomes[t.rng.Intn(len(levels.Outcomes))],
				Strata:  t.randomStrata(levels),
			})
		}
	}
	return survey.NewDataset("synthetic-null", levels, rows)
}

// SkewedDataset builds a dataset where group-a is shifted toward the lowest
// bracket with the given probability mass, and group-b toward the highest.
func (t *TestKit) SkewedDataset(perGroup int, skew float64) (*survey.Dataset, error) {
	levels := IncomeLevels()
	rows := make([]survey.Observation, 0, perGroup*2)
	for i := 0; i < perGroup; i++ {
		rows = append(rows, survey.Observation{
			Group:   levels.Groups[0],
			Outcome: t.skewedBracket(levels, skew, 0),
			Strata:  t.randomStrata(levels),
		})
		rows = append(rows, survey.Observation{
			Group:   levels.Groups[1],
			Outcome: t.skewedBracket(levels, skew, len(levels.Outcomes)-1),
			Strata:  t.randomStrata(levels),
		})
	}
	return survey.NewDataset("synthetic-skewed", levels, rows)
}

func (t *TestKit) skewedBracket(levels survey.Levels, skew float64, favored int) survey.OutcomeLevel {
	if t.rng.Float64() < skew {
		return levels.Outcomes[favored]
	}
	return levels.Outcomes[t.rng.Intn(len(levels.Outcomes))]
}

func (t *TestKit) randomStrata(levels survey.Levels) map[core.CovariateKey]string {
	strata := make(map[core.CovariateKey]string, len(levels.Covariates))
	for key, vals := range levels.Covariates {
		strata[key] = vals[t.rng.Intn(len(vals))]
	}
	return strata
}

// Reader wraps a fixture dataset behind the DatasetReaderPort so services
// can be wired without touching files or a database.
type Reader struct {
	ds *survey.Dataset
}

// NewReader creates a fixture-backed dataset reader
func NewReader(ds *survey.Dataset) *Reader {
	return &Reader{ds: ds}
}

func (r *Reader) ReadDataset(ctx context.Context) (*survey.Dataset, error) {
	return r.ds, nil
}

var _ ports.DatasetReaderPort = (*Reader)(nil)
