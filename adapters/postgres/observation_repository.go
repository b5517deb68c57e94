package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"stratatest/domain/core"
	"stratatest/domain/survey"
	"stratatest/ports"
)

// ObservationRepository loads survey observations from Postgres and
// validates them against a declared level registry. Rows with a missing
// group or outcome are filtered at this boundary, matching the file reader.
type ObservationRepository struct {
	db     *sqlx.DB
	levels survey.Levels
	name   string
}

// NewObservationRepository creates a reader for the named dataset
func NewObservationRepository(db *sqlx.DB, levels survey.Levels, datasetName string) *ObservationRepository {
	return &ObservationRepository{db: db, levels: levels, name: datasetName}
}

var _ ports.DatasetReaderPort = (*ObservationRepository)(nil)

type observationRow struct {
	GroupValue   string `db:"group_value"`
	OutcomeValue string `db:"outcome_value"`
	Covariates   []byte `db:"covariates"`
}

// ReadDataset loads every observation row for the dataset.
func (r *ObservationRepository) ReadDataset(ctx context.Context) (*survey.Dataset, error) {
	query := `
		SELECT group_value, outcome_value, covariates
		FROM observations
		WHERE dataset_name = $1
		ORDER BY id`

	var rows []observationRow
	if err := r.db.SelectContext(ctx, &rows, query, r.name); err != nil {
		return nil, fmt.Errorf("failed to load observations for %q: %w", r.name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrDatasetNotFound, r.name)
	}

	observations := make([]survey.Observation, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row.GroupValue == "" || row.OutcomeValue == "" {
			dropped++
			continue
		}
		obs := survey.Observation{
			Group:   survey.Group(row.GroupValue),
			Outcome: survey.OutcomeLevel(row.OutcomeValue),
		}
		if len(row.Covariates) > 0 {
			strata := make(map[core.CovariateKey]string)
			if err := json.Unmarshal(row.Covariates, &strata); err != nil {
				return nil, fmt.Errorf("failed to decode covariates: %w", err)
			}
			obs.Strata = strata
		}
		observations = append(observations, obs)
	}

	if dropped > 0 {
		log.Printf("[ObservationRepository] Filtered %d rows with missing group or outcome", dropped)
	}
	log.Printf("[ObservationRepository] Loaded %d observations for dataset %q", len(observations), r.name)

	return survey.NewDataset(r.name, r.levels, observations)
}
