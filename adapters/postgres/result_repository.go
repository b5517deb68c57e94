package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/ports"
)

// Schema creates the tables this package expects. Applied by the host
// application at startup, not by the repositories themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS observations (
	id            BIGSERIAL PRIMARY KEY,
	dataset_name  TEXT NOT NULL,
	group_value   TEXT NOT NULL,
	outcome_value TEXT NOT NULL,
	covariates    JSONB
);
CREATE INDEX IF NOT EXISTS idx_observations_dataset ON observations (dataset_name);

CREATE TABLE IF NOT EXISTS analysis_runs (
	run_id       TEXT PRIMARY KEY,
	dataset_name TEXT NOT NULL,
	dataset_hash TEXT NOT NULL,
	config_hash  TEXT NOT NULL,
	seed         BIGINT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`

// ResultRepository persists completed analysis runs as JSONB payloads keyed
// by run id, with the manifest columns lifted out for listing.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

var _ ports.ResultRepositoryPort = (*ResultRepository)(nil)

// EnsureSchema applies the package schema.
func EnsureSchema(db *sqlx.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun stores a completed run.
func (r *ResultRepository) SaveRun(ctx context.Context, result *permtest.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run payload: %w", err)
	}

	query := `
		INSERT INTO analysis_runs (run_id, dataset_name, dataset_hash, config_hash, seed, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at`

	m := result.Manifest
	_, err = r.db.ExecContext(ctx, query,
		m.RunID.String(),
		m.DatasetName,
		m.DatasetHash.String(),
		m.ConfigHash.String(),
		m.Seed,
		payload,
		m.CreatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (r *ResultRepository) GetRun(ctx context.Context, id core.RunID) (*permtest.RunResult, error) {
	query := `SELECT payload FROM analysis_runs WHERE run_id = $1`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}

	var result permtest.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run payload: %w", err)
	}
	return &result, nil
}

// ListRuns returns the manifests of all stored runs, newest first.
func (r *ResultRepository) ListRuns(ctx context.Context) ([]permtest.RunManifest, error) {
	query := `SELECT payload FROM analysis_runs ORDER BY created_at DESC`

	var payloads [][]byte
	if err := r.db.SelectContext(ctx, &payloads, query); err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}

	manifests := make([]permtest.RunManifest, 0, len(payloads))
	for _, payload := range payloads {
		var result permtest.RunResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run payload: %w", err)
		}
		manifests = append(manifests, result.Manifest)
	}
	return manifests, nil
}
