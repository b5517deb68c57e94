package ports

import (
	"context"

	"stratatest/domain/survey"
)

// DatasetReaderPort loads a validated dataset from an external source
// (spreadsheet, database, synthetic generator). Malformed rows are the
// reader's problem: whatever comes out of here is clean.
type DatasetReaderPort interface {
	ReadDataset(ctx context.Context) (*survey.Dataset, error)
}
