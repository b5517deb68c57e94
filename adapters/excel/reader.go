package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"stratatest/domain/core"
	"stratatest/domain/survey"
	"stratatest/ports"
)

// ColumnMapping names the spreadsheet columns that carry the logical fields.
// Covariates maps each declared covariate to its column header.
type ColumnMapping struct {
	Group      string
	Outcome    string
	Covariates map[core.CovariateKey]string
}

// DataReader loads survey observations from Excel or CSV files and validates
// them against a declared level registry. Rows with a missing group or
// outcome are filtered out here, at the loading boundary - the engine
// downstream assumes a clean dataset.
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	levels   survey.Levels
	mapping  ColumnMapping
}

// NewDataReader creates a reader that handles both Excel and CSV files
func NewDataReader(filePath string, levels survey.Levels, mapping ColumnMapping) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, levels: levels, mapping: mapping}
}

var _ ports.DatasetReaderPort = (*DataReader)(nil)

// ReadDataset reads and validates the observation file.
func (r *DataReader) ReadDataset(ctx context.Context) (*survey.Dataset, error) {
	log.Printf("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}

	return r.processRows(rows)
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	// Always use Sheet1
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	log.Printf("[DataReader] Sheet1 read in %.2fms (%d rows)",
		float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	startTime := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	log.Printf("[DataReader] CSV file read in %.2fms (%d rows)",
		float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

// processRows resolves the column mapping against the header row and builds
// validated observations.
func (r *DataReader) processRows(rows [][]string) (*survey.Dataset, error) {
	headers := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		headers[strings.TrimSpace(header)] = i
	}

	groupCol, ok := headers[r.mapping.Group]
	if !ok {
		return nil, fmt.Errorf("group column %q not found in header", r.mapping.Group)
	}
	outcomeCol, ok := headers[r.mapping.Outcome]
	if !ok {
		return nil, fmt.Errorf("outcome column %q not found in header", r.mapping.Outcome)
	}
	covCols := make(map[core.CovariateKey]int, len(r.mapping.Covariates))
	for key, header := range r.mapping.Covariates {
		col, ok := headers[header]
		if !ok {
			return nil, fmt.Errorf("covariate column %q not found in header", header)
		}
		covCols[key] = col
	}

	observations := make([]survey.Observation, 0, len(rows)-1)
	dropped := 0
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		group := cellAt(row, groupCol)
		outcome := cellAt(row, outcomeCol)
		if group == "" || outcome == "" {
			dropped++
			continue
		}

		obs := survey.Observation{
			Group:   survey.Group(group),
			Outcome: survey.OutcomeLevel(outcome),
		}
		if len(covCols) > 0 {
			obs.Strata = make(map[core.CovariateKey]string, len(covCols))
			for key, col := range covCols {
				obs.Strata[key] = cellAt(row, col)
			}
		}
		observations = append(observations, obs)
	}

	if dropped > 0 {
		log.Printf("[DataReader] Filtered %d rows with missing group or outcome", dropped)
	}
	log.Printf("[DataReader] %s file processed (%d observations)", strings.ToUpper(r.fileType), len(observations))

	name := strings.TrimSuffix(filepath.Base(r.filePath), filepath.Ext(r.filePath))
	return survey.NewDataset(name, r.levels, observations)
}

func cellAt(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
