package excel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stratatest/domain/core"
	"stratatest/domain/survey"
)

func testLevels() survey.Levels {
	return survey.Levels{
		Groups:   [2]survey.Group{"urban", "rural"},
		Outcomes: []survey.OutcomeLevel{"low", "mid", "high"},
		Covariates: map[core.CovariateKey][]string{
			"age": {"young", "old"},
		},
	}
}

func testMapping() ColumnMapping {
	return ColumnMapping{
		Group:   "region",
		Outcome: "income",
		Covariates: map[core.CovariateKey]string{
			"age": "age_band",
		},
	}
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestDataReader_CSV(t *testing.T) {
	path := writeCSV(t, "region,income,age_band\n"+
		"urban,low,young\n"+
		"rural,high,old\n"+
		"urban,mid,young\n")

	reader := NewDataReader(path, testLevels(), testMapping())
	ds, err := reader.ReadDataset(context.Background())
	if err != nil {
		t.Fatalf("ReadDataset failed: %v", err)
	}

	if ds.Len() != 3 {
		t.Errorf("Expected 3 observations, got %d", ds.Len())
	}
	if ds.Name != "survey" {
		t.Errorf("Expected dataset name 'survey', got %q", ds.Name)
	}

	first := ds.Row(0)
	if first.Group != "urban" || first.Outcome != "low" {
		t.Errorf("Unexpected first row: %+v", first)
	}
	if first.Strata["age"] != "young" {
		t.Errorf("Expected age covariate 'young', got %q", first.Strata["age"])
	}
}

func TestDataReader_FiltersIncompleteRows(t *testing.T) {
	path := writeCSV(t, "region,income,age_band\n"+
		"urban,low,young\n"+
		",high,old\n"+
		"rural,,old\n"+
		"rural,high,old\n")

	reader := NewDataReader(path, testLevels(), testMapping())
	ds, err := reader.ReadDataset(context.Background())
	if err != nil {
		t.Fatalf("ReadDataset failed: %v", err)
	}
	if ds.Len() != 2 {
		t.Errorf("Expected 2 observations after filtering, got %d", ds.Len())
	}
}

func TestDataReader_RejectsUndeclaredValue(t *testing.T) {
	path := writeCSV(t, "region,income,age_band\n"+
		"urban,low,young\n"+
		"suburban,low,young\n")

	reader := NewDataReader(path, testLevels(), testMapping())
	_, err := reader.ReadDataset(context.Background())
	if err == nil {
		t.Fatal("Expected error for undeclared group value")
	}
	if !errors.Is(err, core.ErrUnknownLevel) {
		t.Errorf("Expected ErrUnknownLevel, got %v", err)
	}
}

func TestDataReader_MissingColumn(t *testing.T) {
	path := writeCSV(t, "region,age_band\nurban,young\n")

	reader := NewDataReader(path, testLevels(), testMapping())
	if _, err := reader.ReadDataset(context.Background()); err == nil {
		t.Fatal("Expected error for missing outcome column")
	}
}

func TestDataReader_MissingFile(t *testing.T) {
	reader := NewDataReader("/nonexistent/survey.csv", testLevels(), testMapping())
	if _, err := reader.ReadDataset(context.Background()); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
