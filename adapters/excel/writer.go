package excel

import (
	"fmt"
	"log"
	"sort"

	"github.com/xuri/excelize/v2"

	"stratatest/domain/permtest"
	"stratatest/domain/survey"
)

// ResultWriter exports a completed analysis run as an Excel workbook:
// one sheet for the run manifest, one for the p-value table, one for the
// observed proportion tables.
type ResultWriter struct{}

// NewResultWriter creates a result writer
func NewResultWriter() *ResultWriter {
	return &ResultWriter{}
}

// Write saves the run to path.
func (w *ResultWriter) Write(result *permtest.RunResult, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := w.writeManifest(f, result); err != nil {
		return err
	}
	if err := w.writeResults(f, result); err != nil {
		return err
	}
	if err := w.writeProportions(f, result); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	log.Printf("[ResultWriter] Run %s exported to %s", result.Manifest.RunID, path)
	return nil
}

func (w *ResultWriter) writeManifest(f *excelize.File, result *permtest.RunResult) error {
	sheet := "Manifest"
	if err := renameDefaultSheet(f, sheet); err != nil {
		return err
	}

	m := result.Manifest
	rows := [][]interface{}{
		{"run_id", m.RunID.String()},
		{"dataset", m.DatasetName},
		{"dataset_hash", m.DatasetHash.String()},
		{"config_hash", m.ConfigHash.String()},
		{"seed", m.Seed},
		{"num_replicates", m.NumReplicates},
		{"sample_size", m.SampleSize},
		{"significance_level", result.Config.SignificanceLevel},
		{"strata_evaluated", m.StrataEvaluated},
		{"strata_skipped", m.StrataSkipped},
		{"runtime_ms", m.RuntimeMs},
		{"created_at", m.CreatedAt.String()},
	}
	return writeRows(f, sheet, nil, rows)
}

func (w *ResultWriter) writeResults(f *excelize.File, result *permtest.RunResult) error {
	sheet := "Results"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []interface{}{
		"stratum", "level", "direction", "observed_diff", "p_value",
		"std_err", "ci_low", "ci_high", "replicates", "small_sample",
		"decision", "null_mean", "null_std_dev", "null_p95", "null_p99",
		"skip_reason",
	}

	alpha := result.Config.SignificanceLevel
	var rows [][]interface{}
	for _, stratum := range result.Strata {
		if stratum.Skipped {
			rows = append(rows, []interface{}{
				stratum.Stratum.String(), "", "", "", "", "", "", "", "", "",
				"skipped", "", "", "", "", stratum.SkipReason,
			})
			continue
		}
		for _, r := range stratum.Results {
			decision := "fail_to_reject"
			if permtest.Reject(r.PValue, alpha) {
				decision = "reject"
			}
			rows = append(rows, []interface{}{
				r.Stratum.String(), r.Level.String(), string(r.Direction),
				r.Observed, r.PValue, r.StdErr, r.CILow, r.CIHigh,
				r.Replicates, r.SmallSample, decision,
				r.Null.Mean, r.Null.StdDev, r.Null.Percentile95, r.Null.Percentile99,
				"",
			})
		}
	}
	return writeRows(f, sheet, headers, rows)
}

func (w *ResultWriter) writeProportions(f *excelize.File, result *permtest.RunResult) error {
	sheet := "Proportions"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []interface{}{"stratum", "group", "count", "level", "proportion"}
	var rows [][]interface{}
	for _, stratum := range result.Strata {
		for _, summary := range stratum.Observed {
			levels := make([]string, 0, len(summary.Proportions))
			for level := range summary.Proportions {
				levels = append(levels, level.String())
			}
			sort.Strings(levels)
			for _, level := range levels {
				rows = append(rows, []interface{}{
					summary.Stratum.String(), summary.Group.String(),
					summary.Count, level, summary.Proportions[survey.OutcomeLevel(level)],
				})
			}
		}
	}
	return writeRows(f, sheet, headers, rows)
}

func renameDefaultSheet(f *excelize.File, name string) error {
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return nil
}

func writeRows(f *excelize.File, sheet string, headers []interface{}, rows [][]interface{}) error {
	rowIdx := 1
	if headers != nil {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, rowIdx)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
		}
		rowIdx++
	}
	for _, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, rowIdx)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		rowIdx++
	}
	return nil
}
