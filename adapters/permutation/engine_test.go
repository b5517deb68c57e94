package permutation

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"stratatest/adapters/rng"
	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
)

func newTestEngine() *Engine {
	return NewEngine(rng.NewSeededAdapter())
}

func twoGroupLevels() survey.Levels {
	return survey.Levels{
		Groups:   [2]survey.Group{"A", "B"},
		Outcomes: []survey.OutcomeLevel{"X", "Y"},
	}
}

func directionsFor(levels survey.Levels, dir permtest.Direction) map[survey.OutcomeLevel]permtest.Direction {
	dirs := make(map[survey.OutcomeLevel]permtest.Direction, len(levels.Outcomes))
	for _, level := range levels.Outcomes {
		dirs[level] = dir
	}
	return dirs
}

// repeatRows builds count observations of the same shape.
func repeatRows(count int, group survey.Group, outcome survey.OutcomeLevel, strata map[core.CovariateKey]string) []survey.Observation {
	rows := make([]survey.Observation, count)
	for i := range rows {
		rows[i] = survey.Observation{Group: group, Outcome: outcome, Strata: strata}
	}
	return rows
}

func TestEngine_ExtremeAssociation(t *testing.T) {
	// 10 group-A rows all outcome X, 10 group-B rows all outcome Y.
	// Observed difference in proportion of X is 1.0 - 0.0 = 1.0; no shuffled
	// replicate can exceed it, so the one-sided p-value is at the floor.
	levels := twoGroupLevels()
	rows := append(repeatRows(10, "A", "X", nil), repeatRows(10, "B", "Y", nil)...)
	ds, err := survey.NewDataset("extreme", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 1000
	cfg.Seed = 42
	cfg.Directions = map[survey.OutcomeLevel]permtest.Direction{
		"X": permtest.DirectionGreater,
		"Y": permtest.DirectionLess,
	}

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 stratum result, got %d", len(results))
	}

	stratum := results[0]
	if stratum.Skipped {
		t.Fatalf("stratum unexpectedly skipped: %s", stratum.SkipReason)
	}
	for _, r := range stratum.Results {
		if r.Level != "X" {
			continue
		}
		if r.Observed != 1.0 {
			t.Errorf("expected observed difference 1.0 for X, got %f", r.Observed)
		}
		if r.PValue > 1.0/float64(cfg.NumReplicates) {
			t.Errorf("expected p-value at the Monte-Carlo floor, got %f", r.PValue)
		}
	}
}

func TestEngine_BalancedNull(t *testing.T) {
	// Outcome independent of group by construction: each arm is exactly
	// half X, half Y. The observed difference is 0 and the shuffled
	// differences are symmetric around it, so p lands well inside (0,1).
	levels := twoGroupLevels()
	rows := append(repeatRows(50, "A", "X", nil), repeatRows(50, "A", "Y", nil)...)
	rows = append(rows, repeatRows(50, "B", "X", nil)...)
	rows = append(rows, repeatRows(50, "B", "Y", nil)...)
	ds, err := survey.NewDataset("null", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 1000
	cfg.Seed = 7
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, r := range results[0].Results {
		if r.Observed != 0.0 {
			t.Errorf("level %s: expected observed difference 0.0, got %f", r.Level, r.Observed)
		}
		if r.PValue < 0.3 || r.PValue > 0.8 {
			t.Errorf("level %s: expected central p-value under the null, got %f", r.Level, r.PValue)
		}
	}
}

func TestEngine_PValueBoundsAndProportions(t *testing.T) {
	levels := survey.Levels{
		Groups:   [2]survey.Group{"A", "B"},
		Outcomes: []survey.OutcomeLevel{"low", "mid", "high"},
	}
	rows := append(repeatRows(20, "A", "low", nil), repeatRows(15, "A", "mid", nil)...)
	rows = append(rows, repeatRows(5, "A", "high", nil)...)
	rows = append(rows, repeatRows(10, "B", "low", nil)...)
	rows = append(rows, repeatRows(15, "B", "mid", nil)...)
	rows = append(rows, repeatRows(15, "B", "high", nil)...)
	ds, err := survey.NewDataset("brackets", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 500
	cfg.Seed = 99
	cfg.Directions = map[survey.OutcomeLevel]permtest.Direction{
		"low":  permtest.DirectionGreater,
		"mid":  permtest.DirectionLess,
		"high": permtest.DirectionLess,
	}

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stratum := results[0]
	for _, summary := range stratum.Observed {
		total := 0.0
		for _, p := range summary.Proportions {
			total += p
		}
		if math.Abs(total-1.0) > 1e-9 {
			t.Errorf("group %s: proportions sum to %f, want 1.0", summary.Group, total)
		}
	}
	for _, r := range stratum.Results {
		if r.PValue < 0.0 || r.PValue > 1.0 {
			t.Errorf("level %s: p-value %f outside [0,1]", r.Level, r.PValue)
		}
		if r.CILow > r.PValue || r.CIHigh < r.PValue {
			t.Errorf("level %s: CI [%f,%f] does not cover p-value %f", r.Level, r.CILow, r.CIHigh, r.PValue)
		}
	}
}

func TestEngine_Deterministic(t *testing.T) {
	levels := twoGroupLevels()
	rows := append(repeatRows(30, "A", "X", nil), repeatRows(20, "A", "Y", nil)...)
	rows = append(rows, repeatRows(20, "B", "X", nil)...)
	rows = append(rows, repeatRows(30, "B", "Y", nil)...)
	ds, err := survey.NewDataset("determinism", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 400
	cfg.Seed = 1234
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	first := newTestEngine()
	second := newTestEngine()
	second.SetWorkers(1) // scheduling must not affect results

	a, err := first.Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	b, err := second.Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("identical seed produced different results across worker counts")
	}
}

func TestEngine_PerfectSeparation(t *testing.T) {
	// Every group-A row lives in region S1, every group-B row in region S2.
	// Stratifying by region leaves one arm absent from each stratum, which
	// must surface as degenerate grouping - not as a silent zero.
	levels := twoGroupLevels()
	levels.Covariates = map[core.CovariateKey][]string{
		"region": {"S1", "S2"},
	}
	rows := append(
		repeatRows(25, "A", "X", map[core.CovariateKey]string{"region": "S1"}),
		repeatRows(25, "B", "Y", map[core.CovariateKey]string{"region": "S2"})...,
	)
	ds, err := survey.NewDataset("separated", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 200
	cfg.Seed = 5
	cfg.StratifyBy = []core.CovariateKey{"region"}
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 strata, got %d", len(results))
	}
	for _, stratum := range results {
		if !stratum.Skipped {
			t.Errorf("stratum %s: expected skip for degenerate grouping", stratum.Stratum)
			continue
		}
		if !strings.Contains(stratum.SkipReason, "degenerate grouping") {
			t.Errorf("stratum %s: unexpected skip reason %q", stratum.Stratum, stratum.SkipReason)
		}
	}
}

func TestEngine_EmptyDeclaredStratum(t *testing.T) {
	// A declared covariate level with no rows must be reported as
	// insufficient data, not silently dropped.
	levels := twoGroupLevels()
	levels.Covariates = map[core.CovariateKey][]string{
		"age": {"young", "old", "unseen"},
	}
	young := map[core.CovariateKey]string{"age": "young"}
	old := map[core.CovariateKey]string{"age": "old"}
	rows := append(repeatRows(20, "A", "X", young), repeatRows(20, "B", "Y", young)...)
	rows = append(rows, repeatRows(20, "A", "X", old)...)
	rows = append(rows, repeatRows(20, "B", "Y", old)...)
	ds, err := survey.NewDataset("sparse", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 200
	cfg.Seed = 11
	cfg.StratifyBy = []core.CovariateKey{"age"}
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var sawEmpty bool
	for _, stratum := range results {
		if stratum.Stratum == "age=unseen" {
			sawEmpty = true
			if !stratum.Skipped {
				t.Error("empty declared stratum was not skipped")
			}
			if !strings.Contains(stratum.SkipReason, "insufficient data") {
				t.Errorf("unexpected skip reason %q", stratum.SkipReason)
			}
		}
	}
	if !sawEmpty {
		t.Error("declared-but-empty stratum missing from results")
	}
}

func TestEngine_SmallSampleFlag(t *testing.T) {
	levels := twoGroupLevels()
	rows := append(repeatRows(10, "A", "X", nil), repeatRows(40, "B", "Y", nil)...)
	ds, err := survey.NewDataset("small", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 200
	cfg.Seed = 3
	cfg.MinStratumSize = 30
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stratum := results[0]
	if stratum.Skipped {
		t.Fatalf("small stratum must be flagged, not skipped: %s", stratum.SkipReason)
	}
	if !stratum.SmallSample {
		t.Error("expected small-sample flag for group with 10 observations")
	}
	for _, r := range stratum.Results {
		if !r.SmallSample {
			t.Errorf("level %s: expected small-sample flag on result", r.Level)
		}
	}
}

func TestEngine_MissingDirection(t *testing.T) {
	levels := twoGroupLevels()
	rows := append(repeatRows(10, "A", "X", nil), repeatRows(10, "B", "Y", nil)...)
	ds, err := survey.NewDataset("nodir", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.Directions = map[survey.OutcomeLevel]permtest.Direction{
		"X": permtest.DirectionGreater,
		// Y deliberately undeclared
	}

	_, err = newTestEngine().Run(context.Background(), ds, cfg)
	if err == nil {
		t.Fatal("expected error for missing direction")
	}
	if !core.IsStratumError(err) && !strings.Contains(err.Error(), "direction") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEngine_BootstrapResampling(t *testing.T) {
	levels := twoGroupLevels()
	rows := append(repeatRows(60, "A", "X", nil), repeatRows(40, "A", "Y", nil)...)
	rows = append(rows, repeatRows(40, "B", "X", nil)...)
	rows = append(rows, repeatRows(60, "B", "Y", nil)...)
	ds, err := survey.NewDataset("bootstrap", levels, rows)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = 300
	cfg.SampleSize = 150 // bootstrap resample before shuffling
	cfg.Seed = 21
	cfg.Directions = directionsFor(levels, permtest.DirectionGreater)

	results, err := newTestEngine().Run(context.Background(), ds, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stratum := results[0]
	if stratum.Skipped {
		t.Fatalf("unexpected skip: %s", stratum.SkipReason)
	}
	for _, r := range stratum.Results {
		if r.PValue < 0.0 || r.PValue > 1.0 {
			t.Errorf("level %s: p-value %f outside [0,1]", r.Level, r.PValue)
		}
		if r.Replicates <= 0 || r.Replicates > cfg.NumReplicates {
			t.Errorf("level %s: invalid replicate count %d", r.Level, r.Replicates)
		}
	}
}
