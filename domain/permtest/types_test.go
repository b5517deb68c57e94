package permtest

import (
	"errors"
	"testing"

	"stratatest/domain/core"
	"stratatest/domain/survey"
)

func testLevels() survey.Levels {
	return survey.Levels{
		Groups:   [2]survey.Group{"A", "B"},
		Outcomes: []survey.OutcomeLevel{"X", "Y"},
	}
}

func fullDirections() map[survey.OutcomeLevel]Direction {
	return map[survey.OutcomeLevel]Direction{
		"X": DirectionGreater,
		"Y": DirectionLess,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid defaults", func(c *Config) {}, nil},
		{"zero replicates", func(c *Config) { c.NumReplicates = 0 }, core.ErrInvalidConfig},
		{"negative sample size", func(c *Config) { c.SampleSize = -1 }, core.ErrInvalidConfig},
		{"alpha at zero", func(c *Config) { c.SignificanceLevel = 0 }, core.ErrInvalidConfig},
		{"alpha at one", func(c *Config) { c.SignificanceLevel = 1 }, core.ErrInvalidConfig},
		{"zero min stratum", func(c *Config) { c.MinStratumSize = 0 }, core.ErrInvalidConfig},
		{"missing direction", func(c *Config) { delete(c.Directions, "Y") }, core.ErrInvalidDirection},
		{"bogus direction", func(c *Config) { c.Directions["X"] = Direction("!=") }, core.ErrInvalidDirection},
		{"direction for unknown level", func(c *Config) { c.Directions["Z"] = DirectionGreater }, core.ErrUnknownLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Directions = fullDirections()
			tt.mutate(&cfg)
			err := cfg.Validate(testLevels())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_HashDistinguishesRuns(t *testing.T) {
	base := DefaultConfig()
	base.Directions = fullDirections()

	same := DefaultConfig()
	same.Directions = fullDirections()
	if base.Hash() != same.Hash() {
		t.Error("identical configs produced different hashes")
	}

	reseeded := DefaultConfig()
	reseeded.Directions = fullDirections()
	reseeded.Seed = 999
	if base.Hash() == reseeded.Hash() {
		t.Error("different seeds produced the same config hash")
	}
}

func TestNewPValueResult_Invariants(t *testing.T) {
	valid := PValueResult{
		Stratum:    survey.KeyAll,
		Level:      "X",
		Direction:  DirectionGreater,
		PValue:     0.04,
		Replicates: 1000,
	}
	if _, err := NewPValueResult(valid); err != nil {
		t.Errorf("valid result rejected: %v", err)
	}

	bad := valid
	bad.PValue = 1.5
	if _, err := NewPValueResult(bad); err == nil {
		t.Error("out-of-range p-value accepted")
	}

	bad = valid
	bad.Replicates = 0
	if _, err := NewPValueResult(bad); err == nil {
		t.Error("zero replicates accepted")
	}

	bad = valid
	bad.Direction = ""
	if _, err := NewPValueResult(bad); err == nil {
		t.Error("missing direction accepted")
	}
}

func TestReject(t *testing.T) {
	if !Reject(0.01, 0.05) {
		t.Error("p below alpha must reject")
	}
	if Reject(0.05, 0.05) {
		t.Error("p equal to alpha must not reject")
	}
	if Reject(0.2, 0.05) {
		t.Error("p above alpha must not reject")
	}
}
