package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/domain/survey"
	"stratatest/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Data     DataConfig
	Analysis AnalysisConfig
}

// DatabaseConfig holds database connection settings. A database is optional:
// the file reader path works without one.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// DataConfig holds dataset source settings
type DataConfig struct {
	// InputFile is an .xlsx or .csv observation file.
	InputFile string

	GroupColumn   string
	OutcomeColumn string

	// Groups declares the two comparison arms, in diff order.
	Groups [2]string

	// OutcomeLevels declares the ordered outcome levels.
	OutcomeLevels []string

	// CovariateLevels declares the level set per stratifying covariate,
	// parsed from "age=18-29|30-44;edu=hs|college" form.
	CovariateLevels map[string][]string
}

// AnalysisConfig holds permutation run settings
type AnalysisConfig struct {
	Replicates     int
	SampleSize     int
	Alpha          float64
	Seed           int64
	MinStratumSize int
	Workers        int

	// Directions maps outcome level to ">=" or "<=",
	// parsed from "X:>=,Y:<=" form.
	Directions map[string]string

	// StratifyBy lists covariates for the stratified pass.
	StratifyBy []string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8080"),
			GinMode: getEnv("GIN_MODE", "release"),
		},
	}

	data, err := loadDataConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load data configuration")
	}
	cfg.Data = *data

	analysis, err := loadAnalysisConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load analysis configuration")
	}
	cfg.Analysis = *analysis

	return cfg, nil
}

func loadDataConfig() (*DataConfig, error) {
	cfg := &DataConfig{
		InputFile:     os.Getenv("DATA_FILE"),
		GroupColumn:   getEnv("GROUP_COLUMN", "group"),
		OutcomeColumn: getEnv("OUTCOME_COLUMN", "outcome"),
	}

	groups := splitList(os.Getenv("GROUPS"))
	if len(groups) > 0 {
		if len(groups) != 2 {
			return nil, errors.New(errors.CodeConfig,
				fmt.Sprintf("GROUPS must declare exactly two values, got %d", len(groups)))
		}
		cfg.Groups = [2]string{groups[0], groups[1]}
	}

	cfg.OutcomeLevels = splitList(os.Getenv("OUTCOME_LEVELS"))

	covariates, err := parseCovariateLevels(os.Getenv("COVARIATE_LEVELS"))
	if err != nil {
		return nil, err
	}
	cfg.CovariateLevels = covariates

	return cfg, nil
}

func loadAnalysisConfig() (*AnalysisConfig, error) {
	cfg := &AnalysisConfig{
		Replicates:     getEnvInt("NUM_REPLICATES", 1000),
		SampleSize:     getEnvInt("SAMPLE_SIZE", 0),
		Alpha:          getEnvFloat("SIGNIFICANCE_LEVEL", 0.05),
		Seed:           int64(getEnvInt("SEED", 1)),
		MinStratumSize: getEnvInt("MIN_STRATUM_SIZE", 30),
		Workers:        getEnvInt("WORKERS", 0),
		StratifyBy:     splitList(os.Getenv("STRATIFY_BY")),
	}

	directions, err := parseDirections(os.Getenv("DIRECTIONS"))
	if err != nil {
		return nil, err
	}
	cfg.Directions = directions

	return cfg, nil
}

// Levels assembles the declared level registry for dataset validation.
func (c *Config) Levels() survey.Levels {
	levels := survey.Levels{
		Groups: [2]survey.Group{
			survey.Group(c.Data.Groups[0]),
			survey.Group(c.Data.Groups[1]),
		},
	}
	for _, o := range c.Data.OutcomeLevels {
		levels.Outcomes = append(levels.Outcomes, survey.OutcomeLevel(o))
	}
	if len(c.Data.CovariateLevels) > 0 {
		levels.Covariates = make(map[core.CovariateKey][]string, len(c.Data.CovariateLevels))
		for key, vals := range c.Data.CovariateLevels {
			levels.Covariates[core.CovariateKey(key)] = vals
		}
	}
	return levels
}

// TestConfig assembles the engine configuration from the analysis section.
func (c *Config) TestConfig() permtest.Config {
	cfg := permtest.DefaultConfig()
	cfg.NumReplicates = c.Analysis.Replicates
	cfg.SampleSize = c.Analysis.SampleSize
	cfg.SignificanceLevel = c.Analysis.Alpha
	cfg.Seed = c.Analysis.Seed
	cfg.MinStratumSize = c.Analysis.MinStratumSize
	cfg.Workers = c.Analysis.Workers
	cfg.Directions = make(map[survey.OutcomeLevel]permtest.Direction, len(c.Analysis.Directions))
	for level, dir := range c.Analysis.Directions {
		cfg.Directions[survey.OutcomeLevel(level)] = permtest.Direction(dir)
	}
	for _, key := range c.Analysis.StratifyBy {
		cfg.StratifyBy = append(cfg.StratifyBy, core.CovariateKey(key))
	}
	return cfg
}

// parseDirections parses "X:>=,Y:<=" into a level-to-direction map.
func parseDirections(raw string) (map[string]string, error) {
	directions := make(map[string]string)
	if raw == "" {
		return directions, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		idx := strings.LastIndex(pair, ":")
		if idx < 0 {
			return nil, errors.New(errors.CodeConfig,
				fmt.Sprintf("DIRECTIONS entry %q is not level:direction", pair))
		}
		level := strings.TrimSpace(pair[:idx])
		dir := strings.TrimSpace(pair[idx+1:])
		if dir != ">=" && dir != "<=" {
			return nil, errors.New(errors.CodeConfig,
				fmt.Sprintf("DIRECTIONS entry %q has direction %q, want >= or <=", pair, dir))
		}
		directions[level] = dir
	}
	return directions, nil
}

// parseCovariateLevels parses "age=18-29|30-44;edu=hs|college".
func parseCovariateLevels(raw string) (map[string][]string, error) {
	covariates := make(map[string][]string)
	if raw == "" {
		return covariates, nil
	}
	for _, entry := range strings.Split(raw, ";") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.New(errors.CodeConfig,
				fmt.Sprintf("COVARIATE_LEVELS entry %q is not key=v1|v2", entry))
		}
		covariates[strings.TrimSpace(parts[0])] = splitOn(parts[1], "|")
	}
	return covariates, nil
}

func splitList(raw string) []string {
	return splitOn(raw, ",")
}

func splitOn(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
