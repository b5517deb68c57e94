package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"stratatest/adapters/excel"
	"stratatest/adapters/permutation"
	"stratatest/adapters/postgres"
	"stratatest/adapters/rng"
	"stratatest/app"
	"stratatest/domain/core"
	"stratatest/domain/permtest"
	"stratatest/internal/config"
	"stratatest/internal/report"
	"stratatest/ports"
	"stratatest/ui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stratatest",
		Short: "StrataTest CLI for stratified permutation tests on survey data",
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newExportCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAnalyzeCmd() *cobra.Command {
	var seed int64
	var replicates int
	var sampleSize int
	var workers int
	var xlsxOut string
	var markdownOut string

	cmd := &cobra.Command{
		Use:   "analyze [input-file]",
		Short: "Run the permutation analysis against an observation file",
		Long: `Run the stratified permutation analysis against an .xlsx or .csv
observation file. Level declarations, column mapping and test directions
come from the environment (see .env.example).

Example: stratatest analyze survey.xlsx --seed 12345 --replicates 5000 --xlsx results.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args[0], seed, replicates, sampleSize, workers, xlsxOut, markdownOut)
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed override (0 keeps the configured seed)")
	cmd.Flags().IntVar(&replicates, "replicates", 0, "Replicate count override")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "Bootstrap resample size per replicate (0 shuffles the original rows)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Replicate worker count override")
	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "Write the run to an Excel workbook at this path")
	cmd.Flags().StringVar(&markdownOut, "markdown", "", "Write the markdown report to this path (- for stdout)")

	return cmd
}

func newExportCmd() *cobra.Command {
	var xlsxOut string
	var markdownOut string

	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Export a stored run as an Excel workbook or markdown report",
		Long: `Load a persisted run from the database and export it. Requires
DATABASE_URL to point at the instance the run was saved to.

Example: stratatest export 0198... --xlsx results.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), args[0], xlsxOut, markdownOut)
		},
	}

	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "Write the run to an Excel workbook at this path")
	cmd.Flags().StringVar(&markdownOut, "markdown", "", "Write the markdown report to this path (- for stdout)")

	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	return cmd
}

// loadConfig loads .env (when present) and the environment configuration.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return config.Load()
}

// openDatabase connects when DATABASE_URL is set; a nil return with nil
// error means persistence is disabled.
func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// columnMapping maps each declared covariate to a spreadsheet column of the
// same name; the group and outcome columns come from the configuration.
func columnMapping(appConfig *config.Config) excel.ColumnMapping {
	mapping := excel.ColumnMapping{
		Group:      appConfig.Data.GroupColumn,
		Outcome:    appConfig.Data.OutcomeColumn,
		Covariates: make(map[core.CovariateKey]string),
	}
	for key := range appConfig.Data.CovariateLevels {
		mapping.Covariates[core.CovariateKey(key)] = key
	}
	return mapping
}

func buildService(db *sqlx.DB, workers int) *app.AnalysisService {
	engine := permutation.NewEngine(rng.NewSeededAdapter())
	if workers > 0 {
		engine.SetWorkers(workers)
	}
	var results ports.ResultRepositoryPort
	if db != nil {
		results = postgres.NewResultRepository(db)
	}
	return app.NewAnalysisService(engine, results)
}

func runAnalyze(ctx context.Context, inputFile string, seed int64, replicates, sampleSize, workers int, xlsxOut, markdownOut string) error {
	appConfig, err := loadConfig()
	if err != nil {
		return err
	}

	testCfg := appConfig.TestConfig()
	if seed != 0 {
		testCfg.Seed = seed
	}
	if replicates > 0 {
		testCfg.NumReplicates = replicates
	}
	if sampleSize > 0 {
		testCfg.SampleSize = sampleSize
	}
	if workers > 0 {
		testCfg.Workers = workers
	}

	reader := excel.NewDataReader(inputFile, appConfig.Levels(), columnMapping(appConfig))
	ds, err := reader.ReadDataset(ctx)
	if err != nil {
		return err
	}

	db, err := openDatabase(appConfig)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	service := buildService(db, workers)
	result, err := service.RunAnalysis(ctx, ds, testCfg)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d strata evaluated, %d skipped (%dms)\n",
		result.Manifest.RunID, result.Manifest.StrataEvaluated,
		result.Manifest.StrataSkipped, result.Manifest.RuntimeMs)

	return writeOutputs(result, xlsxOut, markdownOut)
}

func runExport(ctx context.Context, runID, xlsxOut, markdownOut string) error {
	appConfig, err := loadConfig()
	if err != nil {
		return err
	}
	if appConfig.Database.URL == "" {
		return fmt.Errorf("export requires DATABASE_URL")
	}

	db, err := openDatabase(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewResultRepository(db)
	result, err := repo.GetRun(ctx, core.RunID(runID))
	if err != nil {
		return err
	}

	return writeOutputs(result, xlsxOut, markdownOut)
}

func runServe() error {
	appConfig, err := loadConfig()
	if err != nil {
		return err
	}
	if appConfig.Data.InputFile == "" && appConfig.Database.URL == "" {
		return fmt.Errorf("serve requires DATA_FILE or DATABASE_URL as the dataset source")
	}

	db, err := openDatabase(appConfig)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var reader ports.DatasetReaderPort
	if appConfig.Data.InputFile != "" {
		reader = excel.NewDataReader(appConfig.Data.InputFile, appConfig.Levels(), columnMapping(appConfig))
	} else {
		reader = postgres.NewObservationRepository(db, appConfig.Levels(), "default")
	}

	service := buildService(db, appConfig.Analysis.Workers)
	server := ui.NewServer(service, reader, appConfig.TestConfig())
	return server.Start(":" + appConfig.Server.Port)
}

// writeOutputs fans a completed run out to the requested export targets.
func writeOutputs(result *permtest.RunResult, xlsxOut, markdownOut string) error {
	if xlsxOut != "" {
		if err := excel.NewResultWriter().Write(result, xlsxOut); err != nil {
			return err
		}
	}
	if markdownOut != "" {
		md := report.Markdown(result)
		if markdownOut == "-" {
			fmt.Print(md)
		} else {
			if err := os.WriteFile(markdownOut, []byte(md), 0644); err != nil {
				return fmt.Errorf("failed to write markdown report: %w", err)
			}
			log.Printf("Markdown report written to %s", markdownOut)
		}
	}
	return nil
}
