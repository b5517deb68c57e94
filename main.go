package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"stratatest/adapters/excel"
	"stratatest/adapters/permutation"
	"stratatest/adapters/postgres"
	"stratatest/adapters/rng"
	"stratatest/app"
	"stratatest/domain/core"
	"stratatest/internal/config"
	"stratatest/internal/errors"
	"stratatest/ports"
	"stratatest/ui"
)

// initDatabase connects to PostgreSQL and applies the schema. A missing
// DATABASE_URL is not an error: the server then runs without persistence.
func initDatabase(appConfig *config.Config) (*sqlx.DB, error) {
	if appConfig.Database.URL == "" {
		log.Println("DATABASE_URL not set, running without persistence")
		return nil, nil
	}

	db, err := sqlx.Connect("postgres", appConfig.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := postgres.EnsureSchema(db); err != nil {
		return nil, errors.Wrap(err, "failed to apply schema")
	}

	log.Println("Database connection established")
	return db, nil
}

// buildReader picks the dataset source: the observation file when DATA_FILE
// is set, otherwise the observations table.
func buildReader(appConfig *config.Config, db *sqlx.DB) (ports.DatasetReaderPort, error) {
	if appConfig.Data.InputFile != "" {
		mapping := excel.ColumnMapping{
			Group:      appConfig.Data.GroupColumn,
			Outcome:    appConfig.Data.OutcomeColumn,
			Covariates: make(map[core.CovariateKey]string),
		}
		for key := range appConfig.Data.CovariateLevels {
			mapping.Covariates[core.CovariateKey(key)] = key
		}
		return excel.NewDataReader(appConfig.Data.InputFile, appConfig.Levels(), mapping), nil
	}
	if db != nil {
		return postgres.NewObservationRepository(db, appConfig.Levels(), "default"), nil
	}
	return nil, errors.New(errors.CodeConfig, "no dataset source: set DATA_FILE or DATABASE_URL")
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	gin.SetMode(appConfig.Server.GinMode)

	db, err := initDatabase(appConfig)
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	reader, err := buildReader(appConfig, db)
	if err != nil {
		log.Fatalf("Dataset source configuration failed: %v", err)
	}

	engine := permutation.NewEngine(rng.NewSeededAdapter())
	if appConfig.Analysis.Workers > 0 {
		engine.SetWorkers(appConfig.Analysis.Workers)
	}

	var results ports.ResultRepositoryPort
	if db != nil {
		results = postgres.NewResultRepository(db)
	}
	service := app.NewAnalysisService(engine, results)

	server := ui.NewServer(service, reader, appConfig.TestConfig())
	if err := server.Start(":" + appConfig.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
