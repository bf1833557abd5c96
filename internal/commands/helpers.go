package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/fleetsight-systems/fleetsight/internal/changepoint"
	"github.com/fleetsight-systems/fleetsight/internal/corpus"
	"github.com/fleetsight-systems/fleetsight/internal/repository"
	"github.com/fleetsight-systems/fleetsight/internal/survival"
)

// openRepo migrates the warehouse schema and opens the repository.
// Every command that touches the warehouse goes through here so the
// schema is always current before the first write.
func openRepo(ctx context.Context) (repository.Repository, error) {
	pg := cfg.Database.Postgres
	m, err := migrate.New("file://"+pg.MigrationsDir, pg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return nil, fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return nil, fmt.Errorf("close migration connection: %w", dbErr)
	}

	repo, err := repository.NewPostgresRepository(ctx, pg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	return repo, nil
}

// openSource builds the corpus source from configuration. The postgres
// source reads the trailing analysis window from the staging tables.
func openSource(repo repository.Repository) (corpus.Source, error) {
	switch cfg.Corpus.Source {
	case "jsonl":
		return corpus.JSONLSource{
			TripsPath:  cfg.Corpus.TripsPath,
			EventsPath: cfg.Corpus.EventsPath,
		}, nil
	case "postgres":
		if repo == nil {
			return nil, errors.New("postgres corpus source requires a warehouse connection")
		}
		now := time.Now().UTC()
		to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return corpus.StoreSource{
			Store: repo,
			From:  to.AddDate(0, 0, -cfg.Corpus.WindowDays),
			To:    to,
		}, nil
	default:
		return nil, fmt.Errorf("unknown corpus source %q", cfg.Corpus.Source)
	}
}

// survivalConfig maps the analytics section onto a survival model fit.
func survivalConfig() survival.Config {
	a := cfg.Analytics
	return survival.Config{
		Draws:            a.Draws,
		Warmup:           a.Warmup,
		Chains:           a.Chains,
		Seed:             a.RandomSeed,
		CredibleInterval: a.CredibleInterval,
		VehicleEffects:   a.VehicleEffects,
	}
}

// detectorConfig maps the analytics section onto the detector gates.
func detectorConfig() changepoint.Config {
	a := cfg.Analytics
	return changepoint.Config{
		ProbabilityThreshold: a.ChangepointProbabilityThreshold,
		RegressionThreshold:  a.RegressionThreshold,
		CredibleInterval:     a.CredibleInterval,
		MinEvents:            a.MinEventsForDetection,
		Workers:              a.Workers,
		Seed:                 a.RandomSeed,
	}
}

// printJSON writes a dry-run payload to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
