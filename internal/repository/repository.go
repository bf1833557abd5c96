package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

var (
	ErrEpisodeNotFound = errors.New("regression episode not found")
	ErrRunNotFound     = errors.New("model run not found")
)

// Repository defines the interface for warehouse persistence: staging
// corpus, published model runs, and regression episodes.
type Repository interface {
	// Staging corpus operations
	InsertTrips(ctx context.Context, trips []models.Trip) error
	InsertEvents(ctx context.Context, events []models.Event) error
	StagingTrips(ctx context.Context, from, to time.Time) ([]models.Trip, error)
	StagingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)

	// Model run publication. Each publish is atomic: the run row and
	// every output land together or not at all.
	PublishSurvivalRun(ctx context.Context, run models.ModelRun, outputs []models.SurvivalOutput) error
	PublishChangepointRun(ctx context.Context, run models.ModelRun, outputs []models.ChangepointOutput) error
	PublishExperiment(ctx context.Context, run models.ModelRun, results []models.SamplingExperimentResult) error
	GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error)

	// Regression episode operations
	UpsertEpisode(ctx context.Context, ep *models.RegressionEpisode) error
	GetEpisode(ctx context.Context, regressionID string) (*models.RegressionEpisode, error)
	GetOpenEpisode(ctx context.Context, vehicleID string) (*models.RegressionEpisode, error)
	ListEpisodes(ctx context.Context, state models.EpisodeState, limit int) ([]*models.RegressionEpisode, error)
	ResolveEpisode(ctx context.Context, regressionID string, endTS time.Time) error

	// Batch diagnostics
	InsertDiagnostics(ctx context.Context, d models.BatchDiagnostics) error

	// Utility
	Close() error
}
