package corpus

import (
	"context"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Store is the slice of the repository the corpus loader needs.
type Store interface {
	StagingTrips(ctx context.Context, from, to time.Time) ([]models.Trip, error)
	StagingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

// StoreSource reads the corpus from the warehouse staging tables,
// bounded to [From, To).
type StoreSource struct {
	Store Store
	From  time.Time
	To    time.Time
}

func (s StoreSource) Trips(ctx context.Context) ([]models.Trip, error) {
	return s.Store.StagingTrips(ctx, s.From, s.To)
}

func (s StoreSource) Events(ctx context.Context) ([]models.Event, error) {
	return s.Store.StagingEvents(ctx, s.From, s.To)
}
