// Package corpus loads the trip and event corpus for an analysis
// window and shapes it into the exposure records and daily count
// series the models consume.
package corpus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Source supplies the raw corpus. Implementations read JSONL exports
// or the warehouse staging tables.
type Source interface {
	Trips(ctx context.Context) ([]models.Trip, error)
	Events(ctx context.Context) ([]models.Event, error)
}

// Corpus is a loaded window of trips and events.
type Corpus struct {
	Trips  []models.Trip
	Events []models.Event
}

// Load reads the full corpus from src.
func Load(ctx context.Context, src Source, log *logging.Logger) (*Corpus, error) {
	start := time.Now()
	trips, err := src.Trips(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	events, err := src.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	c := &Corpus{Trips: trips, Events: events}
	log.Info("corpus loaded",
		"trips", len(trips),
		"events", len(events),
		"vehicles", len(c.VehicleIDs()),
		"duration", time.Since(start))
	return c, nil
}

// VehicleIDs returns every vehicle present in the corpus, sorted.
func (c *Corpus) VehicleIDs() []string {
	seen := make(map[string]struct{})
	for _, t := range c.Trips {
		seen[t.VehicleID] = struct{}{}
	}
	for _, ev := range c.Events {
		seen[ev.VehicleID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Window returns the UTC midnight bounds covering every trip start,
// end exclusive. Zero times when the corpus has no trips.
func (c *Corpus) Window() (start, end time.Time) {
	if len(c.Trips) == 0 {
		return time.Time{}, time.Time{}
	}
	lo, hi := c.Trips[0].StartTS, c.Trips[0].StartTS
	for _, t := range c.Trips[1:] {
		if t.StartTS.Before(lo) {
			lo = t.StartTS
		}
		if t.StartTS.After(hi) {
			hi = t.StartTS
		}
	}
	start = midnight(lo)
	end = midnight(hi).AddDate(0, 0, 1)
	return start, end
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
