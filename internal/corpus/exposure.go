package corpus

import (
	"math"
	"sort"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// ExposureRecords builds one record per trip for the survival model:
// the trip duration in hours and whether a critical event occurred
// during it. Trips with non-positive duration are dropped.
func (c *Corpus) ExposureRecords() []models.ExposureRecord {
	criticalByVehicle := make(map[string][]time.Time)
	for _, ev := range c.Events {
		if ev.Severity != models.SeverityCritical {
			continue
		}
		criticalByVehicle[ev.VehicleID] = append(criticalByVehicle[ev.VehicleID], ev.Timestamp)
	}
	for _, ts := range criticalByVehicle {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	}

	out := make([]models.ExposureRecord, 0, len(c.Trips))
	for _, t := range c.Trips {
		dur := t.DurationHours()
		if dur <= 0 {
			continue
		}
		out = append(out, models.ExposureRecord{
			VehicleID:     t.VehicleID,
			DurationHours: dur,
			EventOccurred: hasEventIn(criticalByVehicle[t.VehicleID], t.StartTS, t.EndTS),
		})
	}
	return out
}

// hasEventIn reports whether sorted ts contains a time in [from, to].
func hasEventIn(ts []time.Time, from, to time.Time) bool {
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(from) })
	return i < len(ts) && !ts[i].After(to)
}

// DailySeries aggregates the corpus into per-vehicle daily critical
// event counts with exposure hours, over [start, start+days). Every
// vehicle with any trip or event in the window gets a full-length
// series so quiet days count as zeros, not gaps.
func (c *Corpus) DailySeries(start time.Time, days int) []models.VehicleSeries {
	start = midnight(start)
	type agg struct {
		counts   []int
		exposure []float64
	}
	byVehicle := make(map[string]*agg)
	get := func(id string) *agg {
		a, ok := byVehicle[id]
		if !ok {
			a = &agg{counts: make([]int, days), exposure: make([]float64, days)}
			byVehicle[id] = a
		}
		return a
	}

	for _, t := range c.Trips {
		day := dayOf(t.StartTS, start)
		if day < 0 || day >= days {
			continue
		}
		if dur := t.DurationHours(); dur > 0 {
			get(t.VehicleID).exposure[day] += dur
		}
	}
	for _, ev := range c.Events {
		if ev.Severity != models.SeverityCritical {
			continue
		}
		day := dayOf(ev.Timestamp, start)
		if day < 0 || day >= days {
			continue
		}
		get(ev.VehicleID).counts[day]++
	}

	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.VehicleSeries, 0, len(ids))
	for _, id := range ids {
		a := byVehicle[id]
		periods := make([]models.CountPeriod, days)
		for d := 0; d < days; d++ {
			periods[d] = models.CountPeriod{
				Date:          start.AddDate(0, 0, d),
				EventCount:    a.counts[d],
				ExposureHours: a.exposure[d],
			}
		}
		out = append(out, models.VehicleSeries{VehicleID: id, Periods: periods})
	}
	return out
}

func dayOf(t, start time.Time) int {
	return int(math.Floor(t.UTC().Sub(start).Hours() / 24))
}
