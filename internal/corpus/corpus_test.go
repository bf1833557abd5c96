package corpus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

var windowStart = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func tripAt(vehicleID string, day int, fromHour, hours float64) models.Trip {
	start := windowStart.AddDate(0, 0, day).Add(time.Duration(fromHour * float64(time.Hour)))
	return models.Trip{
		TripID:    vehicleID + "-" + start.Format("20060102T15"),
		VehicleID: vehicleID,
		StartTS:   start,
		EndTS:     start.Add(time.Duration(hours * float64(time.Hour))),
	}
}

func eventAt(vehicleID string, day int, hour float64, severity string) models.Event {
	return models.Event{
		EventID:   vehicleID + "-ev-" + time.Duration(hour*float64(time.Hour)).String(),
		VehicleID: vehicleID,
		Timestamp: windowStart.AddDate(0, 0, day).Add(time.Duration(hour * float64(time.Hour))),
		EventType: "BRAKE_FAULT",
		Severity:  severity,
	}
}

func TestExposureRecords(t *testing.T) {
	c := &Corpus{
		Trips: []models.Trip{
			tripAt("VH_A", 0, 8, 4),  // covers the 10:00 critical
			tripAt("VH_A", 1, 8, 4),  // no events inside
			tripAt("VH_B", 0, 8, 4),  // only a warning inside
			tripAt("VH_B", 2, 10, 0), // zero duration, dropped
		},
		Events: []models.Event{
			eventAt("VH_A", 0, 10, models.SeverityCritical),
			eventAt("VH_A", 1, 20, models.SeverityCritical), // outside any trip
			eventAt("VH_B", 0, 9, models.SeverityWarning),
		},
	}

	records := c.ExposureRecords()
	require.Len(t, records, 3)

	assert.Equal(t, "VH_A", records[0].VehicleID)
	assert.InDelta(t, 4.0, records[0].DurationHours, 1e-9)
	assert.True(t, records[0].EventOccurred)

	assert.False(t, records[1].EventOccurred, "critical event outside the trip bounds must not count")
	assert.False(t, records[2].EventOccurred, "warnings are not survival events")
}

func TestExposureRecords_BoundaryEvent(t *testing.T) {
	trip := tripAt("VH_A", 0, 8, 4)
	c := &Corpus{
		Trips:  []models.Trip{trip},
		Events: []models.Event{{VehicleID: "VH_A", Timestamp: trip.EndTS, Severity: models.SeverityCritical}},
	}
	records := c.ExposureRecords()
	require.Len(t, records, 1)
	assert.True(t, records[0].EventOccurred, "trip bounds are inclusive")
}

func TestDailySeries(t *testing.T) {
	c := &Corpus{
		Trips: []models.Trip{
			tripAt("VH_A", 0, 8, 5),
			tripAt("VH_A", 0, 14, 3),
			tripAt("VH_A", 2, 8, 5),
			tripAt("VH_B", 1, 8, 6),
			tripAt("VH_A", 9, 8, 5), // outside the 5-day window
		},
		Events: []models.Event{
			eventAt("VH_A", 0, 9, models.SeverityCritical),
			eventAt("VH_A", 0, 15, models.SeverityCritical),
			eventAt("VH_A", 2, 9, models.SeverityCritical),
			eventAt("VH_A", 1, 9, models.SeverityWarning), // not critical, not counted
			eventAt("VH_B", 1, 9, models.SeverityCritical),
			eventAt("VH_B", 7, 9, models.SeverityCritical), // outside window
		},
	}

	series := c.DailySeries(windowStart, 5)
	require.Len(t, series, 2)

	// Sorted by vehicle id.
	a, b := series[0], series[1]
	require.Equal(t, "VH_A", a.VehicleID)
	require.Equal(t, "VH_B", b.VehicleID)
	require.Len(t, a.Periods, 5)
	require.Len(t, b.Periods, 5)

	assert.Equal(t, 2, a.Periods[0].EventCount)
	assert.InDelta(t, 8.0, a.Periods[0].ExposureHours, 1e-9)
	assert.Equal(t, 0, a.Periods[1].EventCount, "warning events never enter the series")
	assert.Equal(t, 1, a.Periods[2].EventCount)
	assert.Zero(t, a.Periods[3].EventCount, "quiet days are zeros, not gaps")
	assert.Zero(t, a.Periods[3].ExposureHours)

	assert.Equal(t, 1, b.Periods[1].EventCount)
	assert.InDelta(t, 6.0, b.Periods[1].ExposureHours, 1e-9)

	for _, s := range series {
		for d, p := range s.Periods {
			assert.Equal(t, windowStart.AddDate(0, 0, d), p.Date)
		}
	}
}

func TestWindowAndVehicleIDs(t *testing.T) {
	c := &Corpus{
		Trips: []models.Trip{
			tripAt("VH_B", 3, 22, 2),
			tripAt("VH_A", 0, 8, 4),
		},
		Events: []models.Event{eventAt("VH_C", 1, 9, models.SeverityCritical)},
	}

	start, end := c.Window()
	assert.Equal(t, windowStart, start)
	assert.Equal(t, windowStart.AddDate(0, 0, 4), end, "window end is exclusive midnight after the last trip start")

	assert.Equal(t, []string{"VH_A", "VH_B", "VH_C"}, c.VehicleIDs())

	t.Run("empty corpus", func(t *testing.T) {
		empty := &Corpus{}
		s, e := empty.Window()
		assert.True(t, s.IsZero())
		assert.True(t, e.IsZero())
		assert.Empty(t, empty.VehicleIDs())
	})
}
