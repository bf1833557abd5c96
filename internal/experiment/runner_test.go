package experiment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight-systems/fleetsight/internal/changepoint"
	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
	"github.com/fleetsight-systems/fleetsight/internal/sampling"
)

// experimentCorpus builds a two-vehicle window with one clean injected
// regression: VH_00001 jumps from 8 to 24 critical events per day at
// day 10, VH_00002 holds flat at 8 per day.
func experimentCorpus() ([]models.Trip, []models.Event, *Scenario) {
	sc := &Scenario{
		Name:                "runner-test",
		StartDate:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowDays:          20,
		Vehicles:            2,
		TripsPerDay:         1,
		TripDurationHours:   10,
		BaselineRatePerHour: 0.8,
		RareEventRate:       0.05,
		Regressions: []InjectedRegression{
			{VehicleID: "VH_00001", OnsetDay: 10, HazardMultiplier: 3},
		},
	}

	var trips []models.Trip
	var events []models.Event
	for day := 0; day < sc.WindowDays; day++ {
		dayStart := sc.StartDate.AddDate(0, 0, day)
		for v := 1; v <= sc.Vehicles; v++ {
			id := fmt.Sprintf("VH_%05d", v)
			trips = append(trips, models.Trip{
				TripID:    fmt.Sprintf("TRIP_%s_%s", dayStart.Format("20060102"), id),
				VehicleID: id,
				StartTS:   dayStart.Add(8 * time.Hour),
				EndTS:     dayStart.Add(18 * time.Hour),
			})

			count := 8
			if id == "VH_00001" && day >= 10 {
				count = 24
			}
			for k := 0; k < count; k++ {
				ev := models.Event{
					EventID:         fmt.Sprintf("EV_%s_%s_%03d", id, dayStart.Format("20060102"), k),
					VehicleID:       id,
					Timestamp:       dayStart.Add(8*time.Hour + time.Duration(k)*20*time.Minute),
					EventType:       "BRAKE_FAULT",
					Severity:        models.SeverityCritical,
					LatencyMS:       80,
					ConfidenceScore: 0.7,
				}
				if k%20 == 0 {
					ev.IsRareEvent = true
					ev.EventType = "RARE_CRITICAL_FAULT"
					ev.LatencyMS = 450
					ev.ConfidenceScore = 0.3
				}
				events = append(events, ev)
			}
		}
	}
	return trips, events, sc
}

func testRunnerConfig() Config {
	return Config{
		SampleSize:    800,
		Trials:        4,
		Seed:          42,
		TrainFraction: 0.2,
		Workers:       2,
		Detector: changepoint.Config{
			ProbabilityThreshold: 0.5,
			RegressionThreshold:  1.5,
			CredibleInterval:     0.9,
			MinEvents:            20,
			MinPeriods:           6,
			RatioDraws:           1000,
		},
		Sampling: sampling.Config{RareEventRate: 0.05, TargetRate: 0.10},
	}
}

func TestRun_ComparesAllMethods(t *testing.T) {
	trips, events, sc := experimentCorpus()
	runner := New(testRunnerConfig(), logging.Default())

	res, err := runner.Run(context.Background(), trips, events, sc)
	require.NoError(t, err)

	assert.Equal(t, models.ModelKindImportanceSampling, res.Run.ModelKind)
	assert.True(t, strings.HasPrefix(res.Run.RunID, "IS_"))
	require.Len(t, res.Results, len(models.AllSamplingMethods))
	require.Len(t, res.Trials, len(models.AllSamplingMethods)*4)

	uniform := res.Results[0]
	assert.Equal(t, models.MethodUniform, uniform.Method)
	assert.Nil(t, uniform.PValue)
	assert.Nil(t, uniform.EffectSize)
	assert.Nil(t, uniform.MTTDImprovementPct)
	assert.Greater(t, uniform.DetectionSensitivity, 0.0,
		"a tripled rate on a clean series must be caught even under uniform sampling")
	require.NotNil(t, uniform.MTTDHours)
	assert.Greater(t, *uniform.MTTDHours, 0.0)

	for _, row := range res.Results[1:] {
		assert.Equal(t, res.Run.RunID, row.ExperimentID)
		assert.Equal(t, 800, row.SampleSize)
		assert.Equal(t, 4, row.Trials)
		assert.GreaterOrEqual(t, row.DetectionSensitivity, 0.0)
		assert.LessOrEqual(t, row.DetectionSensitivity, 1.0)
		assert.GreaterOrEqual(t, row.FalsePositiveRate, 0.0)
		assert.LessOrEqual(t, row.FalsePositiveRate, 1.0)

		require.NotNil(t, row.PValue, "method %s must carry a real p-value", row.Method)
		assert.GreaterOrEqual(t, *row.PValue, 0.0)
		assert.LessOrEqual(t, *row.PValue, 1.0)
		require.NotNil(t, row.EffectSize)
	}
}

func TestRun_ImprovementRelativeToUniform(t *testing.T) {
	trips, events, sc := experimentCorpus()
	res, err := New(testRunnerConfig(), logging.Default()).Run(context.Background(), trips, events, sc)
	require.NoError(t, err)

	uniformMTTD := res.Results[0].MTTDHours
	require.NotNil(t, uniformMTTD)

	for _, row := range res.Results[1:] {
		if row.MTTDHours == nil {
			assert.Nil(t, row.MTTDImprovementPct)
			continue
		}
		require.NotNil(t, row.MTTDImprovementPct)
		want := (*uniformMTTD - *row.MTTDHours) / *uniformMTTD * 100
		assert.InDelta(t, want, *row.MTTDImprovementPct, 1e-9)
	}
}

func TestRun_Deterministic(t *testing.T) {
	trips, events, sc := experimentCorpus()
	cfg := testRunnerConfig()
	cfg.Trials = 2

	first, err := New(cfg, logging.Default()).Run(context.Background(), trips, events, sc)
	require.NoError(t, err)
	second, err := New(cfg, logging.Default()).Run(context.Background(), trips, events, sc)
	require.NoError(t, err)

	// Trial metrics are seeded per cell, so worker scheduling must not
	// change them.
	require.Equal(t, first.Trials, second.Trials)
}

func TestRun_InvalidScenario(t *testing.T) {
	trips, events, sc := experimentCorpus()
	sc.Vehicles = 0

	_, err := New(testRunnerConfig(), logging.Default()).Run(context.Background(), trips, events, sc)
	require.Error(t, err)
}

func TestRun_EmptyWindow(t *testing.T) {
	_, _, sc := experimentCorpus()
	_, err := New(testRunnerConfig(), logging.Default()).Run(context.Background(), nil, nil, sc)
	require.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	trips, events, sc := experimentCorpus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testRunnerConfig(), logging.Default()).Run(ctx, trips, events, sc)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScoreTrial(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	idx := &corpusIndex{
		start:    start,
		vehicles: []string{"VH_A", "VH_B", "VH_C"},
		onsets:   map[string]time.Time{"VH_A": start.AddDate(0, 0, 10)},
	}

	t.Run("true positive with mttd", func(t *testing.T) {
		tm := scoreTrial(idx, models.MethodUniform, 0, map[string]time.Time{
			"VH_A": start.AddDate(0, 0, 13),
		})
		assert.Equal(t, 1.0, tm.Sensitivity)
		assert.Zero(t, tm.FPR)
		require.NotNil(t, tm.MTTDHours)
		assert.InDelta(t, 72.0, *tm.MTTDHours, 1e-9)
	})

	t.Run("confirmation before onset is a false positive", func(t *testing.T) {
		tm := scoreTrial(idx, models.MethodUniform, 0, map[string]time.Time{
			"VH_A": start.AddDate(0, 0, 5),
		})
		assert.Zero(t, tm.Sensitivity)
		assert.Equal(t, 0.5, tm.FPR)
	})

	t.Run("stable vehicle confirmation is a false positive", func(t *testing.T) {
		tm := scoreTrial(idx, models.MethodUniform, 0, map[string]time.Time{
			"VH_B": start.AddDate(0, 0, 12),
		})
		assert.Zero(t, tm.Sensitivity)
		assert.Equal(t, 0.5, tm.FPR)
	})

	t.Run("no confirmations", func(t *testing.T) {
		tm := scoreTrial(idx, models.MethodUniform, 0, nil)
		assert.Zero(t, tm.Sensitivity)
		assert.Zero(t, tm.FPR)
		assert.Nil(t, tm.MTTDHours)
	})
}
