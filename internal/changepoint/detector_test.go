package changepoint

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

var seriesStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// makeSeries builds a daily series from per-day counts with constant
// exposure hours.
func makeSeries(vehicleID string, counts []int, exposureHours float64) models.VehicleSeries {
	s := models.VehicleSeries{VehicleID: vehicleID}
	for i, c := range counts {
		s.Periods = append(s.Periods, models.CountPeriod{
			Date:          seriesStart.AddDate(0, 0, i),
			EventCount:    c,
			ExposureHours: exposureHours,
		})
	}
	return s
}

// stepCounts is a deterministic two-segment series: pre per day before
// onset, post per day from onset onward.
func stepCounts(days, onset, pre, post int) []int {
	counts := make([]int, days)
	for i := range counts {
		if i < onset {
			counts[i] = pre
		} else {
			counts[i] = post
		}
	}
	return counts
}

func testDetectorConfig() Config {
	return Config{
		ProbabilityThreshold: 0.5,
		RegressionThreshold:  1.5,
		CredibleInterval:     0.95,
		MinEvents:            30,
		MinPeriods:           10,
		RatioDraws:           2000,
		Seed:                 42,
	}
}

func TestScan_ConfirmsStepChange(t *testing.T) {
	series := makeSeries("VH_00001", stepCounts(90, 60, 5, 15), 50)
	asOf := seriesStart.AddDate(0, 0, 90)

	det, err := New(testDetectorConfig(), nil).Scan(series, asOf)
	require.NoError(t, err)

	assert.True(t, det.Confirmed())
	assert.Equal(t, models.StateConfirmedRegression, det.State)
	assert.InDelta(t, 60, det.TauIndex, 2)
	assert.Greater(t, det.ChangepointProbability, 0.5)

	require.NotNil(t, det.HazardRatio)
	assert.InDelta(t, 3.0, *det.HazardRatio, 0.5)
	require.NotNil(t, det.HazardRatioLo)
	assert.Greater(t, *det.HazardRatioLo, 1.0)
	assert.Less(t, *det.HazardRatioLo, *det.HazardRatioHi)

	require.NotNil(t, det.MTTDHours)
	assert.Equal(t, asOf.Sub(det.TauDate).Hours(), *det.MTTDHours)
}

func TestScan_ConfirmsNoisyStepChange(t *testing.T) {
	// Poisson counts around a true step from 1/day to 3/day at day 60.
	rng := rand.New(rand.NewPCG(17, 0))
	counts := make([]int, 90)
	for i := range counts {
		mean := 1.0
		if i >= 60 {
			mean = 3.0
		}
		counts[i] = poissonDraw(rng, mean)
	}
	series := makeSeries("VH_00002", counts, 24)

	det, err := New(testDetectorConfig(), nil).Scan(series, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)

	require.True(t, det.Confirmed())
	assert.InDelta(t, 60, det.TauIndex, 3)
	require.NotNil(t, det.HazardRatio)
	assert.Greater(t, *det.HazardRatio, 1.5)
	assert.Less(t, *det.HazardRatio, 5.0)
}

func poissonDraw(rng *rand.Rand, mean float64) int {
	limit := math.Exp(-mean)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p < limit {
			return k
		}
		k++
	}
}

func TestScan_StableSeriesNotConfirmed(t *testing.T) {
	series := makeSeries("VH_00001", stepCounts(90, 0, 0, 5), 50)

	det, err := New(testDetectorConfig(), nil).Scan(series, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)
	assert.False(t, det.Confirmed())
	assert.Nil(t, det.MTTDHours)
}

func TestScan_InsufficientData(t *testing.T) {
	cfg := testDetectorConfig()
	d := New(cfg, nil)

	t.Run("too few periods", func(t *testing.T) {
		series := makeSeries("VH_00001", stepCounts(5, 2, 5, 15), 10)
		_, err := d.Scan(series, seriesStart.AddDate(0, 0, 5))
		require.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("too few events", func(t *testing.T) {
		series := makeSeries("VH_00001", stepCounts(20, 10, 0, 1), 10)
		_, err := d.Scan(series, seriesStart.AddDate(0, 0, 20))
		require.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestScan_DegenerateBaseline(t *testing.T) {
	// No events at all before the shift: the hazard ratio is undefined
	// and the scan must not confirm.
	series := makeSeries("VH_00001", stepCounts(90, 60, 0, 5), 50)

	det, err := New(testDetectorConfig(), nil).Scan(series, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)
	assert.True(t, det.DegenerateBaseline)
	assert.Nil(t, det.HazardRatio)
	assert.False(t, det.Confirmed())
}

func TestScan_Deterministic(t *testing.T) {
	series := makeSeries("VH_00001", stepCounts(60, 40, 4, 12), 30)
	asOf := seriesStart.AddDate(0, 0, 60)

	first, err := New(testDetectorConfig(), nil).Scan(series, asOf)
	require.NoError(t, err)
	second, err := New(testDetectorConfig(), nil).Scan(series, asOf)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestDetection_Episode(t *testing.T) {
	series := makeSeries("VH_00001", stepCounts(90, 60, 5, 15), 50)
	asOf := seriesStart.AddDate(0, 0, 90)
	d := New(testDetectorConfig(), nil)

	det, err := d.Scan(series, asOf)
	require.NoError(t, err)

	ep := det.Episode("CP_TEST")
	require.NotNil(t, ep)
	assert.Equal(t, "CP_TEST", ep.ModelRunID)
	assert.Equal(t, "VH_00001", ep.VehicleID)
	assert.Equal(t, models.StateConfirmedRegression, ep.State)
	assert.Equal(t, det.TauDate, ep.RegressionStartTS)
	assert.False(t, ep.IsResolved)
	require.NotNil(t, ep.HazardRatio)
	assert.InDelta(t, *det.HazardRatio, *ep.HazardRatio, 1e-12)
	require.NotNil(t, ep.MTTDHours)
	assert.Equal(t, asOf.Sub(ep.RegressionStartTS).Hours(), *ep.MTTDHours)

	t.Run("episode id is stable across re-runs", func(t *testing.T) {
		again, err := d.Scan(series, asOf)
		require.NoError(t, err)
		assert.Equal(t, ep.RegressionID, again.Episode("CP_OTHER").RegressionID)
	})

	t.Run("unconfirmed scan has no episode", func(t *testing.T) {
		stable, err := d.Scan(makeSeries("VH_00002", stepCounts(90, 0, 0, 5), 50), asOf)
		require.NoError(t, err)
		assert.Nil(t, stable.Episode("CP_TEST"))
	})
}

func TestScanFleet_SingleRegressedVehicle(t *testing.T) {
	// 50 vehicles at a stable 1 event/day; one steps to 3/day at day 60.
	// Exactly one episode must confirm, on the right vehicle, with a
	// ratio near 3 and an onset within two days of the true one.
	const regressed = "VH_00007"
	fleet := make([]models.VehicleSeries, 0, 50)
	for v := 1; v <= 50; v++ {
		id := fmt.Sprintf("VH_%05d", v)
		counts := stepCounts(90, 90, 1, 1)
		if id == regressed {
			counts = stepCounts(90, 60, 1, 3)
		}
		fleet = append(fleet, makeSeries(id, counts, 24))
	}

	result, err := New(testDetectorConfig(), nil).ScanFleet(context.Background(), fleet, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)

	assert.Equal(t, models.ModelKindChangepoint, result.Run.ModelKind)
	assert.Len(t, result.Detections, 50)
	assert.Len(t, result.Outputs, 50)
	assert.Zero(t, result.Skipped)

	require.Len(t, result.Episodes, 1)
	ep := result.Episodes[0]
	assert.Equal(t, regressed, ep.VehicleID)
	require.NotNil(t, ep.HazardRatio)
	assert.InDelta(t, 3.0, *ep.HazardRatio, 0.8)

	trueOnset := seriesStart.AddDate(0, 0, 60)
	assert.LessOrEqual(t, math.Abs(ep.RegressionStartTS.Sub(trueOnset).Hours()), 48.0)
}

func TestScanFleet_SkipsAndCounts(t *testing.T) {
	fleet := []models.VehicleSeries{
		makeSeries("VH_00001", stepCounts(90, 60, 5, 15), 50),
		makeSeries("VH_SPARSE", stepCounts(90, 90, 0, 0), 50), // no events
		makeSeries("VH_SHORT", stepCounts(3, 0, 5, 5), 50),    // too few periods
	}

	result, err := New(testDetectorConfig(), nil).ScanFleet(context.Background(), fleet, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Detections, 1)
	assert.Len(t, result.Episodes, 1)
}

func TestScanFleet_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fleet := []models.VehicleSeries{makeSeries("VH_00001", stepCounts(90, 60, 5, 15), 50)}
	_, err := New(testDetectorConfig(), nil).ScanFleet(ctx, fleet, seriesStart.AddDate(0, 0, 90))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOutput_AuditRow(t *testing.T) {
	series := makeSeries("VH_00001", stepCounts(90, 60, 5, 15), 50)
	d := New(testDetectorConfig(), nil)
	det, err := d.Scan(series, seriesStart.AddDate(0, 0, 90))
	require.NoError(t, err)

	run := models.ModelRun{RunID: "CP_X", RunTimestamp: time.Now().UTC(), ConvergenceFlag: true, RhatMax: 1.0}
	out := d.Output(det, run)
	assert.Equal(t, "CP_X", out.ModelRunID)
	assert.True(t, out.ChangepointDetected)
	require.NotNil(t, out.ChangepointTimestamp)
	assert.Equal(t, det.TauDate, *out.ChangepointTimestamp)
	assert.Equal(t, det.HazardRatio, out.HazardRatio)
	assert.Equal(t, ModelVersion, out.ModelVersion)
}

func TestTauPosterior_NormalizedAndPeaked(t *testing.T) {
	counts := make([]float64, 40)
	exposure := make([]float64, 40)
	for i := range counts {
		counts[i] = 2
		if i >= 25 {
			counts[i] = 8
		}
		exposure[i] = 24
	}

	post, bestTau, logLR := tauPosterior(counts, exposure)

	sum := 0.0
	for _, p := range post {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 25, bestTau)
	assert.Greater(t, logLR, 0.0, "step model should beat constant-rate model")
	assert.Greater(t, post[25], post[5])
}
