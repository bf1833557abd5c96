package survival

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/mcmc"
	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// ModelVersion is stamped on every persisted survival output row.
const ModelVersion = "1.0.0"

// ErrUnknownVehicle is returned when predicting for a vehicle that was
// absent from the fitted exposure records. Callers wanting a
// population-level answer use the fleet prediction methods explicitly.
var ErrUnknownVehicle = errors.New("survival: vehicle not present in fitted data")

// Baseline hazard reporting time points: one day and one week.
var baselineTimePoints = []float64{24.0, 168.0}

// Config controls one survival model fit.
type Config struct {
	Draws            int
	Warmup           int
	Chains           int
	Seed             uint64
	CredibleInterval float64
	VehicleEffects   bool
}

// Model fits Weibull hazard curves from exposure records.
type Model struct {
	cfg Config
	log *logging.Logger
}

// New creates a survival model with the given sampling configuration.
func New(cfg Config, log *logging.Logger) *Model {
	if log == nil {
		log = logging.Default()
	}
	return &Model{cfg: cfg, log: log}
}

// Fit is one fitted posterior over the Weibull parameters.
type Fit struct {
	Run         models.ModelRun
	Diagnostics models.RunDiagnostics

	cfg        Config
	chains     *mcmc.Chains
	vehicles   []string
	vehicleIdx map[string]int
	effects    bool
}

// Fit runs the MCMC chains over the exposure records and returns the
// fitted posterior. A non-convergent first attempt is retried once with
// doubled sampling effort; the returned Fit carries the final
// diagnostics either way, and callers must check ConvergenceFlag before
// feeding estimates to alerting.
func (m *Model) Fit(ctx context.Context, records []models.ExposureRecord) (*Fit, error) {
	data, err := prepare(records)
	if err != nil {
		return nil, err
	}
	if data.zeroEvent > 0 {
		m.log.Info("zero-event vehicles rely on the population prior",
			"count", data.zeroEvent, "vehicles_total", len(data.vehicles))
	}

	logProb := data.logPosterior(m.cfg.VehicleEffects)
	init, widths := data.initPoint(m.cfg.VehicleEffects)

	chains, rhatMax, minESS, err := m.sample(ctx, logProb, init, widths, m.cfg.Draws, m.cfg.Warmup, m.cfg.Seed)
	if err != nil {
		return nil, err
	}

	if !mcmc.Converged(rhatMax) {
		m.log.Warn("survival fit did not converge, retrying with increased sampling",
			"rhat_max", rhatMax, "draws", m.cfg.Draws*2)
		chains, rhatMax, minESS, err = m.sample(ctx, logProb, init, widths, m.cfg.Draws*2, m.cfg.Warmup*2, m.cfg.Seed+1)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	diag := models.RunDiagnostics{
		RhatMax:         rhatMax,
		MinESS:          minESS,
		ConvergenceFlag: mcmc.Converged(rhatMax),
	}

	fit := &Fit{
		Run: models.ModelRun{
			RunID:               fmt.Sprintf("SRV_%s", now.Format("20060102_150405")),
			RunTimestamp:        now,
			ModelKind:           models.ModelKindSurvival,
			ConvergenceFlag:     diag.ConvergenceFlag,
			RhatMax:             diag.RhatMax,
			EffectiveSampleSize: diag.MinESS,
			Hyperparameters: map[string]any{
				"draws":           m.cfg.Draws,
				"warmup":          m.cfg.Warmup,
				"chains":          m.cfg.Chains,
				"seed":            m.cfg.Seed,
				"vehicle_effects": m.cfg.VehicleEffects,
			},
		},
		Diagnostics: diag,
		cfg:         m.cfg,
		chains:      chains,
		vehicles:    data.vehicles,
		effects:     m.cfg.VehicleEffects,
	}
	fit.vehicleIdx = make(map[string]int, len(data.vehicles))
	for i, v := range data.vehicles {
		fit.vehicleIdx[v] = i
	}

	m.log.Info("survival fit complete",
		"run_id", fit.Run.RunID,
		"vehicles", len(fit.vehicles),
		"records", len(records),
		"rhat_max", diag.RhatMax,
		"min_ess", diag.MinESS,
		"converged", diag.ConvergenceFlag)
	return fit, nil
}

func (m *Model) sample(ctx context.Context, logProb mcmc.LogProb, init, widths []float64, draws, warmup int, seed uint64) (*mcmc.Chains, float64, float64, error) {
	chains, err := mcmc.Sample(ctx, logProb, init, widths, mcmc.Config{
		Draws:  draws,
		Warmup: warmup,
		Chains: m.cfg.Chains,
		Seed:   seed,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	rhatMax, minESS := mcmc.Diagnose(chains)
	return chains, rhatMax, minESS, nil
}

// Vehicles lists the vehicles present in the fit, in parameter order.
func (f *Fit) Vehicles() []string {
	out := make([]string, len(f.vehicles))
	copy(out, f.vehicles)
	return out
}

func (f *Fit) scaleIndex(vehicleID string) (int, error) {
	if !f.effects {
		if _, ok := f.vehicleIdx[vehicleID]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownVehicle, vehicleID)
		}
		return idxScaleBlock, nil
	}
	idx, ok := f.vehicleIdx[vehicleID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVehicle, vehicleID)
	}
	return idxScaleBlock + idx, nil
}

// PredictHazardRate returns the posterior mean and credible interval of
// the hazard rate for a fitted vehicle at timeHours of exposure.
func (f *Fit) PredictHazardRate(vehicleID string, timeHours float64) (models.Estimate, error) {
	scaleIdx, err := f.scaleIndex(vehicleID)
	if err != nil {
		return models.Estimate{}, err
	}
	draws := f.chains.PooledFunc(func(theta []float64) float64 {
		return weibullHazard(timeHours, math.Exp(theta[idxLogAlpha]), theta[scaleIdx])
	})
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}, nil
}

// PredictFleetHazardRate returns the population-level hazard rate at
// timeHours, using the hierarchical scale mean. Negative scale draws
// from the hyperprior tail are excluded.
func (f *Fit) PredictFleetHazardRate(timeHours float64) models.Estimate {
	var draws []float64
	for _, chain := range f.chains.Draws {
		for _, theta := range chain {
			if theta[idxLambdaMu] <= 0 {
				continue
			}
			draws = append(draws, weibullHazard(timeHours, math.Exp(theta[idxLogAlpha]), theta[idxLambdaMu]))
		}
	}
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}
}

// PredictTimeToEvent returns the posterior mean time to event for a
// fitted vehicle, lambda*Gamma(1+1/alpha), with its credible interval.
func (f *Fit) PredictTimeToEvent(vehicleID string) (models.Estimate, error) {
	scaleIdx, err := f.scaleIndex(vehicleID)
	if err != nil {
		return models.Estimate{}, err
	}
	draws := f.chains.PooledFunc(func(theta []float64) float64 {
		return weibullMeanTime(math.Exp(theta[idxLogAlpha]), theta[scaleIdx])
	})
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}, nil
}

// PredictFleetTimeToEvent returns the population-level mean time to
// event with its credible interval.
func (f *Fit) PredictFleetTimeToEvent() models.Estimate {
	var draws []float64
	for _, chain := range f.chains.Draws {
		for _, theta := range chain {
			if theta[idxLambdaMu] <= 0 {
				continue
			}
			draws = append(draws, weibullMeanTime(math.Exp(theta[idxLogAlpha]), theta[idxLambdaMu]))
		}
	}
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}
}

// ShapeEstimate returns the posterior summary of the Weibull shape.
func (f *Fit) ShapeEstimate() models.Estimate {
	draws := f.chains.PooledFunc(func(theta []float64) float64 {
		return math.Exp(theta[idxLogAlpha])
	})
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}
}

// ScaleEstimate returns the posterior summary of a vehicle's scale.
func (f *Fit) ScaleEstimate(vehicleID string) (models.Estimate, error) {
	scaleIdx, err := f.scaleIndex(vehicleID)
	if err != nil {
		return models.Estimate{}, err
	}
	draws := f.chains.Pooled(scaleIdx)
	mean, lo, hi := mcmc.Summary(draws, f.cfg.CredibleInterval)
	return models.Estimate{Mean: mean, Lo: lo, Hi: hi}, nil
}

// Estimates builds the per-vehicle and fleet-wide hazard estimates at
// the baseline time points. Each estimate references this fit's run.
func (f *Fit) Estimates(asOf time.Time) []models.HazardEstimate {
	shape := f.ShapeEstimate()
	var out []models.HazardEstimate

	for _, vehicleID := range f.vehicles {
		scale, err := f.ScaleEstimate(vehicleID)
		if err != nil {
			continue
		}
		for _, tp := range baselineTimePoints {
			hz, err := f.PredictHazardRate(vehicleID, tp)
			if err != nil {
				continue
			}
			vid := vehicleID
			out = append(out, models.HazardEstimate{
				ModelRunID:         f.Run.RunID,
				VehicleID:          &vid,
				AsOfDate:           asOf,
				ShapeParam:         shape.Mean,
				ScaleParam:         scale.Mean,
				TimePointHours:     tp,
				HazardRate:         hz.Mean,
				CredibleIntervalLo: hz.Lo,
				CredibleIntervalHi: hz.Hi,
			})
		}
	}

	fleetScale := f.chains.Pooled(idxLambdaMu)
	scaleMean, _, _ := mcmc.Summary(fleetScale, f.cfg.CredibleInterval)
	for _, tp := range baselineTimePoints {
		hz := f.PredictFleetHazardRate(tp)
		out = append(out, models.HazardEstimate{
			ModelRunID:         f.Run.RunID,
			AsOfDate:           asOf,
			ShapeParam:         shape.Mean,
			ScaleParam:         scaleMean,
			TimePointHours:     tp,
			HazardRate:         hz.Mean,
			CredibleIntervalLo: hz.Lo,
			CredibleIntervalHi: hz.Hi,
		})
	}
	return out
}

// Outputs builds the persisted model_survival_outputs rows, one per
// vehicle: the baseline hazard averaged over the reporting time points
// plus the time-to-event prediction and run diagnostics.
func (f *Fit) Outputs(asOf time.Time) []models.SurvivalOutput {
	out := make([]models.SurvivalOutput, 0, len(f.vehicles))
	for _, vehicleID := range f.vehicles {
		var hazardMean, hazardLo, hazardHi float64
		for _, tp := range baselineTimePoints {
			hz, err := f.PredictHazardRate(vehicleID, tp)
			if err != nil {
				continue
			}
			hazardMean += hz.Mean
			hazardLo += hz.Lo
			hazardHi += hz.Hi
		}
		n := float64(len(baselineTimePoints))
		tte, err := f.PredictTimeToEvent(vehicleID)
		if err != nil {
			continue
		}

		out = append(out, models.SurvivalOutput{
			ModelRunID:              f.Run.RunID,
			ModelRunTimestamp:       f.Run.RunTimestamp,
			VehicleID:               vehicleID,
			DateKey:                 asOf,
			BaselineHazardRate:      hazardMean / n,
			HazardRateLowerCI:       hazardLo / n,
			HazardRateUpperCI:       hazardHi / n,
			PredictedTimeToEventHrs: tte.Mean,
			PredictedTimeLowerCI:    tte.Lo,
			PredictedTimeUpperCI:    tte.Hi,
			ConvergenceFlag:         f.Diagnostics.ConvergenceFlag,
			RhatMax:                 f.Diagnostics.RhatMax,
			EffectiveSampleSize:     f.Diagnostics.MinESS,
			ModelVersion:            ModelVersion,
			Hyperparameters:         f.Run.Hyperparameters,
		})
	}
	return out
}
