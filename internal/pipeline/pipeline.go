// Package pipeline runs the daily batch: load the corpus, fit the
// survival model, scan for change-points, publish outputs and episode
// alerts, and record batch diagnostics. The scheduler that invokes it
// daily stays external.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetsight-systems/fleetsight/internal/changepoint"
	"github.com/fleetsight-systems/fleetsight/internal/config"
	"github.com/fleetsight-systems/fleetsight/internal/corpus"
	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/metrics"
	"github.com/fleetsight-systems/fleetsight/internal/models"
	"github.com/fleetsight-systems/fleetsight/internal/notifier"
	"github.com/fleetsight-systems/fleetsight/internal/repository"
	"github.com/fleetsight-systems/fleetsight/internal/state"
	"github.com/fleetsight-systems/fleetsight/internal/survival"
)

const (
	// monitorTTL keeps per-vehicle detection state alive well past the
	// daily cadence so quiet vehicles eventually age out.
	monitorTTL = 30 * 24 * time.Hour

	// alertSuppression stops a still-open episode from being
	// re-announced on every daily run.
	alertSuppression = 24 * time.Hour
)

// Deps are the external collaborators of one batch run. State and
// Notifier may be disabled instances; Repo and Source are required.
type Deps struct {
	Repo     repository.Repository
	Source   corpus.Source
	State    *state.Manager
	Notifier *notifier.Notifier
}

// Pipeline executes the daily batch against a set of collaborators.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	log  *logging.Logger
}

// New creates a pipeline.
func New(cfg *config.Config, deps Deps, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: log.With("component", "pipeline")}
}

// Run executes the full batch and returns its diagnostics. Recoverable
// per-vehicle failures never abort the batch; whatever subset of
// outputs is valid gets published.
func (p *Pipeline) Run(ctx context.Context) (*models.BatchDiagnostics, error) {
	started := time.Now()
	diag, err := p.run(ctx)
	metrics.BatchDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.BatchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.BatchRunsTotal.WithLabelValues("ok").Inc()
	return diag, nil
}

func (p *Pipeline) run(ctx context.Context) (*models.BatchDiagnostics, error) {
	now := time.Now().UTC()
	diag := &models.BatchDiagnostics{
		RunID:        "BATCH_" + now.Format("20060102_150405"),
		RunTimestamp: now,
	}

	c, err := corpus.Load(ctx, p.deps.Source, p.log)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	start, end := c.Window()
	if start.IsZero() {
		return nil, errors.New("pipeline: corpus window is empty")
	}
	days := int(end.Sub(start).Hours() / 24)

	p.fitSurvival(ctx, c, diag)

	scan, err := p.scanChangepoints(ctx, c, start, days, diag)
	if err != nil {
		return nil, err
	}
	if scan != nil {
		if err := p.publishEpisodes(ctx, scan, diag); err != nil {
			return nil, err
		}
	}

	if err := p.deps.Repo.InsertDiagnostics(ctx, *diag); err != nil {
		return nil, fmt.Errorf("record batch diagnostics: %w", err)
	}
	p.log.Info("batch complete",
		"run_id", diag.RunID,
		"vehicles_total", diag.VehiclesTotal,
		"vehicles_skipped", diag.VehiclesSkipped,
		"non_convergent_runs", diag.NonConvergentRuns,
		"degenerate_baselines", diag.DegenerateBaselines,
		"episodes_confirmed", diag.EpisodesConfirmed,
		"duration", time.Since(now))
	return diag, nil
}

// fitSurvival fits and publishes the survival model. A failed or
// non-convergent fit never aborts the batch: the run is persisted for
// audit either way, and only the convergence flag gates downstream use.
func (p *Pipeline) fitSurvival(ctx context.Context, c *corpus.Corpus, diag *models.BatchDiagnostics) {
	a := p.cfg.Analytics
	model := survival.New(survival.Config{
		Draws:            a.Draws,
		Warmup:           a.Warmup,
		Chains:           a.Chains,
		Seed:             a.RandomSeed,
		CredibleInterval: a.CredibleInterval,
		VehicleEffects:   a.VehicleEffects,
	}, p.log)

	started := time.Now()
	fit, err := model.Fit(ctx, c.ExposureRecords())
	metrics.FitDuration.WithLabelValues(models.ModelKindSurvival).Observe(time.Since(started).Seconds())
	if err != nil {
		p.log.Warn("survival fit failed, continuing without hazard estimates", "error", err)
		return
	}
	metrics.ModelFitsTotal.WithLabelValues(models.ModelKindSurvival).Inc()
	if !fit.Diagnostics.ConvergenceFlag {
		diag.NonConvergentRuns++
		metrics.NonConvergentRuns.Inc()
	}

	if err := p.deps.Repo.PublishSurvivalRun(ctx, fit.Run, fit.Outputs(diag.RunTimestamp)); err != nil {
		p.log.Warn("failed to publish survival run", "run_id", fit.Run.RunID, "error", err)
	}
}

// scanChangepoints builds the per-vehicle daily series, trims each past
// its persisted resume cutoff, and runs the fleet scan.
func (p *Pipeline) scanChangepoints(ctx context.Context, c *corpus.Corpus, start time.Time, days int, diag *models.BatchDiagnostics) (*changepoint.FleetResult, error) {
	a := p.cfg.Analytics
	series := c.DailySeries(start, days)
	diag.VehiclesTotal = len(series)
	if len(series) == 0 {
		return nil, nil
	}

	if p.deps.State != nil && p.deps.State.IsEnabled() {
		for i := range series {
			st, err := p.deps.State.GetMonitorState(ctx, series[i].VehicleID)
			if err != nil {
				p.log.Warn("failed to read monitor state", "vehicle_id", series[i].VehicleID, "error", err)
				continue
			}
			if cutoff := st.ResumeCutoff(); !cutoff.IsZero() {
				series[i] = series[i].After(cutoff)
			}
		}
	}

	det := changepoint.New(changepoint.Config{
		ProbabilityThreshold: a.ChangepointProbabilityThreshold,
		RegressionThreshold:  a.RegressionThreshold,
		CredibleInterval:     a.CredibleInterval,
		MinEvents:            a.MinEventsForDetection,
		Workers:              a.Workers,
		Seed:                 a.RandomSeed,
	}, p.log)

	started := time.Now()
	scan, err := det.ScanFleet(ctx, series, time.Now().UTC())
	metrics.FitDuration.WithLabelValues(models.ModelKindChangepoint).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fleet scan: %w", err)
	}
	metrics.ModelFitsTotal.WithLabelValues(models.ModelKindChangepoint).Inc()
	metrics.VehiclesScanned.Add(float64(len(scan.Detections)))
	metrics.VehiclesSkipped.WithLabelValues("insufficient_data").Add(float64(scan.Skipped))

	diag.VehiclesSkipped = scan.Skipped
	diag.InsufficientData = scan.Skipped
	diag.DegenerateBaselines = scan.Degenerate
	diag.EpisodesConfirmed = len(scan.Episodes)

	if err := p.deps.Repo.PublishChangepointRun(ctx, scan.Run, scan.Outputs); err != nil {
		return nil, fmt.Errorf("publish changepoint run: %w", err)
	}
	return scan, nil
}

// publishEpisodes persists confirmed episodes, advances the per-vehicle
// monitor state past each confirmed change-point, and announces new
// episodes unless suppressed.
func (p *Pipeline) publishEpisodes(ctx context.Context, scan *changepoint.FleetResult, diag *models.BatchDiagnostics) error {
	for _, ep := range scan.Episodes {
		if err := p.deps.Repo.UpsertEpisode(ctx, ep); err != nil {
			return fmt.Errorf("upsert episode %s: %w", ep.RegressionID, err)
		}
		metrics.EpisodesConfirmed.Inc()
		if ep.MTTDHours != nil {
			metrics.MTTDHours.Observe(*ep.MTTDHours)
		}

		if p.deps.State != nil && p.deps.State.IsEnabled() {
			st := &state.MonitorState{
				VehicleID:        ep.VehicleID,
				State:            string(models.StateConfirmedRegression),
				OpenRegressionID: ep.RegressionID,
				ResumeAfter:      ep.RegressionStartTS.Unix(),
				LastScan:         scan.Run.RunTimestamp.Unix(),
			}
			if err := p.deps.State.SetMonitorState(ctx, st, monitorTTL); err != nil {
				p.log.Warn("failed to save monitor state", "vehicle_id", ep.VehicleID, "error", err)
			}
		}

		p.alert(ctx, ep)
	}

	open, err := p.deps.Repo.ListEpisodes(ctx, models.StateConfirmedRegression, 10000)
	if err == nil {
		metrics.OpenEpisodes.Set(float64(len(open)))
	}
	return nil
}

func (p *Pipeline) alert(ctx context.Context, ep *models.RegressionEpisode) {
	if p.deps.Notifier == nil {
		return
	}
	if p.deps.State != nil && p.deps.State.IsEnabled() {
		suppressed, err := p.deps.State.IsAlertSuppressed(ctx, ep.RegressionID)
		if err != nil {
			p.log.Warn("failed to check alert suppression", "regression_id", ep.RegressionID, "error", err)
		} else if suppressed {
			metrics.AlertsSuppressed.Inc()
			return
		}
	}
	if err := p.deps.Notifier.PublishConfirmed(ctx, ep); err != nil {
		p.log.Warn("failed to publish episode alert", "regression_id", ep.RegressionID, "error", err)
		return
	}
	metrics.AlertsPublished.WithLabelValues("confirmed").Inc()
	if p.deps.State != nil && p.deps.State.IsEnabled() {
		if err := p.deps.State.RecordAlertSent(ctx, ep.RegressionID, alertSuppression); err != nil {
			p.log.Warn("failed to record alert suppression", "regression_id", ep.RegressionID, "error", err)
		}
	}
}
