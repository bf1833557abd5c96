package experiment

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/fleetsight-systems/fleetsight/internal/changepoint"
	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
	"github.com/fleetsight-systems/fleetsight/internal/sampling"
)

// ModelVersion tags experiment result rows.
const ModelVersion = "1.0.0"

// Config controls a sampling experiment.
type Config struct {
	// SampleSize is the total review budget for the window. It is
	// spread evenly across days.
	SampleSize int
	// Trials is the number of independent replications per method.
	Trials int
	// Seed drives every random draw in the experiment.
	Seed uint64
	// TrainFraction of events is held out to fit the rare-event
	// classifier before any trial runs.
	TrainFraction float64
	// ScanStrideDays spaces the sequential detection scans.
	ScanStrideDays int
	// Workers bounds concurrent (method, trial) cells.
	Workers int

	Detector changepoint.Config
	Sampling sampling.Config
}

func (c Config) withDefaults() Config {
	if c.SampleSize <= 0 {
		c.SampleSize = 2000
	}
	if c.Trials <= 0 {
		c.Trials = 10
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		c.TrainFraction = 0.2
	}
	if c.ScanStrideDays <= 0 {
		c.ScanStrideDays = 1
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// TrialMetrics is the outcome of one (method, trial) cell.
type TrialMetrics struct {
	Method      models.SamplingMethod
	Trial       int
	Sensitivity float64
	FPR         float64
	MTTDHours   *float64
}

// Result is a completed experiment: one aggregate row per method plus
// the per-trial detail the aggregates were computed from.
type Result struct {
	Run     models.ModelRun
	Results []models.SamplingExperimentResult
	Trials  []TrialMetrics
}

// Runner replays a corpus under each sampling method and scores
// detection quality against the scenario's injected regressions.
type Runner struct {
	cfg Config
	log *logging.Logger
}

func New(cfg Config, log *logging.Logger) *Runner {
	return &Runner{cfg: cfg.withDefaults(), log: log.With("component", "experiment")}
}

// corpusIndex is the precomputed day-by-day view of the window shared
// by all trials.
type corpusIndex struct {
	start       time.Time
	days        int
	vehicles    []string
	vehicleIdx  map[string]int
	eventsByDay [][]models.Event
	exposure    [][]float64 // [vehicle][day] hours
	onsets      map[string]time.Time
}

func buildIndex(trips []models.Trip, events []models.Event, sc *Scenario) (*corpusIndex, error) {
	start := time.Date(sc.StartDate.Year(), sc.StartDate.Month(), sc.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	idx := &corpusIndex{
		start:       start,
		days:        sc.WindowDays,
		vehicleIdx:  make(map[string]int),
		eventsByDay: make([][]models.Event, sc.WindowDays),
		onsets:      make(map[string]time.Time),
	}
	addVehicle := func(id string) int {
		if i, ok := idx.vehicleIdx[id]; ok {
			return i
		}
		i := len(idx.vehicles)
		idx.vehicleIdx[id] = i
		idx.vehicles = append(idx.vehicles, id)
		idx.exposure = append(idx.exposure, make([]float64, sc.WindowDays))
		return i
	}
	for _, t := range trips {
		day := int(math.Floor(t.StartTS.Sub(start).Hours() / 24))
		if day < 0 || day >= sc.WindowDays {
			continue
		}
		idx.exposure[addVehicle(t.VehicleID)][day] += t.DurationHours()
	}
	for _, ev := range events {
		day := int(math.Floor(ev.Timestamp.Sub(start).Hours() / 24))
		if day < 0 || day >= sc.WindowDays {
			continue
		}
		addVehicle(ev.VehicleID)
		idx.eventsByDay[day] = append(idx.eventsByDay[day], ev)
	}
	if len(idx.vehicles) == 0 {
		return nil, fmt.Errorf("corpus has no trips or events inside the scenario window")
	}
	for _, r := range sc.Regressions {
		idx.onsets[r.VehicleID] = start.AddDate(0, 0, r.OnsetDay)
	}
	return idx, nil
}

// Run executes the full experiment. The uniform method always runs and
// anchors the comparisons.
func (r *Runner) Run(ctx context.Context, trips []models.Trip, events []models.Event, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	idx, err := buildIndex(trips, events, sc)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := models.ModelRun{
		RunID:               "IS_" + now.Format("20060102_150405"),
		RunTimestamp:        now,
		ModelKind:           models.ModelKindImportanceSampling,
		ConvergenceFlag:     true,
		RhatMax:             1.0,
		EffectiveSampleSize: float64(r.cfg.Trials),
		Hyperparameters: map[string]any{
			"sample_size": r.cfg.SampleSize,
			"trials":      r.cfg.Trials,
			"seed":        r.cfg.Seed,
		},
	}

	resampler := sampling.New(r.cfg.Sampling, r.log)
	if train := trainSplit(events, r.cfg.TrainFraction, r.cfg.Seed); len(train) > 0 {
		resampler.FitClassifier(train)
	}

	methods := models.AllSamplingMethods
	if !resampler.HasClassifier() {
		r.log.Warn("no classifier training data, skipping importance method")
		methods = []models.SamplingMethod{models.MethodUniform, models.MethodStratified, models.MethodAdaptive}
	}
	cells := make([][]TrialMetrics, len(methods))
	for i := range cells {
		cells[i] = make([]TrialMetrics, r.cfg.Trials)
	}

	r.log.Info("starting sampling experiment",
		"experiment_id", run.RunID,
		"methods", len(methods),
		"trials", r.cfg.Trials,
		"sample_size", r.cfg.SampleSize,
		"vehicles", len(idx.vehicles),
		"window_days", idx.days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for mi, method := range methods {
		for trial := 0; trial < r.cfg.Trials; trial++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				tm, err := r.runTrial(idx, resampler, method, trial)
				if err != nil {
					return fmt.Errorf("method %s trial %d: %w", method, trial, err)
				}
				cells[mi][trial] = tm
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Run: run}
	for mi := range methods {
		res.Trials = append(res.Trials, cells[mi]...)
	}
	res.Results = r.aggregate(run, cells, methods)
	for _, row := range res.Results {
		r.log.Info("method scored",
			"method", row.Method,
			"sensitivity", row.DetectionSensitivity,
			"fpr", row.FalsePositiveRate,
			"mttd_hours", derefOr(row.MTTDHours, math.NaN()),
			"p_value", derefOr(row.PValue, math.NaN()))
	}
	return res, nil
}

// runTrial replays the window once under one method: sample each day
// within budget, reconstruct per-vehicle daily counts with the
// Hansen-Hurwitz estimator, then scan sequentially for the first
// confirmed regression per vehicle.
func (r *Runner) runTrial(idx *corpusIndex, rs *sampling.Resampler, method models.SamplingMethod, trial int) (TrialMetrics, error) {
	nv := len(idx.vehicles)
	counts := make([][]int, nv)
	for i := range counts {
		counts[i] = make([]int, idx.days)
	}

	budget := (r.cfg.SampleSize + idx.days - 1) / idx.days
	for day := 0; day < idx.days; day++ {
		pool := idx.eventsByDay[day]
		if len(pool) == 0 {
			continue
		}
		seed := cellSeed(r.cfg.Seed, method, trial, day)
		sample, err := rs.Sample(pool, method, budget, seed)
		if err != nil {
			return TrialMetrics{}, err
		}
		est := make([]float64, nv)
		for _, s := range sample {
			if s.Event.Severity != models.SeverityCritical {
				continue
			}
			vi := idx.vehicleIdx[s.Event.VehicleID]
			est[vi] += 1 / (float64(budget) * s.InclusionProb)
		}
		for vi, e := range est {
			counts[vi][day] = int(math.Round(e))
		}
	}

	series := make([]models.VehicleSeries, nv)
	for vi, id := range idx.vehicles {
		periods := make([]models.CountPeriod, idx.days)
		for day := 0; day < idx.days; day++ {
			periods[day] = models.CountPeriod{
				Date:          idx.start.AddDate(0, 0, day),
				EventCount:    counts[vi][day],
				ExposureHours: idx.exposure[vi][day],
			}
		}
		series[vi] = models.VehicleSeries{VehicleID: id, Periods: periods}
	}

	detCfg := r.cfg.Detector
	detCfg.Workers = 1
	detCfg.Seed = cellSeed(r.cfg.Seed, method, trial, -1)
	det := changepoint.New(detCfg, r.log)

	confirmed := make(map[string]time.Time)
	firstScan := detCfg.MinPeriods
	if firstScan < 2 {
		firstScan = 10
	}
	for s := firstScan; s <= idx.days; s += r.cfg.ScanStrideDays {
		asOf := idx.start.AddDate(0, 0, s)
		for vi := range series {
			id := series[vi].VehicleID
			if _, done := confirmed[id]; done {
				continue
			}
			trunc := models.VehicleSeries{VehicleID: id, Periods: series[vi].Periods[:s]}
			d, err := det.Scan(trunc, asOf)
			if err != nil {
				continue
			}
			if d.Confirmed() {
				confirmed[id] = asOf
			}
		}
	}

	return scoreTrial(idx, method, trial, confirmed), nil
}

func scoreTrial(idx *corpusIndex, method models.SamplingMethod, trial int, confirmed map[string]time.Time) TrialMetrics {
	tm := TrialMetrics{Method: method, Trial: trial}
	var tp, fp int
	var mttds []float64
	for _, id := range idx.vehicles {
		det, found := confirmed[id]
		onset, regressed := idx.onsets[id]
		switch {
		case !found:
			continue
		case regressed && !det.Before(onset):
			tp++
			mttds = append(mttds, det.Sub(onset).Hours())
		default:
			fp++
		}
	}
	if n := len(idx.onsets); n > 0 {
		tm.Sensitivity = float64(tp) / float64(n)
	}
	if n := len(idx.vehicles) - len(idx.onsets); n > 0 {
		tm.FPR = float64(fp) / float64(n)
	}
	if len(mttds) > 0 {
		m := stat.Mean(mttds, nil)
		tm.MTTDHours = &m
	}
	return tm
}

// aggregate folds per-trial cells into one result row per method and
// tests each method's MTTD distribution against uniform's.
func (r *Runner) aggregate(run models.ModelRun, cells [][]TrialMetrics, methods []models.SamplingMethod) []models.SamplingExperimentResult {
	uniformMTTDs := trialMTTDs(cells[0])
	uniformMean := meanOrNil(uniformMTTDs)

	out := make([]models.SamplingExperimentResult, 0, len(methods))
	for mi, method := range methods {
		row := models.SamplingExperimentResult{
			ExperimentID: run.RunID,
			RunTimestamp: run.RunTimestamp,
			Method:       method,
			SampleSize:   r.cfg.SampleSize,
			Trials:       r.cfg.Trials,
		}
		var sens, fpr float64
		for _, tm := range cells[mi] {
			sens += tm.Sensitivity
			fpr += tm.FPR
		}
		row.DetectionSensitivity = sens / float64(len(cells[mi]))
		row.FalsePositiveRate = fpr / float64(len(cells[mi]))

		mttds := trialMTTDs(cells[mi])
		row.MTTDHours = meanOrNil(mttds)

		if method != models.MethodUniform {
			if uniformMean != nil && row.MTTDHours != nil && *uniformMean > 0 {
				imp := (*uniformMean - *row.MTTDHours) / *uniformMean * 100
				row.MTTDImprovementPct = &imp
			}
			tt := WelchTTest(uniformMTTDs, mttds)
			row.PValue = &tt.PValue
			es := tt.EffectSize
			row.EffectSize = &es
		}
		out = append(out, row)
	}
	return out
}

func trialMTTDs(cell []TrialMetrics) []float64 {
	var out []float64
	for _, tm := range cell {
		if tm.MTTDHours != nil {
			out = append(out, *tm.MTTDHours)
		}
	}
	return out
}

func meanOrNil(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}

// trainSplit deterministically holds out a fraction of events for
// classifier fitting according to a seeded shuffle.
func trainSplit(events []models.Event, frac float64, seed uint64) []models.Event {
	n := int(float64(len(events)) * frac)
	if n == 0 {
		return nil
	}
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return shuffleKey(seed, order[a]) < shuffleKey(seed, order[b])
	})
	out := make([]models.Event, 0, n)
	for _, i := range order[:n] {
		out = append(out, events[i])
	}
	return out
}

func shuffleKey(seed uint64, i int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", seed, i)
	return h.Sum64()
}

func cellSeed(base uint64, method models.SamplingMethod, trial, day int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d:%d", method, trial, day)
	return base ^ h.Sum64()
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
