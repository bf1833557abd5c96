// Package sampling implements the reweighting schemes that build
// rare-event-focused evaluation samples from a labeled event corpus.
package sampling

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// ErrNoClassifier is returned when the importance method runs before
// the reweighting classifier has been fitted.
var ErrNoClassifier = errors.New("sampling: reweighting classifier not fitted")

// Config holds the population assumptions shared by all methods.
type Config struct {
	RareEventRate float64 // expected rare event rate in the population
	TargetRate    float64 // stratified target rare fraction in the sample
}

// Resampler computes method weights and draws reweighted samples.
// The four methods form a closed set behind this one type so the
// experiment runner can iterate them uniformly.
type Resampler struct {
	cfg Config
	clf *Classifier
	log *logging.Logger
}

// New creates a resampler.
func New(cfg Config, log *logging.Logger) *Resampler {
	if log == nil {
		log = logging.Default()
	}
	return &Resampler{cfg: cfg, log: log}
}

// FitClassifier trains the rare-event probability classifier used by
// the importance and adaptive methods.
func (r *Resampler) FitClassifier(train []models.Event) {
	r.clf = TrainClassifier(train)
}

// HasClassifier reports whether the reweighting classifier is fitted.
func (r *Resampler) HasClassifier() bool { return r.clf != nil }

// Weights computes per-row sampling weights for a method, normalized so
// they sum to the number of rows.
func (r *Resampler) Weights(rows []models.Event, method models.SamplingMethod) ([]float64, error) {
	n := len(rows)
	if n == 0 {
		return nil, nil
	}

	switch method {
	case models.MethodUniform:
		return ones(n), nil

	case models.MethodStratified:
		return r.stratifiedWeights(rows), nil

	case models.MethodImportance:
		if r.clf == nil {
			return nil, ErrNoClassifier
		}
		return r.importanceWeights(rows), nil

	case models.MethodAdaptive:
		// Blend of stratified and importance. Falls back to pure
		// stratified when no classifier is fitted.
		strat := r.stratifiedWeights(rows)
		if r.clf == nil {
			return strat, nil
		}
		imp := r.importanceWeights(rows)
		out := make([]float64, n)
		for i := range out {
			out[i] = 0.5*strat[i] + 0.5*imp[i]
		}
		return out, nil

	default:
		return nil, fmt.Errorf("sampling: unknown method %q", method)
	}
}

// stratifiedWeights upweights rare rows so the expected rare fraction
// of the sample hits the target rate regardless of the natural rate.
func (r *Resampler) stratifiedWeights(rows []models.Event) []float64 {
	n := len(rows)
	rareCount := 0
	for _, row := range rows {
		if row.IsRareEvent {
			rareCount++
		}
	}
	currentRate := float64(rareCount) / float64(n)
	if currentRate == 0 || currentRate == 1 {
		return ones(n)
	}

	target := r.cfg.TargetRate
	rareWeight := target / currentRate
	commonWeight := (1 - target) / (1 - currentRate)

	out := make([]float64, n)
	for i, row := range rows {
		if row.IsRareEvent {
			out[i] = rareWeight
		} else {
			out[i] = commonWeight
		}
	}
	return normalize(out)
}

// importanceWeights weights each row by its predicted probability of
// being rare relative to the population rate, focusing sample mass on
// rows the classifier thinks are likely rare.
func (r *Resampler) importanceWeights(rows []models.Event) []float64 {
	out := make([]float64, len(rows))
	sum := 0.0
	for i, row := range rows {
		out[i] = r.clf.PredictProb(row) / r.cfg.RareEventRate
		sum += out[i]
	}
	if sum == 0 {
		return ones(len(rows))
	}
	return normalize(out)
}

// Sampled is one drawn row with the probability of it being chosen on
// a single draw, sufficient for Horvitz-Thompson estimation downstream.
type Sampled struct {
	Event         models.Event
	Index         int
	InclusionProb float64
}

// Sample draws n rows with replacement, with probability proportional
// to the method weights. The same corpus and sample size feed every
// method; only the weights differ.
func (r *Resampler) Sample(rows []models.Event, method models.SamplingMethod, n int, seed uint64) ([]Sampled, error) {
	if len(rows) == 0 || n <= 0 {
		return nil, nil
	}
	weights, err := r.Weights(rows, method)
	if err != nil {
		return nil, err
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	probs := make([]float64, len(weights))
	cum := make([]float64, len(weights))
	acc := 0.0
	for i, w := range weights {
		probs[i] = w / total
		acc += probs[i]
		cum[i] = acc
	}
	cum[len(cum)-1] = 1.0

	rng := rand.New(rand.NewPCG(seed, uint64(len(rows))))
	out := make([]Sampled, n)
	for d := 0; d < n; d++ {
		u := rng.Float64()
		idx := sort.SearchFloat64s(cum, u)
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		out[d] = Sampled{Event: rows[idx], Index: idx, InclusionProb: probs[idx]}
	}
	return out, nil
}

// HTEstimate computes the Horvitz-Thompson estimate of how many corpus
// rows match pred, from a with-replacement sample of size n.
func HTEstimate(sample []Sampled, n int, pred func(models.Event) bool) float64 {
	est := 0.0
	for _, s := range sample {
		if s.InclusionProb <= 0 {
			continue
		}
		if pred(s.Event) {
			est += 1.0 / (float64(n) * s.InclusionProb)
		}
	}
	return est
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// normalize scales weights so they sum to the row count.
func normalize(w []float64) []float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return ones(len(w))
	}
	scale := float64(len(w)) / sum
	for i := range w {
		w[i] *= scale
	}
	return w
}
