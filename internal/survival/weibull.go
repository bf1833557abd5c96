// Package survival fits a Bayesian Weibull hazard model to vehicle
// exposure records, with optional vehicle-level random effects on the
// scale parameter.
package survival

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// ErrNoUsableRecords is returned when every exposure record was
// filtered out during preparation.
var ErrNoUsableRecords = errors.New("survival: no usable exposure records")

// Parameter vector layout. With vehicle effects the scale block holds
// one lambda per vehicle; without, a single shared lambda.
const (
	idxAlphaMu = iota
	idxLogAlphaSigma
	idxLogAlpha
	idxLambdaMu
	idxLogLambdaSigma
	idxScaleBlock
)

// fitData is the cleaned, indexed form of the exposure records.
type fitData struct {
	time       []float64
	event      []bool
	vehicleIdx []int
	vehicles   []string
	zeroEvent  int // vehicles with no observed events
}

// prepare filters invalid records and indexes vehicles in first-seen
// order so the parameter layout is reproducible.
func prepare(records []models.ExposureRecord) (*fitData, error) {
	d := &fitData{}
	index := make(map[string]int)
	eventsPer := make(map[string]int)

	for _, r := range records {
		if r.DurationHours <= 0 || math.IsNaN(r.DurationHours) || math.IsInf(r.DurationHours, 0) {
			continue
		}
		idx, ok := index[r.VehicleID]
		if !ok {
			idx = len(d.vehicles)
			index[r.VehicleID] = idx
			d.vehicles = append(d.vehicles, r.VehicleID)
		}
		d.time = append(d.time, r.DurationHours)
		d.event = append(d.event, r.EventOccurred)
		d.vehicleIdx = append(d.vehicleIdx, idx)
		if r.EventOccurred {
			eventsPer[r.VehicleID]++
		}
	}
	if len(d.time) == 0 {
		return nil, ErrNoUsableRecords
	}
	for _, v := range d.vehicles {
		if eventsPer[v] == 0 {
			d.zeroEvent++
		}
	}
	return d, nil
}

// Hyperprior constants, shared with the hierarchical scale structure:
// alpha_mu ~ Normal(1.0, 0.5), alpha_sigma ~ HalfNormal(0.3),
// lambda_mu ~ Normal(100, 50) hours, lambda_sigma ~ HalfNormal(20),
// per-vehicle lambda ~ Normal(lambda_mu, lambda_sigma) truncated to the
// positive support the likelihood requires.
var (
	priorAlphaMu  = distuv.Normal{Mu: 1.0, Sigma: 0.5}
	priorLambdaMu = distuv.Normal{Mu: 100.0, Sigma: 50.0}
)

const (
	alphaSigmaScale  = 0.3
	lambdaSigmaScale = 20.0
	ln2              = 0.6931471805599453
)

func halfNormalLogProb(x, sigma float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return ln2 + distuv.Normal{Mu: 0, Sigma: sigma}.LogProb(x)
}

// logPosterior builds the unnormalized log posterior over the
// unconstrained parameter vector. Sigmas are sampled on the log scale
// with the change-of-variable term included.
func (d *fitData) logPosterior(vehicleEffects bool) func(theta []float64) float64 {
	nScale := 1
	if vehicleEffects {
		nScale = len(d.vehicles)
	}

	return func(theta []float64) float64 {
		alphaMu := theta[idxAlphaMu]
		logAlphaSigma := theta[idxLogAlphaSigma]
		logAlpha := theta[idxLogAlpha]
		lambdaMu := theta[idxLambdaMu]
		logLambdaSigma := theta[idxLogLambdaSigma]

		// Keep the shape in a numerically sane range.
		if logAlpha > 5 || logAlpha < -5 {
			return math.Inf(-1)
		}
		alpha := math.Exp(logAlpha)
		alphaSigma := math.Exp(logAlphaSigma)
		lambdaSigma := math.Exp(logLambdaSigma)

		lp := priorAlphaMu.LogProb(alphaMu)
		lp += halfNormalLogProb(alphaSigma, alphaSigmaScale) + logAlphaSigma
		lp += distuv.Normal{Mu: alphaMu, Sigma: alphaSigma}.LogProb(logAlpha)
		lp += priorLambdaMu.LogProb(lambdaMu)
		lp += halfNormalLogProb(lambdaSigma, lambdaSigmaScale) + logLambdaSigma

		scales := theta[idxScaleBlock : idxScaleBlock+nScale]
		priorScale := distuv.Normal{Mu: lambdaMu, Sigma: lambdaSigma}
		for _, lam := range scales {
			if lam <= 0 {
				return math.Inf(-1)
			}
			lp += priorScale.LogProb(lam)
		}
		if math.IsInf(lp, -1) || math.IsNaN(lp) {
			return math.Inf(-1)
		}

		for i, t := range d.time {
			lam := scales[0]
			if vehicleEffects {
				lam = scales[d.vehicleIdx[i]]
			}
			logLam := math.Log(lam)
			z := math.Exp(alpha * (math.Log(t) - logLam))
			if d.event[i] {
				lp += logAlpha - alpha*logLam + (alpha-1)*math.Log(t)
			}
			lp -= z
		}
		if math.IsNaN(lp) {
			return math.Inf(-1)
		}
		return lp
	}
}

// initPoint picks a deterministic starting point and per-dimension
// proposal widths from the data scale.
func (d *fitData) initPoint(vehicleEffects bool) (init, widths []float64) {
	nScale := 1
	if vehicleEffects {
		nScale = len(d.vehicles)
	}

	meanT := 0.0
	for _, t := range d.time {
		meanT += t
	}
	meanT /= float64(len(d.time))
	lambda0 := math.Max(meanT, 1.0)

	dim := idxScaleBlock + nScale
	init = make([]float64, dim)
	widths = make([]float64, dim)

	init[idxAlphaMu] = 1.0
	init[idxLogAlphaSigma] = math.Log(alphaSigmaScale)
	init[idxLogAlpha] = 1.0
	init[idxLambdaMu] = lambda0
	init[idxLogLambdaSigma] = math.Log(10.0)

	widths[idxAlphaMu] = 0.1
	widths[idxLogAlphaSigma] = 0.2
	widths[idxLogAlpha] = 0.1
	widths[idxLambdaMu] = math.Max(lambda0*0.05, 1.0)
	widths[idxLogLambdaSigma] = 0.2

	for v := 0; v < nScale; v++ {
		init[idxScaleBlock+v] = lambda0
		widths[idxScaleBlock+v] = math.Max(lambda0*0.05, 1.0)
	}
	return init, widths
}

// weibullHazard evaluates h(t) = (alpha/lambda) * (t/lambda)^(alpha-1).
func weibullHazard(t, alpha, lambda float64) float64 {
	if t <= 0 || lambda <= 0 {
		return 0
	}
	return (alpha / lambda) * math.Pow(t/lambda, alpha-1)
}

// weibullMeanTime is the Weibull mean time to event lambda*Gamma(1+1/alpha).
func weibullMeanTime(alpha, lambda float64) float64 {
	if alpha <= 0 || lambda <= 0 {
		return math.NaN()
	}
	return lambda * math.Gamma(1+1/alpha)
}
