// Package changepoint detects single change-points in per-period event
// count series by exact posterior enumeration over candidate split
// points, with conjugate Gamma priors on the segment rates.
package changepoint

import (
	"math"
)

// Segment rate priors, Gamma(shape, rate). The pre-change prior matches
// the baseline event-rate scale; the post-change prior carries the
// prior expectation that a regression roughly quadruples the rate.
const (
	preShape  = 2.0
	preRate   = 1.0
	postShape = 2.0
	postRate  = 0.25
)

// segmentEvidence is the data-dependent part of the log marginal
// likelihood of a Poisson segment with total count k and exposure e
// under a Gamma(shape, rate) prior on the rate.
func segmentEvidence(shape, rate, k, e float64) float64 {
	lgA, _ := math.Lgamma(shape)
	lgAK, _ := math.Lgamma(shape + k)
	return lgAK - lgA + shape*math.Log(rate) - (shape+k)*math.Log(rate+e)
}

// tauPosterior enumerates every candidate split index tau in [1, n-1]
// (tau is the first post-change period) under a uniform prior and
// returns the normalized posterior over tau together with the log
// likelihood ratio of the best split model against the constant-rate
// model.
func tauPosterior(counts []float64, exposure []float64) (post []float64, bestTau int, bestLogLR float64) {
	n := len(counts)

	// Prefix sums over counts and exposure.
	cumK := make([]float64, n+1)
	cumE := make([]float64, n+1)
	for i := 0; i < n; i++ {
		cumK[i+1] = cumK[i] + counts[i]
		cumE[i+1] = cumE[i] + exposure[i]
	}

	logM0 := segmentEvidence(preShape, preRate, cumK[n], cumE[n])

	logLR := make([]float64, n)
	maxLR := math.Inf(-1)
	bestTau = 1
	for t := 1; t < n; t++ {
		pre := segmentEvidence(preShape, preRate, cumK[t], cumE[t])
		postK := cumK[n] - cumK[t]
		postE := cumE[n] - cumE[t]
		logLR[t] = pre + segmentEvidence(postShape, postRate, postK, postE) - logM0
		if logLR[t] > maxLR {
			maxLR = logLR[t]
			bestTau = t
		}
	}

	// Normalize exp(logLR) over candidates; the constant factors and
	// the uniform tau prior cancel.
	sum := 0.0
	post = make([]float64, n)
	for t := 1; t < n; t++ {
		post[t] = math.Exp(logLR[t] - maxLR)
		sum += post[t]
	}
	for t := 1; t < n; t++ {
		post[t] /= sum
	}

	return post, bestTau, maxLR
}

// segmentPosterior returns the Gamma posterior (shape, rate) of a
// segment rate given its totals.
func segmentPosterior(priorShape, priorRate, k, e float64) (shape, rate float64) {
	return priorShape + k, priorRate + e
}
