package sampling

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Classifier is a logistic regression predicting the probability that
// an event row is rare, trained with balanced class weights on the
// held-out feature columns. Training is deterministic: zero init,
// full-batch gradient descent.
type Classifier struct {
	weights []float64
	bias    float64
	mean    []float64
	std     []float64
}

const (
	classifierIters = 200
	classifierLR    = 0.5
)

// featurize extracts the classifier features from an event: latency,
// confidence, and severity indicators. The rare-event label itself is
// never a feature.
func featurize(ev models.Event) []float64 {
	sevCritical := 0.0
	sevWarning := 0.0
	switch ev.Severity {
	case models.SeverityCritical:
		sevCritical = 1
	case models.SeverityWarning:
		sevWarning = 1
	}
	return []float64{ev.LatencyMS, ev.ConfidenceScore, sevCritical, sevWarning}
}

// TrainClassifier fits the logistic model on labeled rows. With no
// positive (or no negative) examples the model stays at its zero init
// and predicts 0.5 everywhere; the resampler handles that degenerate
// weighting upstream.
func TrainClassifier(rows []models.Event) *Classifier {
	n := len(rows)
	if n == 0 {
		return &Classifier{weights: make([]float64, 4), mean: make([]float64, 4), std: onesVec(4)}
	}

	dim := len(featurize(rows[0]))
	features := make([][]float64, n)
	labels := make([]float64, n)
	positives := 0
	for i, row := range rows {
		features[i] = featurize(row)
		if row.IsRareEvent {
			labels[i] = 1
			positives++
		}
	}

	// Standardize each feature column.
	mean := make([]float64, dim)
	std := make([]float64, dim)
	col := make([]float64, n)
	for j := 0; j < dim; j++ {
		for i := range features {
			col[i] = features[i][j]
		}
		mean[j] = stat.Mean(col, nil)
		std[j] = stat.StdDev(col, nil)
		if std[j] == 0 || math.IsNaN(std[j]) {
			std[j] = 1
		}
	}
	for i := range features {
		for j := 0; j < dim; j++ {
			features[i][j] = (features[i][j] - mean[j]) / std[j]
		}
	}

	c := &Classifier{
		weights: make([]float64, dim),
		mean:    mean,
		std:     std,
	}
	if positives == 0 || positives == n {
		return c
	}

	// Balanced class weights, as n / (2 * class count).
	wPos := float64(n) / (2 * float64(positives))
	wNeg := float64(n) / (2 * float64(n-positives))

	grad := make([]float64, dim)
	for it := 0; it < classifierIters; it++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		totalW := 0.0
		for i, x := range features {
			z := c.bias
			for j, w := range c.weights {
				z += w * x[j]
			}
			p := sigmoid(z)
			cw := wNeg
			if labels[i] == 1 {
				cw = wPos
			}
			err := cw * (p - labels[i])
			for j := range grad {
				grad[j] += err * x[j]
			}
			gradBias += err
			totalW += cw
		}
		for j := range c.weights {
			c.weights[j] -= classifierLR * grad[j] / totalW
		}
		c.bias -= classifierLR * gradBias / totalW
	}
	return c
}

// PredictProb returns the predicted probability that the event is rare.
func (c *Classifier) PredictProb(ev models.Event) float64 {
	x := featurize(ev)
	z := c.bias
	for j, w := range c.weights {
		z += w * (x[j] - c.mean[j]) / c.std[j]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func onesVec(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
