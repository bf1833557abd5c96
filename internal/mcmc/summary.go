package mcmc

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary computes the posterior mean and central credible interval of
// draws. interval is the credible mass, e.g. 0.95 for quantiles at
// 0.025 and 0.975.
func Summary(draws []float64, interval float64) (mean, lo, hi float64) {
	if len(draws) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(draws))
	copy(sorted, draws)
	sort.Float64s(sorted)

	tail := (1 - interval) / 2
	mean = stat.Mean(sorted, nil)
	lo = stat.Quantile(tail, stat.Empirical, sorted, nil)
	hi = stat.Quantile(1-tail, stat.Empirical, sorted, nil)
	return mean, lo, hi
}
