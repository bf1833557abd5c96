package mcmc

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RHat computes the Gelman-Rubin potential scale reduction factor for
// one parameter from per-chain draws. Values near 1 indicate the chains
// have mixed; a run with RHat >= 1.01 on any parameter is non-convergent.
func RHat(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 {
		return 1.0
	}
	n := len(chains[0])
	if n < 2 {
		return math.NaN()
	}

	means := make([]float64, m)
	variances := make([]float64, m)
	for j, chain := range chains {
		means[j] = stat.Mean(chain, nil)
		variances[j] = stat.Variance(chain, nil)
	}

	w := stat.Mean(variances, nil)
	b := float64(n) * stat.Variance(means, nil)

	if w == 0 {
		if b == 0 {
			return 1.0
		}
		return math.Inf(1)
	}

	varPlus := (float64(n-1)/float64(n))*w + b/float64(n)
	return math.Sqrt(varPlus / w)
}

// ESS estimates the effective sample size for one parameter across all
// chains, using per-chain autocorrelation sums truncated at the first
// non-positive paired lag (Geyer's initial positive sequence).
func ESS(chains [][]float64) float64 {
	total := 0.0
	for _, chain := range chains {
		total += chainESS(chain)
	}
	return total
}

func chainESS(chain []float64) float64 {
	n := len(chain)
	if n < 4 {
		return float64(n)
	}

	mean := stat.Mean(chain, nil)
	c0 := 0.0
	for _, v := range chain {
		d := v - mean
		c0 += d * d
	}
	c0 /= float64(n)
	if c0 == 0 {
		return float64(n)
	}

	// Sum paired autocorrelations rho(2t-1)+rho(2t) while positive.
	sum := 0.0
	maxLag := n - 2
	for t := 1; t+1 <= maxLag; t += 2 {
		pair := autocorr(chain, mean, c0, t) + autocorr(chain, mean, c0, t+1)
		if pair <= 0 {
			break
		}
		sum += pair
	}

	ess := float64(n) / (1 + 2*sum)
	if ess > float64(n) {
		return float64(n)
	}
	if ess < 1 {
		return 1
	}
	return ess
}

func autocorr(chain []float64, mean, c0 float64, lag int) float64 {
	n := len(chain)
	acc := 0.0
	for i := 0; i+lag < n; i++ {
		acc += (chain[i] - mean) * (chain[i+lag] - mean)
	}
	return acc / (float64(n) * c0)
}

// Diagnose computes the worst-case convergence diagnostics across all
// parameters: the maximum R-hat and the minimum effective sample size.
func Diagnose(c *Chains) (rhatMax, minESS float64) {
	rhatMax = math.Inf(-1)
	minESS = math.Inf(1)
	for i := 0; i < c.Dim(); i++ {
		param := c.Param(i)
		if r := RHat(param); r > rhatMax {
			rhatMax = r
		}
		if e := ESS(param); e < minESS {
			minESS = e
		}
	}
	return rhatMax, minESS
}

// Converged reports whether a run with the given maximum R-hat passes
// the convergence gate.
func Converged(rhatMax float64) bool {
	return rhatMax < 1.01
}
