// Package mcmc provides a seeded random-walk Metropolis sampler with
// cross-chain convergence diagnostics for the Bayesian model fits.
package mcmc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// LogProb evaluates the unnormalized log posterior density at theta.
// It may return math.Inf(-1) for out-of-support points.
type LogProb func(theta []float64) float64

// Config controls one sampling run.
type Config struct {
	Draws  int // retained draws per chain
	Warmup int // discarded adaptation draws per chain
	Chains int
	Seed   uint64
	// StepScale is the initial proposal standard deviation relative to
	// the per-dimension init widths. Adapted during warmup.
	StepScale float64
}

// ErrInvalidInit is returned when the initial point has zero posterior
// density, which would make every proposal unreachable.
var ErrInvalidInit = errors.New("mcmc: initial point has non-finite log probability")

// Chains holds the retained posterior draws of every chain.
type Chains struct {
	// Draws is indexed chain -> iteration -> parameter.
	Draws [][][]float64
	// AcceptRate is the post-warmup acceptance rate per chain.
	AcceptRate []float64
	dim        int
}

// Dim returns the parameter dimension.
func (c *Chains) Dim() int { return c.dim }

// Param returns the draws of parameter i, one slice per chain.
func (c *Chains) Param(i int) [][]float64 {
	out := make([][]float64, len(c.Draws))
	for j, chain := range c.Draws {
		vals := make([]float64, len(chain))
		for k, draw := range chain {
			vals[k] = draw[i]
		}
		out[j] = vals
	}
	return out
}

// Pooled returns the draws of parameter i from all chains concatenated.
func (c *Chains) Pooled(i int) []float64 {
	var out []float64
	for _, chain := range c.Draws {
		for _, draw := range chain {
			out = append(out, draw[i])
		}
	}
	return out
}

// PooledFunc applies f to every retained draw and returns the results
// from all chains concatenated. Used to push parameter draws through a
// derived quantity (hazard rate, time to event) without re-sampling.
func (c *Chains) PooledFunc(f func(theta []float64) float64) []float64 {
	var out []float64
	for _, chain := range c.Draws {
		for _, draw := range chain {
			out = append(out, f(draw))
		}
	}
	return out
}

// Sample runs cfg.Chains independent adaptive random-walk Metropolis
// chains from init and returns their retained draws. Chains run
// concurrently and all must finish before diagnostics are computed;
// cancellation aborts the whole run without partial results.
func Sample(ctx context.Context, logProb LogProb, init []float64, widths []float64, cfg Config) (*Chains, error) {
	if cfg.Chains < 1 || cfg.Draws < 1 {
		return nil, fmt.Errorf("mcmc: need at least one chain and one draw, got chains=%d draws=%d", cfg.Chains, cfg.Draws)
	}
	if len(widths) != len(init) {
		return nil, fmt.Errorf("mcmc: init has %d parameters but widths has %d", len(init), len(widths))
	}
	if lp := logProb(init); math.IsInf(lp, -1) || math.IsNaN(lp) {
		return nil, ErrInvalidInit
	}
	if cfg.StepScale <= 0 {
		cfg.StepScale = 0.1
	}

	out := &Chains{
		Draws:      make([][][]float64, cfg.Chains),
		AcceptRate: make([]float64, cfg.Chains),
		dim:        len(init),
	}

	g, ctx := errgroup.WithContext(ctx)
	for c := 0; c < cfg.Chains; c++ {
		g.Go(func() error {
			draws, rate, err := runChain(ctx, logProb, init, widths, cfg, uint64(c))
			if err != nil {
				return err
			}
			out.Draws[c] = draws
			out.AcceptRate[c] = rate
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func runChain(ctx context.Context, logProb LogProb, init, widths []float64, cfg Config, chain uint64) ([][]float64, float64, error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, chain+1))

	dim := len(init)
	theta := make([]float64, dim)
	copy(theta, init)
	lp := logProb(theta)

	scale := cfg.StepScale
	proposal := make([]float64, dim)

	total := cfg.Warmup + cfg.Draws
	draws := make([][]float64, 0, cfg.Draws)
	accepted := 0
	windowAccepted := 0

	for it := 0; it < total; it++ {
		if it%256 == 0 && ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		for d := 0; d < dim; d++ {
			proposal[d] = theta[d] + scale*widths[d]*rng.NormFloat64()
		}
		lpNew := logProb(proposal)
		if lpNew-lp > math.Log(rng.Float64()) {
			copy(theta, proposal)
			lp = lpNew
			windowAccepted++
			if it >= cfg.Warmup {
				accepted++
			}
		}

		// Tune the proposal scale toward a healthy acceptance rate
		// during warmup only, so the retained draws stay Markovian.
		if it < cfg.Warmup && (it+1)%50 == 0 {
			rate := float64(windowAccepted) / 50
			if rate < 0.2 {
				scale *= 0.8
			} else if rate > 0.5 {
				scale *= 1.2
			}
			windowAccepted = 0
		}

		if it >= cfg.Warmup {
			draw := make([]float64, dim)
			copy(draw, theta)
			draws = append(draws, draw)
		}
	}

	return draws, float64(accepted) / float64(cfg.Draws), nil
}
