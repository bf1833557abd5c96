package experiment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWelchTTest_KnownValues(t *testing.T) {
	// Equal variances, one-unit mean shift: t = 1, df = 8, and the
	// two-sided p-value under Student's t with 8 degrees of freedom is
	// about 0.3466.
	baseline := []float64{1, 2, 3, 4, 5}
	current := []float64{2, 3, 4, 5, 6}

	res := WelchTTest(baseline, current)
	assert.InDelta(t, 1.0, res.Statistic, 1e-9)
	assert.InDelta(t, 8.0, res.DegreesOfFreedom, 1e-9)
	assert.InDelta(t, 0.3466, res.PValue, 0.001)
	assert.InDelta(t, 1/math.Sqrt(2.5), res.EffectSize, 1e-9)
}

func TestWelchTTest_ClearlySeparatedSamples(t *testing.T) {
	baseline := []float64{10.1, 10.3, 9.8, 10.0, 10.2, 9.9}
	current := []float64{20.2, 19.8, 20.1, 20.0, 19.9, 20.3}

	res := WelchTTest(baseline, current)
	assert.Less(t, res.PValue, 0.001)
	assert.Greater(t, res.Statistic, 0.0)
	assert.Greater(t, res.EffectSize, 2.0)
}

func TestWelchTTest_Degenerate(t *testing.T) {
	t.Run("too few observations", func(t *testing.T) {
		res := WelchTTest([]float64{1}, []float64{2, 3})
		assert.Equal(t, 1.0, res.PValue)
	})

	t.Run("identical constant samples", func(t *testing.T) {
		res := WelchTTest([]float64{5, 5, 5}, []float64{5, 5, 5})
		assert.Equal(t, 1.0, res.PValue)
		assert.Zero(t, res.EffectSize)
	})

	t.Run("constant samples with different means", func(t *testing.T) {
		res := WelchTTest([]float64{5, 5, 5}, []float64{7, 7, 7})
		assert.Zero(t, res.PValue)
		assert.True(t, math.IsInf(res.Statistic, 1))
	})
}

func TestWelchTTest_Symmetric(t *testing.T) {
	a := []float64{3.2, 4.1, 2.8, 3.9, 3.5}
	b := []float64{4.8, 5.1, 4.2, 5.5, 4.9}

	fwd := WelchTTest(a, b)
	rev := WelchTTest(b, a)
	assert.InDelta(t, fwd.PValue, rev.PValue, 1e-12)
	assert.InDelta(t, fwd.Statistic, -rev.Statistic, 1e-12)
}

func TestCohensD(t *testing.T) {
	t.Run("sign follows direction of shift", func(t *testing.T) {
		lower := []float64{1, 2, 3, 4, 5}
		higher := []float64{3, 4, 5, 6, 7}
		assert.Greater(t, CohensD(lower, higher), 0.0)
		assert.Less(t, CohensD(higher, lower), 0.0)
	})

	t.Run("zero for equal means", func(t *testing.T) {
		assert.Zero(t, CohensD([]float64{1, 2, 3}, []float64{3, 2, 1}))
	})

	t.Run("zero for insufficient data", func(t *testing.T) {
		assert.Zero(t, CohensD([]float64{1}, []float64{2, 3}))
	})
}
