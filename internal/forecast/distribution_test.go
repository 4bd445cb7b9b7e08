package forecast

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestNewDistribution(t *testing.T) {
	nb, err := NewDistribution("negbin")
	require.NoError(t, err)
	assert.Equal(t, "negbin", nb.Name())

	g, err := NewDistribution("gaussian")
	require.NoError(t, err)
	assert.Equal(t, "gaussian", g.Name())

	_, err = NewDistribution("poisson")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnknownDistribution))
}

func TestForwardMATransforms(t *testing.T) {
	m, a := NegativeBinomial{}.ForwardMA(0, 0, 4)
	assert.InDelta(t, math.Log(2)*4, m, 1e-12)
	assert.InDelta(t, math.Log(2)/2, a, 1e-12)

	m, a = Gaussian{}.ForwardMA(-1.5, 0, 4)
	assert.InDelta(t, -6.0, m, 1e-12)
	assert.InDelta(t, math.Log(2)*4, a, 1e-12)

	// large inputs must not overflow
	m, _ = NegativeBinomial{}.ForwardMA(800, 0, 1)
	assert.InDelta(t, 800.0, m, 1e-9)
}

func TestNegativeBinomialLogLikelihood(t *testing.T) {
	// r = 2, m*a = 1: C(4,3) * (1/2)^2 * (1/2)^3
	ll, err := NegativeBinomial{}.LogLikelihood(3, 2, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.125), ll, 1e-12)

	ll, err = NegativeBinomial{}.LogLikelihood(0, 2, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.25), ll, 1e-12)
}

func TestNegativeBinomialPMFSumsToOne(t *testing.T) {
	for _, tc := range []struct{ m, a float64 }{{3, 0.4}, {0.5, 2}, {20, 0.05}} {
		var total float64
		for z := 0; z < 2000; z++ {
			ll, err := NegativeBinomial{}.LogLikelihood(float64(z), tc.m, tc.a)
			require.NoError(t, err)
			total += math.Exp(ll)
		}
		assert.InDelta(t, 1.0, total, 1e-6, "m=%v a=%v", tc.m, tc.a)
	}
}

func TestGaussianLogLikelihood(t *testing.T) {
	ll, err := Gaussian{}.LogLikelihood(1, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, -0.5*math.Log(2*math.Pi*4), ll, 1e-12)

	ll, err = Gaussian{}.LogLikelihood(3, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, -0.5*math.Log(2*math.Pi*4)-0.5, ll, 1e-12)
}

func TestLossIsFinite(t *testing.T) {
	z := [][]float64{{0, 1, 5}, {2, 0, 7}}
	m := [][]float64{{0.5, 1, 4}, {2, 0.1, 6}}
	a := [][]float64{{0.3, 0.3, 1}, {0.5, 2, 0.1}}

	for _, d := range []Distribution{NegativeBinomial{}, Gaussian{}} {
		loss, err := d.Loss(z, m, a)
		require.NoError(t, err, d.Name())
		assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0), d.Name())
	}

	nbLoss, err := NegativeBinomial{}.Loss(z, m, a)
	require.NoError(t, err)
	assert.Greater(t, nbLoss, 0.0)
}

func TestLossShapeMismatch(t *testing.T) {
	_, err := Gaussian{}.Loss([][]float64{{1, 2}}, [][]float64{{1}}, [][]float64{{1}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeShapeMismatch))
}

func TestValidateRejectsDegenerateParameters(t *testing.T) {
	cases := []struct {
		dist Distribution
		m, a float64
	}{
		{NegativeBinomial{}, 1, 0},
		{NegativeBinomial{}, -1, 1},
		{NegativeBinomial{}, math.NaN(), 1},
		{Gaussian{}, 0, -1},
		{Gaussian{}, math.Inf(1), 1},
	}
	for _, tc := range cases {
		_, err := tc.dist.LogLikelihood(1, tc.m, tc.a)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidDistributionParams), "%s m=%v a=%v", tc.dist.Name(), tc.m, tc.a)

		_, err = tc.dist.Sample(tc.m, tc.a, rand.NewPCG(1, 1))
		assert.Error(t, err)
	}

	// Gaussian means may be negative
	assert.NoError(t, Gaussian{}.Validate(-3, 1))
}

func TestSampleIsDeterministicForFixedSeed(t *testing.T) {
	for _, d := range []Distribution{NegativeBinomial{}, Gaussian{}} {
		draw := func() []float64 {
			src := rand.NewPCG(42, 101)
			out := make([]float64, 20)
			for i := range out {
				v, err := d.Sample(3, 0.5, src)
				require.NoError(t, err)
				out[i] = v
			}
			return out
		}
		assert.Equal(t, draw(), draw(), d.Name())
	}
}

func TestSampleMoments(t *testing.T) {
	const n = 20000
	src := rand.NewPCG(101, 7)

	draws := make([]float64, n)
	for i := range draws {
		v, err := NegativeBinomial{}.Sample(4, 0.5, src)
		require.NoError(t, err)
		require.Equal(t, math.Trunc(v), v)
		require.GreaterOrEqual(t, v, 0.0)
		draws[i] = v
	}
	mean, variance := stat.MeanVariance(draws, nil)
	assert.InDelta(t, 4.0, mean, 0.12)
	assert.InDelta(t, 4.0+0.5*16, variance, 1.2)

	for i := range draws {
		v, err := Gaussian{}.Sample(1.5, 2, src)
		require.NoError(t, err)
		draws[i] = v
	}
	mean, variance = stat.MeanVariance(draws, nil)
	assert.InDelta(t, 1.5, mean, 0.06)
	assert.InDelta(t, 4.0, variance, 0.2)
}

func TestNegativeBinomialSampleZeroMean(t *testing.T) {
	v, err := NegativeBinomial{}.Sample(0, 1, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestDistributionGradientsMatchFiniteDifferences(t *testing.T) {
	const eps = 1e-6
	cases := []struct {
		dist    Distribution
		z, m, a float64
	}{
		{NegativeBinomial{}, 0, 1.3, 0.7},
		{NegativeBinomial{}, 4, 2.5, 0.2},
		{NegativeBinomial{}, 11, 6, 1.5},
		{Gaussian{}, 0.4, -1.2, 0.8},
		{Gaussian{}, 3, 2, 2.5},
	}
	for _, tc := range cases {
		ll := func(m, a float64) float64 {
			v, err := tc.dist.LogLikelihood(tc.z, m, a)
			require.NoError(t, err)
			return v
		}
		dm, da := tc.dist.Gradients(tc.z, tc.m, tc.a)
		numDm := (ll(tc.m+eps, tc.a) - ll(tc.m-eps, tc.a)) / (2 * eps)
		numDa := (ll(tc.m, tc.a+eps) - ll(tc.m, tc.a-eps)) / (2 * eps)
		assert.InDelta(t, numDm, dm, 1e-6, "%s dm z=%v", tc.dist.Name(), tc.z)
		assert.InDelta(t, numDa, da, 1e-6, "%s da z=%v", tc.dist.Name(), tc.z)
	}
}
