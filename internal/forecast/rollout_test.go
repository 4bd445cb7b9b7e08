package forecast

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestForecastZeroHistorySingleStep(t *testing.T) {
	model := newTestModel(t, "negbin")
	in := makeRollout(3, 60, 1, 0)

	out, err := model.Forecast(context.Background(), in, rand.NewPCG(1, 2))
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, series := range out {
		require.Len(t, series, 1)
		assert.GreaterOrEqual(t, series[0], 0.0)
	}
}

func TestForecastHorizonAndDeterminism(t *testing.T) {
	for _, dist := range []string{"negbin", "gaussian"} {
		t.Run(dist, func(t *testing.T) {
			model := newTestModel(t, dist)
			in := makeRollout(2, 75, 12, 3)

			a, err := model.Forecast(context.Background(), in, rand.NewPCG(5, 5))
			require.NoError(t, err)
			b, err := model.Forecast(context.Background(), in, rand.NewPCG(5, 5))
			require.NoError(t, err)

			require.Len(t, a, 2)
			require.Len(t, a[0], 12)
			assert.Equal(t, a, b)
		})
	}
}

func TestForecastDoesNotMutateInput(t *testing.T) {
	model := newTestModel(t, "negbin")
	in := makeRollout(2, 60, 5, 2)

	_, err := model.Forecast(context.Background(), in, rand.NewPCG(1, 1))
	require.NoError(t, err)
	for _, series := range in.EncZ {
		require.Len(t, series, 60)
		for _, v := range series {
			assert.Equal(t, 2.0, v)
		}
	}
}

func TestForecastRejectsShortHistory(t *testing.T) {
	model := newTestModel(t, "negbin")
	in := makeRollout(1, 59, 3, 1)

	_, err := model.Forecast(context.Background(), in, rand.NewPCG(1, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInsufficientHistory))
}

func TestForecastValidatesInput(t *testing.T) {
	model := newTestModel(t, "negbin")

	in := makeRollout(2, 60, 3, 1)
	in.Scale[1] = []float64{-2}
	_, err := model.Forecast(context.Background(), in, rand.NewPCG(1, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidScale))

	in = makeRollout(2, 60, 3, 1)
	in.DecX[0][1][len(in.DecX[0][1])-2] = 10
	_, err = model.Forecast(context.Background(), in, rand.NewPCG(1, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeIndexOutOfRange))

	in = makeRollout(2, 60, 3, 1)
	in.DecX[1][0] = append(in.DecX[1][0], 0)
	_, err = model.Forecast(context.Background(), in, rand.NewPCG(1, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeShapeMismatch))
}

func TestForecastHonorsCancellation(t *testing.T) {
	model := newTestModel(t, "negbin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := model.Forecast(ctx, makeRollout(1, 60, 4, 1), rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForecastMean(t *testing.T) {
	model := newTestModel(t, "negbin")
	in := makeRollout(2, 60, 4, 2)

	mean, err := model.ForecastMean(context.Background(), in, 5, rand.NewPCG(3, 3))
	require.NoError(t, err)

	src := rand.NewPCG(3, 3)
	want := make([][]float64, 2)
	for i := range want {
		want[i] = make([]float64, 4)
	}
	for s := 0; s < 5; s++ {
		path, err := model.Forecast(context.Background(), in, src)
		require.NoError(t, err)
		for i := range path {
			for t, v := range path[i] {
				want[i][t] += v / 5
			}
		}
	}
	for i := range want {
		assert.InDeltaSlice(t, want[i], mean[i], 1e-12)
	}
}
