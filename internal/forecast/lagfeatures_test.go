package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestLagFeaturesLayout(t *testing.T) {
	history := make([]float64, 60)
	for i := range history {
		history[i] = float64(i + 1)
	}

	got, err := LagFeatures(history, 60, 2)
	require.NoError(t, err)
	require.Len(t, got, 13)

	want := []float64{
		27, 30, 28.5, 28.5, // 54..60
		15.5, 30, 22.5, 22.75, // 31..60, lower median is 45
		0.5, 30, 15, 15.25, // 1..60, lower median is 30
		30, // previous value
	}
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestLagFeaturesZeroHistory(t *testing.T) {
	got, err := LagFeatures(make([]float64, 60), 60, 3)
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 13), got)
}

func TestLagFeaturesUsesOnlyPriorValues(t *testing.T) {
	history := make([]float64, 80)
	history[70] = 1000 // at t, must not leak

	got, err := LagFeatures(history, 70, 1)
	require.NoError(t, err)
	for _, v := range got {
		assert.Equal(t, 0.0, v)
	}
}

func TestLagFeaturesRejectsShortHistory(t *testing.T) {
	_, err := LagFeatures(make([]float64, 59), 59, 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInsufficientHistory))

	_, err = LagFeatures(make([]float64, 60), 61, 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInsufficientHistory))
}

func TestLagFeaturesRejectsInvalidScale(t *testing.T) {
	for _, v := range []float64{0, -1} {
		_, err := LagFeatures(make([]float64, 60), 60, v)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidScale))
	}
}
