package visualization

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/pkg/errors"
)

func decodePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestLossChart(t *testing.T) {
	charts := NewCharts(ChartOptions{}, nil)
	history := &training.History{
		RunID:     "run-1",
		BatchLoss: []float64{3.1, 2.8, 2.5, 2.4, 2.2, 2.1},
		EpochLoss: []float64{2.8, 2.23},
	}

	path := filepath.Join(t.TempDir(), "plots", "loss.png")
	require.NoError(t, charts.LossChart(history, path))
	decodePNG(t, path)
}

func TestLossChartEmpty(t *testing.T) {
	charts := NewCharts(DefaultChartOptions(), nil)
	err := charts.LossChart(&training.History{}, filepath.Join(t.TempDir(), "loss.png"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestLossChartNonFinite(t *testing.T) {
	charts := NewCharts(DefaultChartOptions(), nil)
	history := &training.History{BatchLoss: []float64{1, math.NaN()}}
	err := charts.LossChart(history, filepath.Join(t.TempDir(), "loss.png"))
	assert.Error(t, err)
}

func TestLossChartNonFiniteEpochMean(t *testing.T) {
	charts := NewCharts(DefaultChartOptions(), nil)
	history := &training.History{
		BatchLoss: []float64{3, 2, 1, 1},
		EpochLoss: []float64{2.5, math.Inf(1)},
	}
	path := filepath.Join(t.TempDir(), "loss.png")
	require.Error(t, charts.LossChart(history, path))
	assert.NoFileExists(t, path)
}

func TestForecastChart(t *testing.T) {
	charts := NewCharts(ChartOptions{MaxSeries: 2}, nil)
	data := ForecastPlot{
		History:  [][]float64{{1, 2, 3, 4}, {5, 4, 3, 2}, {0, 0, 1, 0}},
		Forecast: [][]float64{{4, 5}, {2, 1}, {0, 1}},
		Truth:    [][]float64{{5, 5}, {1, 1}, {0, 0}},
	}

	path := filepath.Join(t.TempDir(), "forecast.png")
	require.NoError(t, charts.ForecastChart(data, path))
	decodePNG(t, path)
}

func TestForecastChartShapeMismatch(t *testing.T) {
	charts := NewCharts(DefaultChartOptions(), nil)
	dir := t.TempDir()

	err := charts.ForecastChart(ForecastPlot{
		History:  [][]float64{{1}},
		Forecast: [][]float64{{1}, {2}},
	}, filepath.Join(dir, "a.png"))
	assert.True(t, errors.HasCode(err, errors.CodeShapeMismatch))

	err = charts.ForecastChart(ForecastPlot{
		History:  [][]float64{{1}},
		Forecast: [][]float64{{1}},
		Truth:    [][]float64{},
	}, filepath.Join(dir, "b.png"))
	assert.True(t, errors.HasCode(err, errors.CodeShapeMismatch))

	err = charts.ForecastChart(ForecastPlot{}, filepath.Join(dir, "c.png"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestContinuation(t *testing.T) {
	xys := continuation([]float64{1, 2, 3}, []float64{7, 8})
	require.Len(t, xys, 3)
	assert.Equal(t, 2.0, xys[0].X)
	assert.Equal(t, 3.0, xys[0].Y)
	assert.Equal(t, 4.0, xys[2].X)
	assert.Equal(t, 8.0, xys[2].Y)

	assert.Len(t, continuation(nil, []float64{1}), 1)
}
