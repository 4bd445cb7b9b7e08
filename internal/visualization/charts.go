package visualization

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/inferloop/tsforecast/internal/training"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// ChartOptions sizes a rendered chart
type ChartOptions struct {
	Width  vg.Length
	Height vg.Length
	// MaxSeries caps how many series a forecast chart draws
	MaxSeries int
}

// DefaultChartOptions returns 8x5 inch charts with up to four series
func DefaultChartOptions() ChartOptions {
	return ChartOptions{
		Width:     8 * vg.Inch,
		Height:    5 * vg.Inch,
		MaxSeries: 4,
	}
}

// ForecastPlot is the data behind a forecast chart. History and Forecast are
// (N,T) and (N,H); Truth, when set, is (N,H) and drawn dashed.
type ForecastPlot struct {
	History  [][]float64
	Forecast [][]float64
	Truth    [][]float64
}

// Charts renders training and forecast PNGs
type Charts struct {
	logger  *logrus.Logger
	options ChartOptions
}

// NewCharts creates a chart renderer
func NewCharts(options ChartOptions, logger *logrus.Logger) *Charts {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultChartOptions()
	if options.Width <= 0 {
		options.Width = def.Width
	}
	if options.Height <= 0 {
		options.Height = def.Height
	}
	if options.MaxSeries <= 0 {
		options.MaxSeries = def.MaxSeries
	}
	return &Charts{logger: logger, options: options}
}

// LossChart plots per-batch loss with the per-epoch mean overlaid at the end
// of each epoch.
func (c *Charts) LossChart(history *training.History, path string) error {
	if history == nil || len(history.BatchLoss) == 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "loss chart needs at least one batch")
	}

	p := plot.New()
	p.Title.Text = "Training loss"
	if history.RunID != "" {
		p.Title.Text = fmt.Sprintf("Training loss (%s)", history.RunID)
	}
	p.X.Label.Text = "batch"
	p.Y.Label.Text = "negative log-likelihood"
	p.Add(plotter.NewGrid())

	batches := make(plotter.XYs, len(history.BatchLoss))
	for i, loss := range history.BatchLoss {
		batches[i] = plotter.XY{X: float64(i + 1), Y: loss}
	}
	line, err := plotter.NewLine(batches)
	if err != nil {
		return c.renderError(err, "batch loss")
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 160}
	line.Width = vg.Points(0.8)
	p.Add(line)
	p.Legend.Add("batch", line)

	if n := len(history.EpochLoss); n > 0 {
		perEpoch := len(history.BatchLoss) / n
		epochs := make(plotter.XYs, n)
		for i, loss := range history.EpochLoss {
			epochs[i] = plotter.XY{X: float64((i + 1) * perEpoch), Y: loss}
		}
		el, es, err := plotter.NewLinePoints(epochs)
		if err != nil {
			return c.renderError(err, "epoch loss")
		}
		el.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
		el.Width = vg.Points(1.5)
		es.GlyphStyle.Color = el.Color
		p.Add(el, es)
		p.Legend.Add("epoch mean", el, es)
	}
	p.Legend.Top = true

	return c.save(p, path)
}

// ForecastChart plots each series' history followed by its mean forecast
func (c *Charts) ForecastChart(data ForecastPlot, path string) error {
	if len(data.Forecast) == 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "forecast chart needs at least one series")
	}
	if len(data.History) != len(data.Forecast) {
		return errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("history has %d series, forecast has %d", len(data.History), len(data.Forecast)))
	}
	if data.Truth != nil && len(data.Truth) != len(data.Forecast) {
		return errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("truth has %d series, forecast has %d", len(data.Truth), len(data.Forecast)))
	}

	p := plot.New()
	p.Title.Text = "Sales forecast"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "sales"
	p.Add(plotter.NewGrid())

	series := min(len(data.Forecast), c.options.MaxSeries)
	for i := 0; i < series; i++ {
		hist := data.History[i]
		col := plotutil.Color(i)

		past := make(plotter.XYs, len(hist))
		for t, y := range hist {
			past[t] = plotter.XY{X: float64(t), Y: y}
		}
		if len(past) > 0 {
			line, err := plotter.NewLine(past)
			if err != nil {
				return c.renderError(err, "history")
			}
			line.Color = col
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("series %d", i), line)
		}

		fc, err := plotter.NewLine(continuation(hist, data.Forecast[i]))
		if err != nil {
			return c.renderError(err, "forecast")
		}
		fc.Color = col
		fc.Width = vg.Points(2)
		p.Add(fc)

		if data.Truth != nil {
			truth, err := plotter.NewLine(continuation(hist, data.Truth[i]))
			if err != nil {
				return c.renderError(err, "truth")
			}
			truth.Color = col
			truth.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
			p.Add(truth)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = true

	c.logger.WithFields(logrus.Fields{
		"series": series,
		"total":  len(data.Forecast),
		"path":   path,
	}).Debug("Rendering forecast chart")

	return c.save(p, path)
}

// continuation places values after history, joined to its last point
func continuation(history, values []float64) plotter.XYs {
	start := len(history)
	xys := make(plotter.XYs, 0, len(values)+1)
	if start > 0 {
		xys = append(xys, plotter.XY{X: float64(start - 1), Y: history[start-1]})
	}
	for h, y := range values {
		xys = append(xys, plotter.XY{X: float64(start + h), Y: y})
	}
	return xys
}

func (c *Charts) save(p *plot.Plot, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "failed to create chart directory")
		}
	}
	if err := p.Save(c.options.Width, c.options.Height, path); err != nil {
		return c.renderError(err, path)
	}
	c.logger.WithField("path", path).Info("Chart written")
	return nil
}

func (c *Charts) renderError(err error, what string) error {
	return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError,
		fmt.Sprintf("failed to render %s", what))
}
