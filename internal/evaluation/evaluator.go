package evaluation

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecast"
)

// Forecaster produces sample-averaged forecasts
type Forecaster interface {
	ForecastMean(ctx context.Context, in *forecast.RolloutInput, samples int, src rand.Source) ([][]float64, error)
}

// Report holds the scores of one evaluation run
type Report struct {
	RMSE     float64       `json:"rmse"`
	SMAPE    float64       `json:"smape"`
	MAE      float64       `json:"mae"`
	Series   int           `json:"series"`
	Horizon  int           `json:"horizon"`
	Samples  int           `json:"samples"`
	Duration time.Duration `json:"duration"`

	// Forecast is the sample-mean forecast that was scored
	Forecast [][]float64 `json:"forecast,omitempty"`
}

// Evaluator scores a model against held-out targets
type Evaluator struct {
	logger *logrus.Logger
}

// NewEvaluator creates a new evaluator
func NewEvaluator(logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{logger: logger}
}

// Evaluate forecasts in with samples rollouts and scores the mean against truth
func (e *Evaluator) Evaluate(ctx context.Context, model Forecaster, in *forecast.RolloutInput, truth [][]float64, samples int, src rand.Source) (*Report, error) {
	start := time.Now()

	pred, err := model.ForecastMean(ctx, in, samples, src)
	if err != nil {
		return nil, err
	}

	report := &Report{Samples: samples, Forecast: pred, Series: len(pred)}
	if len(pred) > 0 {
		report.Horizon = len(pred[0])
	}
	if report.RMSE, err = RMSE(truth, pred); err != nil {
		return nil, err
	}
	if report.SMAPE, err = SMAPE(pred, truth); err != nil {
		return nil, err
	}
	if report.MAE, err = MAE(truth, pred); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)

	e.logger.WithFields(logrus.Fields{
		"rmse":     report.RMSE,
		"smape":    report.SMAPE,
		"mae":      report.MAE,
		"series":   report.Series,
		"horizon":  report.Horizon,
		"duration": report.Duration,
	}).Info("Evaluation completed")

	return report, nil
}

// Evaluate is a convenience wrapper around a default Evaluator
func Evaluate(ctx context.Context, model Forecaster, in *forecast.RolloutInput, truth [][]float64, samples int, src rand.Source) (*Report, error) {
	return NewEvaluator(nil).Evaluate(ctx, model, in, truth, samples, src)
}
