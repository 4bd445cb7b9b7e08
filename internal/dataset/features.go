package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Series is the raw history of one (shop, item) pair
type Series struct {
	Shop int `json:"shop"`
	Item int `json:"item"`

	// Sales is the observed target
	Sales []float64 `json:"sales"`

	// Covariates holds the exogenous features per timestep. It may run past
	// Sales, in which case the extra steps form the forecast horizon.
	Covariates [][]float64 `json:"covariates"`

	// Scale divides every lag feature. Zero means SeriesScale(Sales).
	Scale float64 `json:"scale,omitempty"`
}

// SeriesScale is 1 + mean(sales), which is positive for any count series
func SeriesScale(sales []float64) float64 {
	if len(sales) == 0 {
		return 1
	}
	return 1 + stat.Mean(sales, nil)
}

func (s *Series) scale() float64 {
	if s.Scale > 0 {
		return s.Scale
	}
	return SeriesScale(s.Sales)
}

// row builds the full model input at t from a history that ends at t
func (s *Series) row(history []float64, t int) ([]float64, error) {
	lags, err := forecast.LagFeatures(history, t, s.scale())
	if err != nil {
		return nil, err
	}
	return append(lags, s.decoderRow(t)...), nil
}

// decoderRow is the covariate slice plus categorical columns for t
func (s *Series) decoderRow(t int) []float64 {
	row := make([]float64, 0, len(s.Covariates[t])+constants.NumCategoricalColumns)
	row = append(row, s.Covariates[t]...)
	return append(row, float64(s.Shop), float64(s.Item))
}

func (s *Series) check(index, needSales, needCovariates int) error {
	if len(s.Sales) < needSales {
		return errors.NewValidationError(errors.CodeInsufficientHistory,
			fmt.Sprintf("series %d has %d observations, need %d", index, len(s.Sales), needSales)).
			WithCause(errors.ErrInsufficientHistory)
	}
	if len(s.Covariates) < needCovariates {
		return shapeMismatch(fmt.Sprintf("series %d has %d covariate rows, need %d", index, len(s.Covariates), needCovariates))
	}
	return nil
}

// BuildTraining turns the last window steps of every series into a training
// set. Each step carries lag features over the true history, so the first
// usable step is the largest lag window.
func BuildTraining(series []Series, window int) (*Dataset, error) {
	d := &Dataset{}
	for i := range series {
		s := &series[i]
		if err := s.check(i, window+constants.MaxLagWindow, len(s.Sales)); err != nil {
			return nil, err
		}
		T := len(s.Sales)
		x := make([][]float64, 0, window)
		for t := T - window; t < T; t++ {
			row, err := s.row(s.Sales, t)
			if err != nil {
				return nil, err
			}
			x = append(x, row)
		}
		d.X = append(d.X, x)
		d.Z = append(d.Z, append([]float64(nil), s.Sales[T-window:]...))
		d.V = append(d.V, []float64{s.scale()})
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// BuildHoldout withholds the last horizon observations of every series as
// truth and builds the rollout input that should predict them.
func BuildHoldout(series []Series, encodeLength, horizon int) (*forecast.RolloutInput, [][]float64, error) {
	in := &forecast.RolloutInput{}
	truth := make([][]float64, 0, len(series))
	for i := range series {
		s := series[i]
		if err := s.check(i, encodeLength+constants.MaxLagWindow+horizon, len(s.Sales)); err != nil {
			return nil, nil, err
		}
		cut := len(s.Sales) - horizon
		if s.Scale <= 0 {
			s.Scale = SeriesScale(s.Sales[:cut])
		}
		if err := appendRollout(in, &s, s.Sales[:cut], encodeLength, horizon); err != nil {
			return nil, nil, err
		}
		truth = append(truth, append([]float64(nil), s.Sales[cut:]...))
	}
	return in, truth, nil
}

// BuildForecast builds the rollout input for the steps past the end of Sales.
// Every series must carry the same number of extra covariate rows.
func BuildForecast(series []Series, encodeLength int) (*forecast.RolloutInput, error) {
	if len(series) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "no series to forecast")
	}
	horizon := len(series[0].Covariates) - len(series[0].Sales)
	if horizon <= 0 {
		return nil, shapeMismatch("series 0 has no covariates past its sales history")
	}
	in := &forecast.RolloutInput{}
	for i := range series {
		s := &series[i]
		if err := s.check(i, encodeLength+constants.MaxLagWindow, len(s.Sales)+horizon); err != nil {
			return nil, err
		}
		if len(s.Covariates) != len(s.Sales)+horizon {
			return nil, shapeMismatch(fmt.Sprintf("series %d horizon differs from series 0", i))
		}
		if err := appendRollout(in, s, s.Sales, encodeLength, horizon); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func appendRollout(in *forecast.RolloutInput, s *Series, history []float64, encodeLength, horizon int) error {
	T := len(history)
	encX := make([][]float64, 0, encodeLength)
	for t := T - encodeLength; t < T; t++ {
		row, err := s.row(history, t)
		if err != nil {
			return err
		}
		encX = append(encX, row)
	}
	decX := make([][]float64, 0, horizon)
	for t := T; t < T+horizon; t++ {
		decX = append(decX, s.decoderRow(t))
	}
	in.EncX = append(in.EncX, encX)
	in.EncZ = append(in.EncZ, append([]float64(nil), history[T-encodeLength:]...))
	in.DecX = append(in.DecX, decX)
	in.Scale = append(in.Scale, []float64{s.scale()})
	return nil
}
