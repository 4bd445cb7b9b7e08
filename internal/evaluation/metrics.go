package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/tsforecast/pkg/errors"
)

// RMSE is the root mean squared error over every element
func RMSE(truth, pred [][]float64) (float64, error) {
	t, p, err := flatten(truth, pred)
	if err != nil {
		return 0, err
	}
	return floats.Distance(t, p, 2) / math.Sqrt(float64(len(t))), nil
}

// MAE is the mean absolute error over every element
func MAE(truth, pred [][]float64) (float64, error) {
	t, p, err := flatten(truth, pred)
	if err != nil {
		return 0, err
	}
	return floats.Distance(t, p, 1) / float64(len(t)), nil
}

// SMAPE is the mean of |f-a| / (|a|+|f|). Elements where both are zero are a
// perfect forecast and contribute 0.
func SMAPE(forecast, actual [][]float64) (float64, error) {
	f, a, err := flatten(forecast, actual)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := range f {
		d := math.Abs(a[i]) + math.Abs(f[i])
		if d == 0 {
			continue
		}
		sum += math.Abs(f[i]-a[i]) / d
	}
	return sum / float64(len(f)), nil
}

func flatten(a, b [][]float64) ([]float64, []float64, error) {
	if len(a) != len(b) {
		return nil, nil, shapeMismatch(fmt.Sprintf("%d series vs %d", len(a), len(b)))
	}
	var fa, fb []float64
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return nil, nil, shapeMismatch(fmt.Sprintf("series %d has %d vs %d values", i, len(a[i]), len(b[i])))
		}
		fa = append(fa, a[i]...)
		fb = append(fb, b[i]...)
	}
	if len(fa) == 0 {
		return nil, nil, errors.NewValidationError(errors.CodeEmptyDataset, "cannot score an empty forecast")
	}
	return fa, fb, nil
}

func shapeMismatch(details string) error {
	return errors.NewValidationError(errors.CodeShapeMismatch, "forecast and truth shapes differ").
		WithDetails(details).
		WithCause(errors.ErrShapeMismatch)
}
