package forecast

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// LagFeatures derives the decoder inputs for timestep t from history[:t].
//
// The layout is min, max, median and mean over each window in
// constants.LagWindows (shortest first), followed by history[t-1]. Every value
// is divided by scale. The median is the lower median for even windows.
func LagFeatures(history []float64, t int, scale float64) ([]float64, error) {
	if err := validateScale(scale); err != nil {
		return nil, err
	}
	if t < constants.MaxLagWindow || t > len(history) {
		return nil, errors.NewValidationError(errors.CodeInsufficientHistory,
			fmt.Sprintf("lag features at t=%d need %d prior values, history has %d", t, constants.MaxLagWindow, len(history))).
			WithCause(errors.ErrInsufficientHistory)
	}

	out := make([]float64, 0, constants.NumLagFeatures)
	sorted := make([]float64, constants.MaxLagWindow)
	for _, w := range constants.LagWindows {
		window := history[t-w : t]
		s := sorted[:w]
		copy(s, window)
		slices.Sort(s)
		out = append(out,
			floats.Min(window)/scale,
			floats.Max(window)/scale,
			stat.Quantile(0.5, stat.Empirical, s, nil)/scale,
			stat.Mean(window, nil)/scale,
		)
	}
	out = append(out, history[t-1]/scale)
	return out, nil
}

func validateScale(v float64) error {
	if !isFinite(v) || v <= 0 {
		return errors.NewValidationError(errors.CodeInvalidScale,
			fmt.Sprintf("scale must be finite and > 0, got %v", v)).
			WithCause(errors.ErrInvalidScale)
	}
	return nil
}
