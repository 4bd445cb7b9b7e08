package forecast

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// RolloutInput is everything needed to forecast a decode horizon
type RolloutInput struct {
	// EncX is the known history, (N, Tenc, F)
	EncX [][][]float64 `json:"enc_x"`
	// EncZ is the observed target over the history, (N, Tenc)
	EncZ [][]float64 `json:"enc_z"`
	// DecX holds covariates only, (N, Tdec, F-13)
	DecX [][][]float64 `json:"dec_x"`
	// Scale is one value per series, or one per decode step
	Scale [][]float64 `json:"scale"`
}

// Horizon returns the number of decode steps
func (in *RolloutInput) Horizon() int {
	if len(in.DecX) == 0 {
		return 0
	}
	return len(in.DecX[0])
}

// validateRollout checks shapes, scales and history length before any computation
func (m *Model) validateRollout(in *RolloutInput) (n, tEnc, tDec int, err error) {
	if in == nil {
		return 0, 0, 0, shapeMismatch("rollout", "input is required")
	}
	n, tEnc, err = m.checkInput(in.EncX, m.config.InputSize)
	if err != nil {
		return 0, 0, 0, err
	}
	if tEnc < constants.MaxLagWindow {
		return 0, 0, 0, errors.NewValidationError(errors.CodeInsufficientHistory,
			fmt.Sprintf("encode length %d is shorter than the largest lag window %d", tEnc, constants.MaxLagWindow)).
			WithCause(errors.ErrInsufficientHistory).
			WithContext("encode_length", tEnc)
	}
	if err := checkTargets(in.EncZ, n, tEnc); err != nil {
		return 0, 0, 0, err
	}
	if len(in.DecX) != n {
		return 0, 0, 0, shapeMismatch("rollout", fmt.Sprintf("%d decoder series for %d encoder series", len(in.DecX), n))
	}
	if len(in.DecX[0]) == 0 {
		return 0, 0, 0, shapeMismatch("rollout", "decode horizon is empty")
	}
	_, tDec, err = m.checkInput(in.DecX, m.config.decoderInputSize())
	if err != nil {
		return 0, 0, 0, err
	}
	if err := checkScales(in.Scale, n, tDec); err != nil {
		return 0, 0, 0, err
	}
	return n, tEnc, tDec, nil
}

// Forecast draws one sample path over the decode horizon. Each step feeds the
// previous sample back through the lag features. Only covariates come from
// DecX. The result is (N, Tdec).
func (m *Model) Forecast(ctx context.Context, in *RolloutInput, src rand.Source) ([][]float64, error) {
	n, tEnc, tDec, err := m.validateRollout(in)
	if err != nil {
		return nil, err
	}

	// ENCODE
	xs := make([]*mat.Dense, tEnc)
	for t := 0; t < tEnc; t++ {
		xs[t], _, _, err = m.embedStep(in.EncX, t)
		if err != nil {
			return nil, err
		}
	}
	_, state := m.cell.Run(xs, m.cell.ZeroState(n))

	history := make([][]float64, n)
	for i := range history {
		history[i] = make([]float64, tEnc, tEnc+tDec)
		copy(history[i], in.EncZ[i])
	}

	// DECODE
	dist := m.head.dist
	features := make([]float64, m.config.InputSize)
	scale := make([]float64, n)
	for t := tEnc; t < tEnc+tDec; t++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		step := t - tEnc
		x := mat.NewDense(n, m.config.cellInputSize(), nil)
		for i := 0; i < n; i++ {
			scale[i] = scaleAt(in.Scale[i], step)
			lags, err := LagFeatures(history[i], t, scale[i])
			if err != nil {
				return nil, err
			}
			copy(features, lags)
			copy(features[constants.NumLagFeatures:], in.DecX[i][step])
			if _, _, err := m.embedRow(x.RawRowView(i), features); err != nil {
				return nil, err
			}
		}

		var h *mat.Dense
		h, state = m.cell.Step(x, state)
		mu, alpha, err := m.head.ForwardMA(h, scale)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			z, err := dist.Sample(mu[i], alpha[i], src)
			if err != nil {
				return nil, err
			}
			history[i] = append(history[i], z)
		}
	}

	out := make([][]float64, n)
	for i := range history {
		out[i] = history[i][tEnc:]
	}
	return out, nil
}

// ForecastMean averages samples independent rollouts
func (m *Model) ForecastMean(ctx context.Context, in *RolloutInput, samples int, src rand.Source) ([][]float64, error) {
	if samples <= 0 {
		samples = constants.DefaultNumSamples
	}

	var mean [][]float64
	for s := 0; s < samples; s++ {
		path, err := m.Forecast(ctx, in, src)
		if err != nil {
			return nil, err
		}
		if mean == nil {
			mean = newGrid(len(path), len(path[0]))
		}
		for i := range path {
			for t, v := range path[i] {
				mean[i][t] += v
			}
		}
	}
	for i := range mean {
		for t := range mean[i] {
			mean[i][t] /= float64(samples)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"series":  len(mean),
		"horizon": in.Horizon(),
		"samples": samples,
	}).Debug("Computed mean forecast")

	return mean, nil
}
