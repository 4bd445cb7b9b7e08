package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Distribution is the output likelihood of the model. One implementation is
// chosen by name when the model is built.
type Distribution interface {
	// Name returns the registered name, as stored in checkpoints
	Name() string

	// ForwardMA maps the raw head outputs and the series scale to (m, a)
	ForwardMA(um, ua, scale float64) (m, a float64)

	// BackwardMA converts dL/dm and dL/da into dL/dum and dL/dua
	BackwardMA(um, ua, scale, dm, da float64) (dum, dua float64)

	// Sample draws one realization from the parameterized distribution
	Sample(m, a float64, src rand.Source) (float64, error)

	// LogLikelihood returns log p(z | m, a)
	LogLikelihood(z, m, a float64) (float64, error)

	// Gradients returns the partial derivatives of LogLikelihood
	Gradients(z, m, a float64) (dm, da float64)

	// Loss is the negative mean log-likelihood over every element
	Loss(z, m, a [][]float64) (float64, error)

	// Validate checks that (m, a) lie inside the parameter space
	Validate(m, a float64) error
}

// NewDistribution returns the distribution registered under name
func NewDistribution(name string) (Distribution, error) {
	switch name {
	case constants.DistributionNegativeBinomial:
		return NegativeBinomial{}, nil
	case constants.DistributionGaussian:
		return Gaussian{}, nil
	default:
		return nil, errors.NewValidationError(errors.CodeUnknownDistribution,
			fmt.Sprintf("unknown distribution %q", name)).
			WithCause(errors.ErrUnknownDistribution)
	}
}

// NegativeBinomial is the count likelihood with mean m and dispersion a,
// giving variance m + a*m^2.
type NegativeBinomial struct{}

// Name implements Distribution
func (NegativeBinomial) Name() string { return constants.DistributionNegativeBinomial }

// ForwardMA implements Distribution
func (NegativeBinomial) ForwardMA(um, ua, scale float64) (float64, float64) {
	return softplus(um) * scale, softplus(ua) / math.Sqrt(scale)
}

// BackwardMA implements Distribution
func (NegativeBinomial) BackwardMA(um, ua, scale, dm, da float64) (float64, float64) {
	return dm * sigmoid(um) * scale, da * sigmoid(ua) / math.Sqrt(scale)
}

// Validate implements Distribution
func (NegativeBinomial) Validate(m, a float64) error {
	if !isFinite(m) || m < 0 || !isFinite(a) || a <= 0 {
		return invalidParams("negbin", m, a)
	}
	return nil
}

// Sample draws from the Gamma-Poisson mixture: lambda ~ Gamma(1/a, rate 1/(m*a)),
// then z ~ Poisson(lambda).
func (d NegativeBinomial) Sample(m, a float64, src rand.Source) (float64, error) {
	if err := d.Validate(m, a); err != nil {
		return 0, err
	}
	if m == 0 {
		return 0, nil
	}
	r := 1 / a
	p := m * a / (1 + m*a)
	lambda := distuv.Gamma{Alpha: r, Beta: (1 - p) / p, Src: src}.Rand()
	if lambda <= 0 {
		return 0, nil
	}
	return distuv.Poisson{Lambda: lambda, Src: src}.Rand(), nil
}

// LogLikelihood implements Distribution. It stays in log space throughout.
func (d NegativeBinomial) LogLikelihood(z, m, a float64) (float64, error) {
	if err := d.Validate(m, a); err != nil {
		return 0, err
	}
	r := 1 / a
	ma := m * a
	lz, _ := math.Lgamma(z + r)
	lz1, _ := math.Lgamma(z + 1)
	lr, _ := math.Lgamma(r)
	ll := lz - lz1 - lr - r*math.Log1p(ma)
	if z != 0 {
		ll += z * (math.Log(ma) - math.Log1p(ma))
	}
	return ll, nil
}

// Gradients implements Distribution
func (NegativeBinomial) Gradients(z, m, a float64) (float64, float64) {
	r := 1 / a
	ma := m * a
	var dm float64
	if z == 0 {
		dm = -1 / (1 + ma)
	} else {
		dm = (z - m) / (m * (1 + ma))
	}
	da := (math.Log1p(ma)-mathext.Digamma(z+r)+mathext.Digamma(r))/(a*a) + (z-m)/(a*(1+ma))
	return dm, da
}

// Loss implements Distribution
func (d NegativeBinomial) Loss(z, m, a [][]float64) (float64, error) {
	return negativeMeanLogLikelihood(d, z, m, a)
}

// Gaussian is the real-valued likelihood with mean m and standard deviation a
type Gaussian struct{}

// Name implements Distribution
func (Gaussian) Name() string { return constants.DistributionGaussian }

// ForwardMA implements Distribution
func (Gaussian) ForwardMA(um, ua, scale float64) (float64, float64) {
	return um * scale, softplus(ua) * scale
}

// BackwardMA implements Distribution
func (Gaussian) BackwardMA(um, ua, scale, dm, da float64) (float64, float64) {
	return dm * scale, da * sigmoid(ua) * scale
}

// Validate implements Distribution
func (Gaussian) Validate(m, a float64) error {
	if !isFinite(m) || !isFinite(a) || a <= 0 {
		return invalidParams("gaussian", m, a)
	}
	return nil
}

// Sample implements Distribution
func (d Gaussian) Sample(m, a float64, src rand.Source) (float64, error) {
	if err := d.Validate(m, a); err != nil {
		return 0, err
	}
	return distuv.Normal{Mu: m, Sigma: a, Src: src}.Rand(), nil
}

// LogLikelihood implements Distribution
func (d Gaussian) LogLikelihood(z, m, a float64) (float64, error) {
	if err := d.Validate(m, a); err != nil {
		return 0, err
	}
	diff := z - m
	return -0.5*math.Log(2*math.Pi*a*a) - diff*diff/(2*a*a), nil
}

// Gradients implements Distribution
func (Gaussian) Gradients(z, m, a float64) (float64, float64) {
	diff := z - m
	return diff / (a * a), -1/a + diff*diff/(a*a*a)
}

// Loss implements Distribution
func (d Gaussian) Loss(z, m, a [][]float64) (float64, error) {
	return negativeMeanLogLikelihood(d, z, m, a)
}

func negativeMeanLogLikelihood(d Distribution, z, m, a [][]float64) (float64, error) {
	if len(z) != len(m) || len(z) != len(a) {
		return 0, shapeMismatch("loss", "z, m and a must have the same number of series")
	}
	var sum float64
	var count int
	for i := range z {
		if len(z[i]) != len(m[i]) || len(z[i]) != len(a[i]) {
			return 0, shapeMismatch("loss", fmt.Sprintf("series %d has mismatched lengths", i))
		}
		for t := range z[i] {
			ll, err := d.LogLikelihood(z[i][t], m[i][t], a[i][t])
			if err != nil {
				return 0, err
			}
			sum += ll
			count++
		}
	}
	if count == 0 {
		return 0, errors.NewValidationError(errors.CodeEmptyDataset, "loss over an empty tensor")
	}
	loss := -sum / float64(count)
	if !isFinite(loss) {
		return 0, errors.NewTrainingError(errors.CodeNonFiniteLoss, "loss is not finite").
			WithCause(errors.ErrNonFiniteLoss).
			WithContext("loss", loss)
	}
	return loss, nil
}

func invalidParams(dist string, m, a float64) error {
	return errors.NewModelError(errors.CodeInvalidDistributionParams,
		fmt.Sprintf("%s parameters out of range: m=%v a=%v", dist, m, a)).
		WithCause(errors.ErrInvalidDistributionParams).
		WithContext("m", m).
		WithContext("a", a)
}

func shapeMismatch(op, details string) error {
	return errors.NewValidationError(errors.CodeShapeMismatch, op+": shape mismatch").
		WithDetails(details).
		WithCause(errors.ErrShapeMismatch)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
