package forecast

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamOptimizer implements the Adam optimization algorithm
type AdamOptimizer struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int          // time step
	m            []*mat.Dense // first moment estimate
	v            []*mat.Dense // second moment estimate
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(learningRate float64) *AdamOptimizer {
	return &AdamOptimizer{
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// UpdateWeights applies one bias-corrected Adam step to weights in place.
// gradients must match weights index for index and shape for shape.
func (opt *AdamOptimizer) UpdateWeights(weights []*mat.Dense, gradients []*mat.Dense) {
	opt.t++

	if len(opt.m) != len(weights) {
		opt.initializeMoments(weights)
	}

	beta1Correction := 1 - math.Pow(opt.beta1, float64(opt.t))
	beta2Correction := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, weight := range weights {
		if i >= len(gradients) {
			continue
		}

		w := weight.RawMatrix()
		g := gradients[i].RawMatrix()
		m := opt.m[i].RawMatrix()
		v := opt.v[i].RawMatrix()
		for r := 0; r < w.Rows; r++ {
			wr := w.Data[r*w.Stride : r*w.Stride+w.Cols]
			gr := g.Data[r*g.Stride : r*g.Stride+g.Cols]
			mr := m.Data[r*m.Stride : r*m.Stride+m.Cols]
			vr := v.Data[r*v.Stride : r*v.Stride+v.Cols]
			for c := range wr {
				mr[c] = opt.beta1*mr[c] + (1-opt.beta1)*gr[c]
				vr[c] = opt.beta2*vr[c] + (1-opt.beta2)*gr[c]*gr[c]
				mhat := mr[c] / beta1Correction
				vhat := vr[c] / beta2Correction
				wr[c] -= opt.learningRate * mhat / (math.Sqrt(vhat) + opt.epsilon)
			}
		}
	}
}

// initializeMoments initializes the moment estimates
func (opt *AdamOptimizer) initializeMoments(weights []*mat.Dense) {
	opt.m = make([]*mat.Dense, len(weights))
	opt.v = make([]*mat.Dense, len(weights))

	for i, weight := range weights {
		rows, cols := weight.Dims()
		opt.m[i] = mat.NewDense(rows, cols, nil)
		opt.v[i] = mat.NewDense(rows, cols, nil)
	}
}
