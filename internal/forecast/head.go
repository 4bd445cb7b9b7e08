package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Head projects the top hidden layer to the two raw distribution outputs and
// hands them to the Distribution for the positivity transforms.
type Head struct {
	dist Distribution

	Wm *mat.Dense // 1 x H
	Bm *mat.Dense // 1 x 1
	Wa *mat.Dense // 1 x H
	Ba *mat.Dense // 1 x 1
}

// headGrads mirrors the Head parameters
type headGrads struct {
	dWm, dBm, dWa, dBa *mat.Dense
}

// NewHead creates the two linear projections, initialized uniform in +-1/sqrt(H)
func NewHead(dist Distribution, hiddenSize int, rng *rand.Rand) *Head {
	bound := 1.0 / math.Sqrt(float64(hiddenSize))
	uniform := func(n int) *mat.Dense {
		data := make([]float64, n)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
		return mat.NewDense(1, n, data)
	}
	return &Head{
		dist: dist,
		Wm:   uniform(hiddenSize),
		Bm:   uniform(1),
		Wa:   uniform(hiddenSize),
		Ba:   uniform(1),
	}
}

// Distribution returns the likelihood this head parameterizes
func (hd *Head) Distribution() Distribution {
	return hd.dist
}

// project returns the raw linear outputs for every row of h
func (hd *Head) project(h *mat.Dense) (um, ua []float64) {
	n, _ := h.Dims()
	um = make([]float64, n)
	ua = make([]float64, n)
	wm, wa := hd.Wm.RawRowView(0), hd.Wa.RawRowView(0)
	bm, ba := hd.Bm.At(0, 0), hd.Ba.At(0, 0)
	for r := 0; r < n; r++ {
		row := h.RawRowView(r)
		um[r] = floats.Dot(wm, row) + bm
		ua[r] = floats.Dot(wa, row) + ba
	}
	return um, ua
}

// ForwardMA computes (m, a) for one timestep of a batch. scale holds one
// value per row of h.
func (hd *Head) ForwardMA(h *mat.Dense, scale []float64) (m, a []float64, err error) {
	n, _ := h.Dims()
	if len(scale) != n {
		return nil, nil, shapeMismatch("head", fmt.Sprintf("%d scale values for %d rows", len(scale), n))
	}
	um, ua := hd.project(h)
	m = make([]float64, n)
	a = make([]float64, n)
	for r := 0; r < n; r++ {
		m[r], a[r] = hd.dist.ForwardMA(um[r], ua[r], scale[r])
		if err := hd.dist.Validate(m[r], a[r]); err != nil {
			return nil, nil, err
		}
	}
	return m, a, nil
}

// backward accumulates head gradients for one timestep and returns dL/dh
func (hd *Head) backward(h *mat.Dense, dum, dua []float64, g *headGrads) *mat.Dense {
	n, H := h.Dims()
	dh := mat.NewDense(n, H, nil)
	wm, wa := hd.Wm.RawRowView(0), hd.Wa.RawRowView(0)
	dwm, dwa := g.dWm.RawRowView(0), g.dWa.RawRowView(0)
	for r := 0; r < n; r++ {
		row := h.RawRowView(r)
		dr := dh.RawRowView(r)
		for j := 0; j < H; j++ {
			dwm[j] += dum[r] * row[j]
			dwa[j] += dua[r] * row[j]
			dr[j] = dum[r]*wm[j] + dua[r]*wa[j]
		}
		g.dBm.Set(0, 0, g.dBm.At(0, 0)+dum[r])
		g.dBa.Set(0, 0, g.dBa.At(0, 0)+dua[r])
	}
	return dh
}
