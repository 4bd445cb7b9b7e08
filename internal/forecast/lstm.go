package forecast

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LSTMLayer holds the parameters of one recurrent layer. Gate blocks are laid
// out input, forget, cell, output along the first axis of W and U.
type LSTMLayer struct {
	inputSize  int
	hiddenSize int

	W *mat.Dense // 4H x inputSize
	U *mat.Dense // 4H x H
	B *mat.Dense // 1 x 4H
}

// LSTM is a stack of LSTM layers operating on batch-major matrices
type LSTM struct {
	layers     []*LSTMLayer
	hiddenSize int
}

// State is the recurrent memory of every layer, one N x H matrix each
type State struct {
	H []*mat.Dense
	C []*mat.Dense
}

// layerGrads accumulates parameter gradients for one layer
type layerGrads struct {
	dW *mat.Dense
	dU *mat.Dense
	dB *mat.Dense
}

// stepCache keeps what BPTT needs from one layer at one timestep
type stepCache struct {
	x     *mat.Dense
	hPrev *mat.Dense
	cPrev *mat.Dense
	gates *mat.Dense // activated i, f, g, o
	tanhC *mat.Dense
}

// lstmCache is indexed [t][layer]
type lstmCache struct {
	steps [][]*stepCache
}

// NewLSTM creates a stacked LSTM with weights uniform in +-1/sqrt(hidden)
func NewLSTM(inputSize, hiddenSize, numLayers int, rng *rand.Rand) *LSTM {
	bound := 1.0 / math.Sqrt(float64(hiddenSize))
	uniform := func(r, c int) *mat.Dense {
		data := make([]float64, r*c)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
		return mat.NewDense(r, c, data)
	}

	l := &LSTM{hiddenSize: hiddenSize}
	in := inputSize
	for i := 0; i < numLayers; i++ {
		l.layers = append(l.layers, &LSTMLayer{
			inputSize:  in,
			hiddenSize: hiddenSize,
			W:          uniform(4*hiddenSize, in),
			U:          uniform(4*hiddenSize, hiddenSize),
			B:          uniform(1, 4*hiddenSize),
		})
		in = hiddenSize
	}
	return l
}

// HiddenSize returns the width of every layer's output
func (l *LSTM) HiddenSize() int {
	return l.hiddenSize
}

// NumLayers returns the depth of the stack
func (l *LSTM) NumLayers() int {
	return len(l.layers)
}

// ZeroState returns an all-zero state for a batch of n series
func (l *LSTM) ZeroState(n int) State {
	s := State{
		H: make([]*mat.Dense, len(l.layers)),
		C: make([]*mat.Dense, len(l.layers)),
	}
	for i := range l.layers {
		s.H[i] = mat.NewDense(n, l.hiddenSize, nil)
		s.C[i] = mat.NewDense(n, l.hiddenSize, nil)
	}
	return s
}

// Step advances the stack by one timestep from an explicit state. The input
// state is not modified.
func (l *LSTM) Step(x *mat.Dense, s State) (*mat.Dense, State) {
	next := State{
		H: make([]*mat.Dense, len(l.layers)),
		C: make([]*mat.Dense, len(l.layers)),
	}
	in := x
	for i, layer := range l.layers {
		h, c, _ := layer.step(in, s.H[i], s.C[i], false)
		next.H[i], next.C[i] = h, c
		in = h
	}
	return in, next
}

// Run applies Step over a whole sequence and returns every top-layer output
// together with the final state.
func (l *LSTM) Run(xs []*mat.Dense, s State) ([]*mat.Dense, State) {
	outs := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		outs[t], s = l.Step(x, s)
	}
	return outs, s
}

// Forward runs a full sequence from the zero state, keeping the activations
// needed by Backward. The final state is discarded.
func (l *LSTM) Forward(xs []*mat.Dense) ([]*mat.Dense, *lstmCache) {
	if len(xs) == 0 {
		return nil, &lstmCache{}
	}
	n, _ := xs[0].Dims()
	s := l.ZeroState(n)
	cache := &lstmCache{steps: make([][]*stepCache, len(xs))}
	outs := make([]*mat.Dense, len(xs))

	for t, x := range xs {
		cache.steps[t] = make([]*stepCache, len(l.layers))
		in := x
		for i, layer := range l.layers {
			h, c, sc := layer.step(in, s.H[i], s.C[i], true)
			cache.steps[t][i] = sc
			s.H[i], s.C[i] = h, c
			in = h
		}
		outs[t] = in
	}
	return outs, cache
}

// Backward propagates dOut (one N x H matrix per timestep) through time,
// accumulating parameter gradients into grads and returning the gradient of
// the loss with respect to every input.
func (l *LSTM) Backward(cache *lstmCache, dOut []*mat.Dense, grads []*layerGrads) []*mat.Dense {
	T := len(cache.steps)
	dXs := make([]*mat.Dense, T)
	if T == 0 {
		return dXs
	}
	n, _ := dOut[0].Dims()
	H := l.hiddenSize

	dhNext := make([]*mat.Dense, len(l.layers))
	dcNext := make([]*mat.Dense, len(l.layers))
	for i := range l.layers {
		dhNext[i] = mat.NewDense(n, H, nil)
		dcNext[i] = mat.NewDense(n, H, nil)
	}

	for t := T - 1; t >= 0; t-- {
		dIn := dOut[t]
		for i := len(l.layers) - 1; i >= 0; i-- {
			layer := l.layers[i]
			sc := cache.steps[t][i]

			dh := mat.NewDense(n, H, nil)
			dh.Add(dIn, dhNext[i])

			dGates := mat.NewDense(n, 4*H, nil)
			dcPrev := mat.NewDense(n, H, nil)
			for r := 0; r < n; r++ {
				gates := sc.gates.RawRowView(r)
				tc := sc.tanhC.RawRowView(r)
				cp := sc.cPrev.RawRowView(r)
				dhr := dh.RawRowView(r)
				dcn := dcNext[i].RawRowView(r)
				dg := dGates.RawRowView(r)
				dcp := dcPrev.RawRowView(r)
				for j := 0; j < H; j++ {
					ig, fg, gg, og := gates[j], gates[H+j], gates[2*H+j], gates[3*H+j]
					do := dhr[j] * tc[j]
					dc := dcn[j] + dhr[j]*og*(1-tc[j]*tc[j])

					dg[j] = dc * gg * ig * (1 - ig)
					dg[H+j] = dc * cp[j] * fg * (1 - fg)
					dg[2*H+j] = dc * ig * (1 - gg*gg)
					dg[3*H+j] = do * og * (1 - og)
					dcp[j] = dc * fg
				}
			}

			var tmp mat.Dense
			tmp.Mul(dGates.T(), sc.x)
			grads[i].dW.Add(grads[i].dW, &tmp)
			tmp.Reset()
			tmp.Mul(dGates.T(), sc.hPrev)
			grads[i].dU.Add(grads[i].dU, &tmp)
			db := grads[i].dB.RawRowView(0)
			for r := 0; r < n; r++ {
				for j, v := range dGates.RawRowView(r) {
					db[j] += v
				}
			}

			dx := mat.NewDense(n, layer.inputSize, nil)
			dx.Mul(dGates, layer.W)
			dhPrev := mat.NewDense(n, H, nil)
			dhPrev.Mul(dGates, layer.U)

			dhNext[i] = dhPrev
			dcNext[i] = dcPrev
			dIn = dx
		}
		dXs[t] = dIn
	}
	return dXs
}

// newGrads allocates zeroed gradient buffers for every layer
func (l *LSTM) newGrads() []*layerGrads {
	grads := make([]*layerGrads, len(l.layers))
	for i, layer := range l.layers {
		grads[i] = &layerGrads{
			dW: mat.NewDense(4*layer.hiddenSize, layer.inputSize, nil),
			dU: mat.NewDense(4*layer.hiddenSize, layer.hiddenSize, nil),
			dB: mat.NewDense(1, 4*layer.hiddenSize, nil),
		}
	}
	return grads
}

// step computes one timestep for one layer
func (layer *LSTMLayer) step(x, hPrev, cPrev *mat.Dense, keep bool) (*mat.Dense, *mat.Dense, *stepCache) {
	n, _ := x.Dims()
	H := layer.hiddenSize

	gates := mat.NewDense(n, 4*H, nil)
	gates.Mul(x, layer.W.T())
	var rec mat.Dense
	rec.Mul(hPrev, layer.U.T())
	gates.Add(gates, &rec)

	bias := layer.B.RawRowView(0)
	h := mat.NewDense(n, H, nil)
	c := mat.NewDense(n, H, nil)
	tanhC := mat.NewDense(n, H, nil)
	for r := 0; r < n; r++ {
		g := gates.RawRowView(r)
		for j := range g {
			g[j] += bias[j]
		}
		for j := 0; j < H; j++ {
			g[j] = sigmoid(g[j])
			g[H+j] = sigmoid(g[H+j])
			g[2*H+j] = math.Tanh(g[2*H+j])
			g[3*H+j] = sigmoid(g[3*H+j])
		}
		cp := cPrev.RawRowView(r)
		cr := c.RawRowView(r)
		hr := h.RawRowView(r)
		tr := tanhC.RawRowView(r)
		for j := 0; j < H; j++ {
			cr[j] = g[H+j]*cp[j] + g[j]*g[2*H+j]
			tr[j] = math.Tanh(cr[j])
			hr[j] = g[3*H+j] * tr[j]
		}
	}

	if !keep {
		return h, c, nil
	}
	return h, c, &stepCache{x: x, hPrev: hPrev, cPrev: cPrev, gates: gates, tanhC: tanhC}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// softplus is log(1+exp(x)) without overflow for large |x|
func softplus(x float64) float64 {
	return math.Log1p(math.Exp(-math.Abs(x))) + math.Max(x, 0)
}
