package forecast

import (
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/pkg/constants"
)

// Model is the autoregressive recurrent forecaster: categorical embeddings,
// a stacked LSTM and a distribution head.
type Model struct {
	logger *logrus.Logger
	config *Config

	shops *Embedding
	items *Embedding
	cell  *LSTM
	head  *Head
}

// NewModel builds a freshly initialized model
func NewModel(config *Config, logger *logrus.Logger) (*Model, error) {
	if config == nil {
		return nil, fmt.Errorf("model config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	dist, err := NewDistribution(config.Distribution)
	if err != nil {
		return nil, err
	}

	cfg := *config
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	m := &Model{
		logger: logger,
		config: &cfg,
		shops:  NewEmbedding("shop", cfg.NumShops, cfg.ShopEmbeddingDim, rng),
		items:  NewEmbedding("item", cfg.NumItems, cfg.ItemEmbeddingDim, rng),
		cell:   NewLSTM(cfg.cellInputSize(), cfg.HiddenSize, cfg.NumLayers, rng),
	}
	m.head = NewHead(dist, cfg.HiddenSize, rng)

	logger.WithFields(logrus.Fields{
		"distribution": dist.Name(),
		"input_size":   cfg.InputSize,
		"hidden_size":  cfg.HiddenSize,
		"num_layers":   cfg.NumLayers,
		"parameters":   m.NumParameters(),
	}).Debug("Initialized forecast model")

	return m, nil
}

// Config returns a copy of the architecture
func (m *Model) Config() Config {
	return *m.config
}

// Distribution returns the output likelihood
func (m *Model) Distribution() Distribution {
	return m.head.dist
}

// Parameters returns every learned matrix in a fixed order. The matrices are
// live: the optimizer updates them in place.
func (m *Model) Parameters() []*mat.Dense {
	params := []*mat.Dense{m.shops.table, m.items.table}
	for _, layer := range m.cell.layers {
		params = append(params, layer.W, layer.U, layer.B)
	}
	return append(params, m.head.Wm, m.head.Bm, m.head.Wa, m.head.Ba)
}

// ParameterNames labels Parameters, index for index
func (m *Model) ParameterNames() []string {
	names := []string{"embedding.shops", "embedding.items"}
	for i := range m.cell.layers {
		names = append(names,
			fmt.Sprintf("lstm.%d.w", i),
			fmt.Sprintf("lstm.%d.u", i),
			fmt.Sprintf("lstm.%d.b", i),
		)
	}
	return append(names, "head.m.w", "head.m.b", "head.a.w", "head.a.b")
}

// NumParameters counts scalar parameters
func (m *Model) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		r, c := p.Dims()
		total += r * c
	}
	return total
}

// Forward runs the full-sequence pass over x and returns (m, a) per series and
// timestep. scale holds one value per series, or one per timestep.
func (m *Model) Forward(x [][][]float64, scale [][]float64) (mu, alpha [][]float64, err error) {
	pass, err := m.forward(x, scale)
	if err != nil {
		return nil, nil, err
	}
	return pass.m, pass.a, nil
}

// Loss is the negative mean log-likelihood of z under the forward pass
func (m *Model) Loss(x [][][]float64, z, scale [][]float64) (float64, error) {
	pass, err := m.forward(x, scale)
	if err != nil {
		return 0, err
	}
	if err := checkTargets(z, len(x), len(x[0])); err != nil {
		return 0, err
	}
	return m.head.dist.Loss(z, pass.m, pass.a)
}

// LossAndGradients computes the loss and the gradient of every parameter,
// returned in Parameters order.
func (m *Model) LossAndGradients(x [][][]float64, z, scale [][]float64) (float64, []*mat.Dense, error) {
	pass, err := m.forward(x, scale)
	if err != nil {
		return 0, nil, err
	}
	n, T := len(x), len(x[0])
	if err := checkTargets(z, n, T); err != nil {
		return 0, nil, err
	}
	dist := m.head.dist
	loss, err := dist.Loss(z, pass.m, pass.a)
	if err != nil {
		return 0, nil, err
	}

	hg := &headGrads{
		dWm: mat.NewDense(1, m.config.HiddenSize, nil),
		dBm: mat.NewDense(1, 1, nil),
		dWa: mat.NewDense(1, m.config.HiddenSize, nil),
		dBa: mat.NewDense(1, 1, nil),
	}
	norm := -1 / float64(n*T)
	dOut := make([]*mat.Dense, T)
	dum := make([]float64, n)
	dua := make([]float64, n)
	for t := 0; t < T; t++ {
		for i := 0; i < n; i++ {
			mu, a := pass.m[i][t], pass.a[i][t]
			dm, da := dist.Gradients(z[i][t], mu, a)
			dum[i], dua[i] = dist.BackwardMA(pass.um[t][i], pass.ua[t][i], scaleAt(scale[i], t), dm*norm, da*norm)
		}
		dOut[t] = m.head.backward(pass.outs[t], dum, dua, hg)
	}

	lg := m.cell.newGrads()
	dXs := m.cell.Backward(pass.cache, dOut, lg)

	dShops := mat.NewDense(m.shops.Size(), m.shops.Dim(), nil)
	dItems := mat.NewDense(m.items.Size(), m.items.Dim(), nil)
	cont := m.config.InputSize - constants.NumCategoricalColumns
	for t := 0; t < T; t++ {
		for i := 0; i < n; i++ {
			row := dXs[t].RawRowView(i)
			m.shops.AccumulateGradient(dShops, pass.shopIdx[t][i], row[cont:cont+m.shops.Dim()])
			m.items.AccumulateGradient(dItems, pass.itemIdx[t][i], row[cont+m.shops.Dim():])
		}
	}

	grads := []*mat.Dense{dShops, dItems}
	for _, g := range lg {
		grads = append(grads, g.dW, g.dU, g.dB)
	}
	grads = append(grads, hg.dWm, hg.dBm, hg.dWa, hg.dBa)
	return loss, grads, nil
}

// forwardPass keeps the intermediates of a full-sequence pass
type forwardPass struct {
	outs    []*mat.Dense
	cache   *lstmCache
	um, ua  [][]float64 // [t][i]
	m, a    [][]float64 // [i][t]
	shopIdx [][]int     // [t][i]
	itemIdx [][]int     // [t][i]
}

func (m *Model) forward(x [][][]float64, scale [][]float64) (*forwardPass, error) {
	n, T, err := m.checkInput(x, m.config.InputSize)
	if err != nil {
		return nil, err
	}
	if err := checkScales(scale, n, T); err != nil {
		return nil, err
	}

	pass := &forwardPass{
		um:      make([][]float64, T),
		ua:      make([][]float64, T),
		shopIdx: make([][]int, T),
		itemIdx: make([][]int, T),
	}
	xs := make([]*mat.Dense, T)
	for t := 0; t < T; t++ {
		xs[t], pass.shopIdx[t], pass.itemIdx[t], err = m.embedStep(x, t)
		if err != nil {
			return nil, err
		}
	}

	pass.outs, pass.cache = m.cell.Forward(xs)

	pass.m = newGrid(n, T)
	pass.a = newGrid(n, T)
	dist := m.head.dist
	for t := 0; t < T; t++ {
		pass.um[t], pass.ua[t] = m.head.project(pass.outs[t])
		for i := 0; i < n; i++ {
			mu, a := dist.ForwardMA(pass.um[t][i], pass.ua[t][i], scaleAt(scale[i], t))
			if err := dist.Validate(mu, a); err != nil {
				return nil, err
			}
			pass.m[i][t], pass.a[i][t] = mu, a
		}
	}
	return pass, nil
}

// embedStep builds the N x cellInput matrix for timestep t of x
func (m *Model) embedStep(x [][][]float64, t int) (*mat.Dense, []int, []int, error) {
	n := len(x)
	in := mat.NewDense(n, m.config.cellInputSize(), nil)
	shops := make([]int, n)
	items := make([]int, n)
	for i := 0; i < n; i++ {
		s, it, err := m.embedRow(in.RawRowView(i), x[i][t])
		if err != nil {
			return nil, nil, nil, err
		}
		shops[i], items[i] = s, it
	}
	return in, shops, items, nil
}

// embedRow writes [continuous..., shopEmb, itemEmb] into dst. features holds
// the continuous columns followed by the shop and item indices.
func (m *Model) embedRow(dst, features []float64) (int, int, error) {
	cont := len(features) - constants.NumCategoricalColumns
	shop, err := m.shops.Index(features[cont])
	if err != nil {
		return 0, 0, err
	}
	item, err := m.items.Index(features[cont+1])
	if err != nil {
		return 0, 0, err
	}
	copy(dst, features[:cont])
	copy(dst[cont:], m.shops.table.RawRowView(shop))
	copy(dst[cont+m.shops.Dim():], m.items.table.RawRowView(item))
	return shop, item, nil
}

// checkInput validates an (N, T, F) tensor against the expected width
func (m *Model) checkInput(x [][][]float64, width int) (int, int, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return 0, 0, shapeMismatch("input", "input tensor is empty")
	}
	n, T := len(x), len(x[0])
	for i := range x {
		if len(x[i]) != T {
			return 0, 0, shapeMismatch("input", fmt.Sprintf("series %d has %d timesteps, want %d", i, len(x[i]), T))
		}
		for t := range x[i] {
			if len(x[i][t]) != width {
				return 0, 0, shapeMismatch("input", fmt.Sprintf("x[%d][%d] has %d features, want %d", i, t, len(x[i][t]), width))
			}
		}
	}
	return n, T, nil
}

func checkTargets(z [][]float64, n, T int) error {
	if len(z) != n {
		return shapeMismatch("target", fmt.Sprintf("%d target series for %d inputs", len(z), n))
	}
	for i := range z {
		if len(z[i]) != T {
			return shapeMismatch("target", fmt.Sprintf("target series %d has %d timesteps, want %d", i, len(z[i]), T))
		}
	}
	return nil
}

// checkScales accepts one scale per series or one per timestep
func checkScales(scale [][]float64, n, T int) error {
	if len(scale) != n {
		return shapeMismatch("scale", fmt.Sprintf("%d scale series for %d inputs", len(scale), n))
	}
	for i, v := range scale {
		if len(v) != 1 && len(v) != T {
			return shapeMismatch("scale", fmt.Sprintf("scale series %d has %d values, want 1 or %d", i, len(v), T))
		}
		for _, s := range v {
			if err := validateScale(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func scaleAt(v []float64, t int) float64 {
	if len(v) == 1 {
		return v[0]
	}
	return v[t]
}

func newGrid(n, T int) [][]float64 {
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, T)
	}
	return g
}
