package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/inferloop/tsforecast/pkg/errors"
)

// Dataset is an in-memory training set of N aligned series windows
type Dataset struct {
	// X is (N, T, F): lag features, covariates, shop, item
	X [][][]float64
	// Z is the target, (N, T)
	Z [][]float64
	// V is the scale, one value per series or one per timestep
	V [][]float64
}

// Batch is a minibatch view into a Dataset. The rows alias the dataset.
type Batch struct {
	Indices []int
	X       [][][]float64
	Z       [][]float64
	V       [][]float64
}

// New validates and wraps the training tensors
func New(x [][][]float64, z, v [][]float64) (*Dataset, error) {
	d := &Dataset{X: x, Z: z, V: v}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Len returns the number of series
func (d *Dataset) Len() int {
	return len(d.X)
}

// FeatureSize returns F, or 0 for an empty dataset
func (d *Dataset) FeatureSize() int {
	if len(d.X) == 0 || len(d.X[0]) == 0 {
		return 0
	}
	return len(d.X[0][0])
}

// Validate checks that X, Z and V agree in shape
func (d *Dataset) Validate() error {
	if len(d.X) == 0 {
		return errors.NewValidationError(errors.CodeEmptyDataset, "dataset has no series")
	}
	if len(d.Z) != len(d.X) || len(d.V) != len(d.X) {
		return shapeMismatch(fmt.Sprintf("x has %d series, z %d, v %d", len(d.X), len(d.Z), len(d.V)))
	}
	T := len(d.X[0])
	F := d.FeatureSize()
	for i := range d.X {
		if len(d.X[i]) != T || len(d.Z[i]) != T {
			return shapeMismatch(fmt.Sprintf("series %d: x has %d steps, z %d, want %d", i, len(d.X[i]), len(d.Z[i]), T))
		}
		if len(d.V[i]) != 1 && len(d.V[i]) != T {
			return shapeMismatch(fmt.Sprintf("series %d: v has %d values, want 1 or %d", i, len(d.V[i]), T))
		}
		for t := range d.X[i] {
			if len(d.X[i][t]) != F {
				return shapeMismatch(fmt.Sprintf("x[%d][%d] has %d features, want %d", i, t, len(d.X[i][t]), F))
			}
		}
	}
	return nil
}

// Batch gathers the series at indices
func (d *Dataset) Batch(indices []int) (*Batch, error) {
	b := &Batch{
		Indices: indices,
		X:       make([][][]float64, len(indices)),
		Z:       make([][]float64, len(indices)),
		V:       make([][]float64, len(indices)),
	}
	for k, i := range indices {
		if i < 0 || i >= d.Len() {
			return nil, errors.NewValidationError(errors.CodeIndexOutOfRange,
				fmt.Sprintf("batch index %d outside [0, %d)", i, d.Len()))
		}
		b.X[k], b.Z[k], b.V[k] = d.X[i], d.Z[i], d.V[i]
	}
	return b, nil
}

// Batches partitions a permutation of [0, Len) into minibatches. The last
// batch may be short. A nil rng keeps the natural order.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) [][]int {
	if batchSize <= 0 {
		batchSize = d.Len()
	}
	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var batches [][]int
	for start := 0; start < len(order); start += batchSize {
		end := min(start+batchSize, len(order))
		batches = append(batches, order[start:end])
	}
	return batches
}

func shapeMismatch(details string) error {
	return errors.NewValidationError(errors.CodeShapeMismatch, "dataset shape mismatch").
		WithDetails(details).
		WithCause(errors.ErrShapeMismatch)
}
