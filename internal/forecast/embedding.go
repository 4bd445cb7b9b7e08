package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsforecast/pkg/errors"
)

// Embedding is a learned lookup table mapping a categorical index to a dense row
type Embedding struct {
	name  string
	table *mat.Dense
}

// NewEmbedding creates a size x dim table drawn from a standard normal
func NewEmbedding(name string, size, dim int, rng *rand.Rand) *Embedding {
	data := make([]float64, size*dim)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return &Embedding{name: name, table: mat.NewDense(size, dim, data)}
}

// Size returns the number of rows in the table
func (e *Embedding) Size() int {
	r, _ := e.table.Dims()
	return r
}

// Dim returns the embedding width
func (e *Embedding) Dim() int {
	_, c := e.table.Dims()
	return c
}

// Index converts a feature value into a table row, rejecting anything that is
// not an integral value inside the table bounds.
func (e *Embedding) Index(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || v < 0 || v >= float64(e.Size()) {
		return 0, errors.NewValidationError(errors.CodeIndexOutOfRange,
			fmt.Sprintf("%s index %v outside [0, %d)", e.name, v, e.Size())).
			WithCause(errors.ErrIndexOutOfRange).
			WithContext("table", e.name).
			WithContext("index", v)
	}
	return int(v), nil
}

// Lookup returns the embedding row for idx. The returned slice aliases the table.
func (e *Embedding) Lookup(idx float64) ([]float64, error) {
	i, err := e.Index(idx)
	if err != nil {
		return nil, err
	}
	return e.table.RawRowView(i), nil
}

// AccumulateGradient adds grad into row idx of the gradient table
func (e *Embedding) AccumulateGradient(dTable *mat.Dense, idx int, grad []float64) {
	row := dTable.RawRowView(idx)
	for j := range row {
		row[j] += grad[j]
	}
}
