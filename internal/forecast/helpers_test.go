package forecast

import (
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testInputSize = 16 // 13 lag features, one covariate, shop, item

func newTestModel(t *testing.T, dist string) *Model {
	t.Helper()
	cfg := DefaultConfig(testInputSize)
	cfg.HiddenSize = 8
	cfg.NumLayers = 2
	cfg.Distribution = dist
	cfg.Seed = 7
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	m, err := NewModel(cfg, logger)
	require.NoError(t, err)
	return m
}

// makeBatch builds a valid (n, T, testInputSize) input with count targets
func makeBatch(n, T int, seed uint64) (x [][][]float64, z, v [][]float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x = make([][][]float64, n)
	z = make([][]float64, n)
	v = make([][]float64, n)
	for i := 0; i < n; i++ {
		shop := float64(rng.IntN(10))
		item := float64(rng.IntN(50))
		v[i] = []float64{1 + rng.Float64()*3}
		x[i] = make([][]float64, T)
		z[i] = make([]float64, T)
		for t := 0; t < T; t++ {
			row := make([]float64, testInputSize)
			for j := 0; j < testInputSize-2; j++ {
				row[j] = rng.Float64()
			}
			row[testInputSize-2] = shop
			row[testInputSize-1] = item
			x[i][t] = row
			z[i][t] = float64(rng.IntN(6))
		}
	}
	return x, z, v
}

// makeRollout builds a rollout input with a constant encode history
func makeRollout(n, tEnc, tDec int, level float64) *RolloutInput {
	in := &RolloutInput{
		EncX:  make([][][]float64, n),
		EncZ:  make([][]float64, n),
		DecX:  make([][][]float64, n),
		Scale: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		shop, item := float64(i%10), float64((3*i)%50)
		in.Scale[i] = []float64{1}
		in.EncX[i] = make([][]float64, tEnc)
		in.EncZ[i] = make([]float64, tEnc)
		for t := 0; t < tEnc; t++ {
			row := make([]float64, testInputSize)
			row[testInputSize-2], row[testInputSize-1] = shop, item
			in.EncX[i][t] = row
			in.EncZ[i][t] = level
		}
		in.DecX[i] = make([][]float64, tDec)
		for t := 0; t < tDec; t++ {
			row := make([]float64, testInputSize-13)
			row[len(row)-2], row[len(row)-1] = shop, item
			in.DecX[i][t] = row
		}
	}
	return in
}
