package forecast

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestCheckpointRoundTrip(t *testing.T) {
	for _, dist := range []string{"negbin", "gaussian"} {
		t.Run(dist, func(t *testing.T) {
			model := newTestModel(t, dist)

			// move away from the seeded initialization
			x, z, v := makeBatch(3, 6, 4)
			_, grads, err := model.LossAndGradients(x, z, v)
			require.NoError(t, err)
			NewAdamOptimizer(0.01).UpdateWeights(model.Parameters(), grads)

			var buf bytes.Buffer
			require.NoError(t, Save(&buf, model))

			loaded, err := Load(&buf, nil)
			require.NoError(t, err)
			assert.Equal(t, model.Config(), loaded.Config())
			assert.Equal(t, dist, loaded.Distribution().Name())

			for i, p := range model.Parameters() {
				assert.Equal(t, p.RawMatrix().Data, loaded.Parameters()[i].RawMatrix().Data)
			}

			m1, a1, err := model.Forward(x, v)
			require.NoError(t, err)
			m2, a2, err := loaded.Forward(x, v)
			require.NoError(t, err)
			assert.Equal(t, m1, m2)
			assert.Equal(t, a1, a2)
		})
	}
}

func TestLoadRejectsCorruptCheckpoint(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not gzip")), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeCheckpointDecodeFailed))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"version": 99, "config": {}}`))
	require.NoError(t, gz.Close())
	_, err = Load(&buf, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeCheckpointDecodeFailed))
}

func TestLoadRejectsMismatchedParameters(t *testing.T) {
	model := newTestModel(t, "negbin")
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, model))

	// re-encode with one parameter dropped
	loaded, err := Load(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	file := checkpointFile{Version: checkpointVersion, Config: loaded.config}
	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	require.NoError(t, json.NewEncoder(gz).Encode(&file))
	require.NoError(t, gz.Close())

	_, err = Load(&out, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeCheckpointDecodeFailed))
}
