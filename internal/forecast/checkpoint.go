package forecast

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
)

// checkpointVersion is bumped whenever the parameter layout changes
const checkpointVersion = 1

type checkpointFile struct {
	Version    int            `json:"version"`
	Config     *Config        `json:"config"`
	Parameters []matrixRecord `json:"parameters"`
}

type matrixRecord struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Save writes the model as gzip-compressed JSON
func Save(w io.Writer, m *Model) error {
	file := checkpointFile{
		Version: checkpointVersion,
		Config:  m.config,
	}
	names := m.ParameterNames()
	for i, p := range m.Parameters() {
		r, c := p.Dims()
		data := make([]float64, 0, r*c)
		for row := 0; row < r; row++ {
			data = append(data, p.RawRowView(row)...)
		}
		file.Parameters = append(file.Parameters, matrixRecord{Name: names[i], Rows: r, Cols: c, Data: data})
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(&file); err != nil {
		gz.Close()
		return errors.WrapError(err, errors.ErrorTypeModel, errors.CodeCheckpointEncodeFailed, "failed to encode checkpoint")
	}
	if err := gz.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeModel, errors.CodeCheckpointEncodeFailed, "failed to flush checkpoint")
	}
	return nil
}

// Load restores a model written by Save. The parameters are bit-identical to
// the saved ones.
func Load(r io.Reader, logger *logrus.Logger) (*Model, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, decodeFailed(err, "not a gzip stream")
	}
	defer gz.Close()

	var file checkpointFile
	if err := json.NewDecoder(gz).Decode(&file); err != nil {
		return nil, decodeFailed(err, "invalid checkpoint payload")
	}
	if file.Version != checkpointVersion {
		return nil, decodeFailed(errors.ErrCheckpointDecode, fmt.Sprintf("unsupported checkpoint version %d", file.Version))
	}
	if file.Config == nil {
		return nil, decodeFailed(errors.ErrCheckpointDecode, "checkpoint has no config")
	}

	m, err := NewModel(file.Config, logger)
	if err != nil {
		return nil, decodeFailed(err, "checkpoint config is invalid")
	}

	params := m.Parameters()
	names := m.ParameterNames()
	if len(file.Parameters) != len(params) {
		return nil, decodeFailed(errors.ErrCheckpointDecode,
			fmt.Sprintf("checkpoint has %d parameters, model expects %d", len(file.Parameters), len(params)))
	}
	for i, rec := range file.Parameters {
		r, c := params[i].Dims()
		if rec.Name != names[i] || rec.Rows != r || rec.Cols != c || len(rec.Data) != r*c {
			return nil, decodeFailed(errors.ErrCheckpointDecode,
				fmt.Sprintf("parameter %d (%s %dx%d) does not match %s %dx%d", i, rec.Name, rec.Rows, rec.Cols, names[i], r, c))
		}
		for row := 0; row < r; row++ {
			copy(params[i].RawRowView(row), rec.Data[row*c:(row+1)*c])
		}
	}
	return m, nil
}

func decodeFailed(err error, details string) error {
	return errors.WrapError(err, errors.ErrorTypeModel, errors.CodeCheckpointDecodeFailed, "failed to decode checkpoint").
		WithDetails(details)
}
