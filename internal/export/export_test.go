package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSubmission(t *testing.T) {
	z := [][]float64{
		{0.2, 1.9, 3},
		{4.5, 5, 6.99},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSubmission(&buf, z))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 7) // 1 header + 6 data rows

	assert.Equal(t, []string{"id", "sales"}, records[0])
	want := [][]string{
		{"0", "0"}, {"1", "1"}, {"2", "3"},
		{"3", "4"}, {"4", "5"}, {"5", "6"},
	}
	assert.Equal(t, want, records[1:])
}

func TestSubmissionExporterRounds(t *testing.T) {
	exporter, err := NewExporter(FormatCSV)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = exporter.Export(context.Background(), &buf, [][]float64{{1.6, 2.4}}, ExportOptions{Round: true})
	require.NoError(t, err)
	assert.Equal(t, "id,sales\n0,2\n1,2\n", buf.String())
}

func TestSubmissionExporterRejectsNonFinite(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSubmission(&buf, [][]float64{{math.NaN()}})
	assert.Error(t, err)
}

func TestExportersWriteNothingOnNonFinite(t *testing.T) {
	z := [][]float64{{1, 2}, {3, 4}, {5, math.Inf(-1)}}
	for _, format := range []ExportFormat{FormatCSV, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			exporter, err := NewExporter(format)
			require.NoError(t, err)

			var buf bytes.Buffer
			err = exporter.Export(context.Background(), &buf, z, ExportOptions{Round: true})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "series 2")
			assert.Zero(t, buf.Len())
		})
	}
}

func TestSubmissionExporterHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := (&SubmissionExporter{}).Export(ctx, &buf, [][]float64{{1}}, ExportOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONExporter(t *testing.T) {
	exporter, err := NewExporter(FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "json", exporter.Name())

	var buf bytes.Buffer
	err = exporter.Export(context.Background(), &buf, [][]float64{{1.25, 2}, {3, 4.75}}, ExportOptions{Round: true, Pretty: true})
	require.NoError(t, err)

	var decoded struct {
		Forecast []JSONSeries `json:"forecast"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Forecast, 2)
	assert.Equal(t, 1, decoded.Forecast[1].Series)
	assert.Equal(t, []float64{3, 5}, decoded.Forecast[1].Values)
}

func TestNewExporterUnknownFormat(t *testing.T) {
	_, err := NewExporter("parquet")
	assert.Error(t, err)
}
