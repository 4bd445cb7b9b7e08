package export

import (
	"context"
	"fmt"
	"io"
	"math"
)

// ExportFormat defines supported forecast output formats
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions controls how a forecast tensor is written
type ExportOptions struct {
	// Round rounds every value to the nearest integer before the exporter
	// applies its own conversion.
	Round bool `json:"round"`

	// Pretty indents JSON output
	Pretty bool `json:"pretty"`
}

// Exporter writes an (N, T) forecast to a writer
type Exporter interface {
	Name() string
	Format() ExportFormat
	Export(ctx context.Context, writer io.Writer, z [][]float64, options ExportOptions) error
}

// NewExporter returns the exporter registered for format
func NewExporter(format ExportFormat) (Exporter, error) {
	switch format {
	case FormatCSV:
		return &SubmissionExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// checkFinite rejects z before an exporter writes anything, so a failed
// export never leaves a partial file behind.
func checkFinite(z [][]float64) error {
	for i, row := range z {
		for t, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("series %d contains a non-finite value at step %d", i, t)
			}
		}
	}
	return nil
}
