package export

import (
	"context"
	"encoding/json"
	"io"
	"math"
)

// JSONExporter writes the forecast as a list of series objects
type JSONExporter struct{}

// JSONSeries is one forecast series in JSON output
type JSONSeries struct {
	Series int       `json:"series"`
	Values []float64 `json:"values"`
}

// Name returns the exporter name
func (je *JSONExporter) Name() string {
	return "json"
}

// Format returns FormatJSON
func (je *JSONExporter) Format() ExportFormat {
	return FormatJSON
}

// Export encodes z as {"forecast": [{"series": i, "values": [...]}, ...]}
func (je *JSONExporter) Export(ctx context.Context, writer io.Writer, z [][]float64, options ExportOptions) error {
	if err := checkFinite(z); err != nil {
		return err
	}
	encoder := json.NewEncoder(writer)
	if options.Pretty {
		encoder.SetIndent("", "  ")
	}

	out := make([]JSONSeries, len(z))
	for i := range z {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		values := make([]float64, len(z[i]))
		for t, v := range z[i] {
			if options.Round {
				v = math.Round(v)
			}
			values[t] = v
		}
		out[i] = JSONSeries{Series: i, Values: values}
	}

	return encoder.Encode(map[string]interface{}{"forecast": out})
}
