package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// SubmissionExporter writes the id,sales submission CSV
type SubmissionExporter struct{}

// Name returns the exporter name
func (se *SubmissionExporter) Name() string {
	return "submission"
}

// Format returns FormatCSV
func (se *SubmissionExporter) Format() ExportFormat {
	return FormatCSV
}

// Export writes one row per (series, timestep) in series-major order. ids
// count up from zero and sales is the value truncated toward zero.
func (se *SubmissionExporter) Export(ctx context.Context, writer io.Writer, z [][]float64, options ExportOptions) error {
	if err := checkFinite(z); err != nil {
		return err
	}
	csvWriter := csv.NewWriter(writer)

	if err := csvWriter.Write([]string{"id", "sales"}); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	id := 0
	for i := range z {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, v := range z[i] {
			if options.Round {
				v = math.Round(v)
			}
			row := []string{strconv.Itoa(id), strconv.FormatInt(int64(v), 10)}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
			id++
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteSubmission writes z as a submission CSV without rounding
func WriteSubmission(w io.Writer, z [][]float64) error {
	return (&SubmissionExporter{}).Export(context.Background(), w, z, ExportOptions{})
}
