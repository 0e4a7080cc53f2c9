package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset defines tabular export content. Each row holds one value per header.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

func (d Dataset) validate(format string) error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", format)
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("%s row %d has %d values, want %d", format, i, len(row), len(d.Headers))
		}
	}
	return nil
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset. The title is not written.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("csv"); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	if err := writer.WriteAll(data.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}
