package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const defaultSheetName = "Timetable"

// XLSXExporter renders datasets into a single-sheet workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes the title on the first row (merged across all columns), the
// headers on the next one and the rows below.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("xlsx"); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := defaultSheetName
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	lastCol := columnName(len(data.Headers))
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	row := 1
	if data.Title != "" {
		if err := f.SetCellValue(sheet, "A1", data.Title); err != nil {
			return nil, err
		}
		if len(data.Headers) > 1 {
			if err := f.MergeCell(sheet, "A1", lastCol+"1"); err != nil {
				return nil, fmt.Errorf("merge title: %w", err)
			}
		}
		if err := f.SetCellStyle(sheet, "A1", "A1", headerStyle); err != nil {
			return nil, err
		}
		row++
	}

	for i, header := range data.Headers {
		if err := f.SetCellValue(sheet, cellName(i+1, row), header); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheet, cellName(1, row), cellName(len(data.Headers), row), headerStyle); err != nil {
		return nil, err
	}
	row++

	for _, record := range data.Rows {
		for i, value := range record {
			if err := f.SetCellValue(sheet, cellName(i+1, row), value); err != nil {
				return nil, err
			}
		}
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func columnName(col int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return name
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
