package models

import "strings"

// ExportFormat enumerates supported timetable export formats.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatICS  ExportFormat = "ics"
)

// ParseExportFormat normalises a format query value. An empty value means CSV.
func ParseExportFormat(raw string) (ExportFormat, bool) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case "":
		return ExportFormatCSV, true
	case ExportFormatCSV, ExportFormatPDF, ExportFormatXLSX, ExportFormatICS:
		return f, true
	}
	return "", false
}

// ContentType returns the MIME type served for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatPDF:
		return "application/pdf"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatICS:
		return "text/calendar; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

// ExportFile is a rendered export ready to be served as an attachment.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
