package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

func newExportServiceForTest(store *fakeStore) *ExportService {
	query := NewTimetableQueryService(store, nil, nil, nil, QueryConfig{})
	wednesday := time.Date(2024, time.January, 3, 10, 0, 0, 0, time.UTC)
	return NewExportService(query, ExportConfig{Location: time.UTC, Now: fixedClock(wednesday)}, nil)
}

func TestExportWeeklyCSV(t *testing.T) {
	store := newFakeStore(
		entry("3A", models.Tuesday, 1, "Physics", "Dr. Y"),
		entry("3A", models.Monday, 2, "Math", "Dr. X"),
	)
	svc := newExportServiceForTest(store)

	file, err := svc.WeeklyTimetable(context.Background(), "3a", models.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "timetable_3A.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Section,Day,Slot,Start,End,Subject,Faculty,Room,Type", lines[0])
	assert.Equal(t, "3A,MONDAY,2,09:55,10:50,Math,Dr. X,R101,THEORY", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "3A,TUESDAY,1,09:00,09:55,Physics"))
}

func TestExportWeeklyPDFAndXLSX(t *testing.T) {
	svc := newExportServiceForTest(newFakeStore(entry("3A", models.Monday, 1, "Math", "Dr. X")))

	pdf, err := svc.WeeklyTimetable(context.Background(), "3A", models.ExportFormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Data, []byte("%PDF")))

	xlsx, err := svc.WeeklyTimetable(context.Background(), "3A", models.ExportFormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "timetable_3A.xlsx", xlsx.Filename)
	assert.True(t, bytes.HasPrefix(xlsx.Data, []byte("PK")))
}

func TestExportWeeklyICS(t *testing.T) {
	svc := newExportServiceForTest(newFakeStore(
		entry("3A", models.Monday, 1, "Math", "Dr. X"),
		entry("3A", models.Friday, 7, "Art", "Dr. Z"),
	))

	file, err := svc.WeeklyTimetable(context.Background(), "3A", models.ExportFormatICS)
	require.NoError(t, err)
	assert.Equal(t, "timetable_3A.ics", file.Filename)
	body := string(file.Data)
	assert.Contains(t, body, "DTSTART:20240101T090000Z")
	assert.Contains(t, body, "DTEND:20240105T163000Z")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
}

func TestExportWeeklyICSKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	query := NewTimetableQueryService(newFakeStore(
		entry("3A", models.Monday, 1, "Math", "Dr. X"),
		entry("3A", models.Sunday, 1, "Art", "Dr. Z"),
	), nil, nil, nil, QueryConfig{})
	// Clocks in New York spring forward on Sunday 10 March 2024.
	wednesday := time.Date(2024, time.March, 6, 10, 0, 0, 0, loc)
	svc := NewExportService(query, ExportConfig{Location: loc, Now: fixedClock(wednesday)}, nil)

	file, err := svc.WeeklyTimetable(context.Background(), "3A", models.ExportFormatICS)
	require.NoError(t, err)
	body := string(file.Data)
	assert.Contains(t, body, "DTSTART;TZID=America/New_York:20240304T090000")
	assert.Contains(t, body, "DTSTART;TZID=America/New_York:20240310T090000")
	assert.Contains(t, body, "DTEND;TZID=America/New_York:20240310T095500")
	assert.Contains(t, body, "X-WR-TIMEZONE:America/New_York")
}

func TestExportFacultyRoster(t *testing.T) {
	svc := newExportServiceForTest(newFakeStore(
		entry("3A", models.Monday, 1, "Math", "Dr. X"),
		entry("3B", models.Monday, 2, "Math", "Dr. X"),
		entry("3C", models.Monday, 3, "Art", "Dr. Z"),
	))

	file, err := svc.FacultyRoster(context.Background(), "Dr. X", models.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "roster_Dr._X.csv", file.Filename)
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(string(file.Data)), "\n")+1)

	_, err = svc.FacultyRoster(context.Background(), "Dr. X", models.ExportFormatICS)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestParseExportFormat(t *testing.T) {
	f, ok := models.ParseExportFormat("")
	assert.True(t, ok)
	assert.Equal(t, models.ExportFormatCSV, f)
	f, ok = models.ParseExportFormat(" XLSX ")
	assert.True(t, ok)
	assert.Equal(t, models.ExportFormatXLSX, f)
	_, ok = models.ParseExportFormat("docx")
	assert.False(t, ok)
}
