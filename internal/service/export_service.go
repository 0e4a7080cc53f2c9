package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/export"
)

type timetableReader interface {
	Weekly(ctx context.Context, section string) (models.WeekSchedule, bool, error)
	ByFaculty(ctx context.Context, faculty string) ([]models.TimetableEntry, error)
}

type tableRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type calendarRenderer interface {
	Render(name, timezone string, events []export.CalendarEvent) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Location *time.Location
	Now      func() time.Time
}

// ExportService renders timetable views into downloadable files.
type ExportService struct {
	reader   timetableReader
	csv      tableRenderer
	pdf      tableRenderer
	xlsx     tableRenderer
	calendar calendarRenderer
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService with the default renderers.
func NewExportService(reader timetableReader, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExportService{
		reader:   reader,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		xlsx:     export.NewXLSXExporter(),
		calendar: export.NewICSExporter(""),
		logger:   logger,
		cfg:      cfg,
	}
}

var timetableHeaders = []string{"Section", "Day", "Slot", "Start", "End", "Subject", "Faculty", "Room", "Type"}

// WeeklyTimetable exports a section's week.
func (s *ExportService) WeeklyTimetable(ctx context.Context, section string, format models.ExportFormat) (*models.ExportFile, error) {
	week, _, err := s.reader.Weekly(ctx, section)
	if err != nil {
		return nil, err
	}
	section = normalizeSection(section)
	name := "timetable_" + sanitizeFilename(section)

	if format == models.ExportFormatICS {
		return s.renderCalendar(section, name, week)
	}

	var entries []models.TimetableEntry
	for _, day := range week {
		entries = append(entries, day.Entries...)
	}
	return s.renderTable(format, name, export.Dataset{
		Title:   fmt.Sprintf("Weekly timetable %s", section),
		Headers: timetableHeaders,
		Rows:    entryRows(entries),
	})
}

// FacultyRoster exports every assignment of a faculty member. Calendar
// output is not offered for rosters.
func (s *ExportService) FacultyRoster(ctx context.Context, faculty string, format models.ExportFormat) (*models.ExportFile, error) {
	if format == models.ExportFormatICS {
		return nil, appErrors.Clone(appErrors.ErrValidation, "faculty rosters can be exported as csv, pdf or xlsx")
	}
	entries, err := s.reader.ByFaculty(ctx, faculty)
	if err != nil {
		return nil, err
	}
	faculty = strings.TrimSpace(faculty)
	return s.renderTable(format, "roster_"+sanitizeFilename(faculty), export.Dataset{
		Title:   fmt.Sprintf("Teaching roster %s", faculty),
		Headers: timetableHeaders,
		Rows:    entryRows(entries),
	})
}

func (s *ExportService) renderTable(format models.ExportFormat, name string, data export.Dataset) (*models.ExportFile, error) {
	var renderer tableRenderer
	switch format {
	case models.ExportFormatCSV:
		renderer = s.csv
	case models.ExportFormatPDF:
		renderer = s.pdf
	case models.ExportFormatXLSX:
		renderer = s.xlsx
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	payload, err := renderer.Render(data)
	if err != nil {
		s.logger.Error("failed to render export", zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &models.ExportFile{
		Filename:    fmt.Sprintf("%s.%s", name, format),
		ContentType: format.ContentType(),
		Data:        payload,
	}, nil
}

// renderCalendar emits one weekly recurring event per entry, anchored on the
// entry's weekday in the current week.
func (s *ExportService) renderCalendar(section, name string, week models.WeekSchedule) (*models.ExportFile, error) {
	now := s.cfg.Now().In(s.cfg.Location)
	monday := time.Date(now.Year(), now.Month(), now.Day()-models.DayFromWeekday(now.Weekday()).Index(), 0, 0, 0, 0, s.cfg.Location)

	events := make([]export.CalendarEvent, 0)
	for _, day := range week {
		for _, e := range day.Entries {
			startMin, ok := SlotStart(e.Slot)
			if !ok {
				continue
			}
			start := time.Date(monday.Year(), monday.Month(), monday.Day()+e.Day.Index(), startMin/60, startMin%60, 0, 0, s.cfg.Location)
			events = append(events, export.CalendarEvent{
				UID:         fmt.Sprintf("%s-%s-%d@timetable-api", e.Section, e.Day, e.Slot),
				Summary:     e.Subject,
				Location:    e.Room,
				Description: fmt.Sprintf("%s with %s (%s)", e.Subject, e.Faculty, e.Type),
				Start:       start,
				End:         start.Add(slotLength * time.Minute),
				Weekly:      true,
			})
		}
	}

	payload, err := s.calendar.Render("Timetable "+section, s.cfg.Location.String(), events)
	if err != nil {
		s.logger.Error("failed to render calendar", zap.String("section", section), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render calendar")
	}
	return &models.ExportFile{
		Filename:    name + ".ics",
		ContentType: models.ExportFormatICS.ContentType(),
		Data:        payload,
	}, nil
}

func entryRows(entries []models.TimetableEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Section,
			string(e.Day),
			strconv.Itoa(e.Slot),
			SlotStartClock(e.Slot),
			SlotEndClock(e.Slot),
			e.Subject,
			e.Faculty,
			e.Room,
			string(e.Type),
		})
	}
	return rows
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
