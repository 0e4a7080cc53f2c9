package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

// QueryConfig tunes the query engine.
type QueryConfig struct {
	DailyCap     int
	ScanPageSize int
	Location     *time.Location
	Now          func() time.Time
}

// TimetableQueryService serves derived read views of the timetable.
type TimetableQueryService struct {
	store   TimetableStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     QueryConfig
}

// NewTimetableQueryService constructs the query engine.
func NewTimetableQueryService(store TimetableStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg QueryConfig) *TimetableQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = 5
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TimetableQueryService{store: store, cache: cache, metrics: metrics, logger: logger, cfg: cfg}
}

// sectionEntries loads a section's partition, preferring the read cache.
// The boolean reports whether the cache answered.
func (s *TimetableQueryService) sectionEntries(ctx context.Context, section string) ([]models.TimetableEntry, bool, error) {
	entries, generation, ok := s.cache.GetSection(ctx, section)
	if ok {
		return entries, true, nil
	}
	entries, err := s.store.QueryPartition(ctx, section, "")
	if err != nil {
		s.logger.Error("failed to query section", zap.String("section", section), zap.Error(err))
		return nil, false, appErrors.Store(err, "failed to load timetable")
	}
	s.cache.SetSection(ctx, section, generation, entries)
	return entries, false, nil
}

// Weekly returns a section's non-empty days in Monday..Sunday order with
// entries ascending by slot.
func (s *TimetableQueryService) Weekly(ctx context.Context, section string) (models.WeekSchedule, bool, error) {
	section = normalizeSection(section)
	if section == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "year_section is required")
	}
	entries, cached, err := s.sectionEntries(ctx, section)
	if err != nil {
		return nil, false, err
	}

	byDay := make(map[models.Day][]models.TimetableEntry)
	for _, e := range entries {
		byDay[e.Day] = append(byDay[e.Day], e)
	}
	week := make(models.WeekSchedule, 0, len(byDay))
	for _, day := range models.Days {
		dayEntries := byDay[day]
		if len(dayEntries) == 0 {
			continue
		}
		sortBySlot(dayEntries)
		week = append(week, models.DaySchedule{Day: day, Entries: dayEntries})
	}
	return week, cached, nil
}

// Daily returns a section's entries for one day ascending by slot.
func (s *TimetableQueryService) Daily(ctx context.Context, section, rawDay string) ([]models.TimetableEntry, bool, error) {
	section = normalizeSection(section)
	day, ok := models.ParseDay(rawDay)
	if section == "" || !ok {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "a year_section and a day between MONDAY and SUNDAY are required")
	}
	entries, cached, err := s.sectionEntries(ctx, section)
	if err != nil {
		return nil, false, err
	}
	out := make([]models.TimetableEntry, 0)
	for _, e := range entries {
		if e.Day == day {
			out = append(out, e)
		}
	}
	sortBySlot(out)
	return out, cached, nil
}

// ByFaculty returns every entry taught by faculty ordered by section, day and slot.
func (s *TimetableQueryService) ByFaculty(ctx context.Context, faculty string) ([]models.TimetableEntry, error) {
	faculty = strings.TrimSpace(faculty)
	if faculty == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "faculty is required")
	}
	entries, err := scanAll(ctx, s.store, s.metrics, "faculty_roster", models.TimetableScanFilter{Faculty: faculty}, s.cfg.ScanPageSize)
	if err != nil {
		s.logger.Error("failed to scan faculty roster", zap.String("faculty", faculty), zap.Error(err))
		return nil, appErrors.Store(err, "failed to load faculty timetable")
	}
	if entries == nil {
		entries = make([]models.TimetableEntry, 0)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		if a.Day != b.Day {
			return a.Day.Index() < b.Day.Index()
		}
		return a.Slot < b.Slot
	})
	return entries, nil
}

// DailyLoad counts faculty's assignments on day against the daily cap.
func (s *TimetableQueryService) DailyLoad(ctx context.Context, faculty, rawDay string) (*models.FacultyLoad, error) {
	faculty = strings.TrimSpace(faculty)
	day, ok := models.ParseDay(rawDay)
	if faculty == "" || !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "faculty and a day between MONDAY and SUNDAY are required")
	}
	entries, err := scanAll(ctx, s.store, s.metrics, "faculty_load", models.TimetableScanFilter{
		Faculty:       faculty,
		SortKeyPrefix: models.DayPrefix(day),
	}, s.cfg.ScanPageSize)
	if err != nil {
		s.logger.Error("failed to scan faculty load", zap.String("faculty", faculty), zap.Error(err))
		return nil, appErrors.Store(err, "failed to load faculty workload")
	}
	remaining := s.cfg.DailyCap - len(entries)
	if remaining < 0 {
		remaining = 0
	}
	return &models.FacultyLoad{
		Faculty:   faculty,
		Day:       day,
		Assigned:  len(entries),
		Remaining: remaining,
		Cap:       s.cfg.DailyCap,
	}, nil
}

// NextClass finds the nearest upcoming occurrence of subject for section. It
// returns nil when the section has no entries or none match the subject.
func (s *TimetableQueryService) NextClass(ctx context.Context, section, subject string) (*models.NextClass, error) {
	section = normalizeSection(section)
	subject = strings.TrimSpace(subject)
	if section == "" || subject == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year_section and subject are required")
	}
	entries, _, err := s.sectionEntries(ctx, section)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().In(s.cfg.Location)
	today := models.DayFromWeekday(now.Weekday()).Index()
	current := today*minutesPerDay + now.Hour()*60 + now.Minute()

	var (
		best, earliest           *models.TimetableEntry
		bestDelta, earliestStart int
	)
	for i := range entries {
		e := entries[i]
		if !strings.EqualFold(e.Subject, subject) {
			continue
		}
		offset, ok := weekOffset(e.Day, e.Slot)
		if !ok {
			continue
		}
		if delta := offset - current; delta >= 0 && (best == nil || delta < bestDelta) {
			best, bestDelta = &e, delta
		}
		if earliest == nil || offset < earliestStart {
			earliest, earliestStart = &e, offset
		}
	}
	if earliest == nil {
		return nil, nil
	}

	result := &models.NextClass{}
	if best != nil {
		result.Entry = *best
		result.MinutesUntil = bestDelta
	} else {
		result.Entry = *earliest
		result.IsNextWeek = true
		result.MinutesUntil = minutesPerWeek - current + earliestStart
	}
	result.StartTime = SlotStartClock(result.Entry.Slot)
	days := result.Entry.Day.Index() - today
	if result.IsNextWeek {
		days += 7
	}
	start, _ := SlotStart(result.Entry.Slot)
	result.StartsAt = time.Date(now.Year(), now.Month(), now.Day()+days, start/60, start%60, 0, 0, s.cfg.Location)
	return result, nil
}

func normalizeSection(section string) string {
	return strings.ToUpper(strings.TrimSpace(section))
}

func sortBySlot(entries []models.TimetableEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
}
