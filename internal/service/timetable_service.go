package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type sectionInvalidator interface {
	Invalidate(ctx context.Context, section string)
}

// TimetableService assigns, updates and removes timetable slots while keeping
// section and faculty uniqueness.
type TimetableService struct {
	store       TimetableStore
	checker     *ConflictChecker
	validator   *validator.Validate
	metrics     *MetricsService
	invalidator sectionInvalidator
	logger      *zap.Logger
}

// NewTimetableService constructs the slot assignment engine.
func NewTimetableService(store TimetableStore, checker *ConflictChecker, validate *validator.Validate, metrics *MetricsService, invalidator sectionInvalidator, logger *zap.Logger) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &TimetableService{
		store:       store,
		checker:     checker,
		validator:   validate,
		metrics:     metrics,
		invalidator: invalidator,
		logger:      logger,
	}
}

// AddSingle commits one entry after validation and conflict checks.
func (s *TimetableService) AddSingle(ctx context.Context, entry models.TimetableEntry) (*models.TimetableEntry, error) {
	entry = entry.Normalize()
	if err := s.validator.Struct(entry); err != nil {
		return nil, validationError(err, "invalid timetable slot")
	}

	conflict, err := s.checker.Check(ctx, entry, CheckOptions{})
	if err != nil {
		return nil, s.storeError(err, "failed to check timetable conflicts", entry.Key())
	}
	if conflict != nil {
		return nil, conflictError(conflict)
	}

	conflict, err = s.create(ctx, entry)
	if err != nil {
		return nil, s.storeError(err, "failed to save timetable slot", entry.Key())
	}
	if conflict != nil {
		return nil, conflictError(conflict)
	}

	s.invalidate(ctx, entry.Section)
	s.logger.Info("timetable slot added",
		zap.String("section", entry.Section),
		zap.String("day", string(entry.Day)),
		zap.Int("slot", entry.Slot),
		zap.String("faculty", entry.Faculty),
	)
	return &entry, nil
}

// AddBatch commits the items of one section's day in input order. Each item is
// validated, checked and written before the next one; item failures are
// reported per item and never abort the batch.
func (s *TimetableService) AddBatch(ctx context.Context, req models.BatchSlotsRequest) (*models.BatchResult, error) {
	section := strings.ToUpper(strings.TrimSpace(req.Section))
	day, ok := models.ParseDay(string(req.Day))
	switch {
	case section == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "year_section is required")
	case !ok:
		return nil, appErrors.Clone(appErrors.ErrValidation, "day must be one of MONDAY..SUNDAY")
	case len(req.Slots) == 0:
		return nil, appErrors.Clone(appErrors.ErrValidation, "slots must contain at least one item")
	}

	result := &models.BatchResult{
		Section:   section,
		Day:       day,
		Committed: make([]models.TimetableEntry, 0, len(req.Slots)),
		Rejected:  make([]models.BatchRejection, 0),
	}
	working := NewBatchWorkingSet()

	for i, item := range req.Slots {
		entry := models.TimetableEntry{
			Section: section,
			Day:     day,
			Slot:    item.Slot,
			Subject: item.Subject,
			Faculty: item.Faculty,
			Room:    item.Room,
			Type:    item.Type,
		}.Normalize()
		rejection := models.BatchRejection{Index: i, Slot: entry.Slot, Item: entry}

		if err := s.validator.Struct(entry); err != nil {
			rejection.Code = appErrors.ErrValidation.Code
			rejection.Reason = describeValidation(err)
			s.reject(result, rejection)
			continue
		}

		conflict, err := s.checker.Check(ctx, entry, CheckOptions{Batch: working})
		if err == nil && conflict == nil {
			conflict, err = s.create(ctx, entry)
		}
		if err != nil {
			s.logger.Error("batch item store failure", zap.String("section", section), zap.Int("slot", entry.Slot), zap.Error(err))
			rejection.Code = appErrors.ErrStore.Code
			rejection.Reason = "failed to save timetable slot"
			s.reject(result, rejection)
			continue
		}
		if conflict != nil {
			rejection.Code = conflictError(conflict).Code
			rejection.Reason = conflict.Message
			rejection.Conflict = conflict
			s.reject(result, rejection)
			continue
		}

		working.Add(entry)
		result.Committed = append(result.Committed, entry)
		s.metrics.RecordBatchItem("committed")
	}

	if len(result.Committed) > 0 {
		s.invalidate(ctx, section)
	}
	s.logger.Info("timetable batch processed",
		zap.String("section", section),
		zap.String("day", string(day)),
		zap.Int("committed", len(result.Committed)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// Update changes subject, faculty, room or type of an existing entry. Faculty
// uniqueness is re-checked only when the faculty actually changes.
func (s *TimetableService) Update(ctx context.Context, key models.SlotKey, patch models.SlotPatch) (*models.TimetableEntry, error) {
	key = key.Normalize()
	if err := s.validator.Struct(key); err != nil {
		return nil, validationError(err, "invalid slot key")
	}
	patch, err := normalizePatch(patch)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, key.Section, key.SortKey(), true)
	if err != nil {
		return nil, s.storeError(err, "failed to load timetable slot", key)
	}
	if existing == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("No slot found for %s", key))
	}

	candidate := patch.Apply(*existing)
	if err := s.validator.Struct(candidate); err != nil {
		return nil, validationError(err, "invalid timetable slot")
	}

	if patch.Faculty != nil && *patch.Faculty != existing.Faculty {
		conflict, err := s.checker.Check(ctx, candidate, CheckOptions{SkipSection: true, ExcludeSelf: true})
		if err != nil {
			return nil, s.storeError(err, "failed to check timetable conflicts", key)
		}
		if conflict != nil {
			return nil, conflictError(conflict)
		}
	}

	updated, err := s.store.Update(ctx, key.Section, key.SortKey(), patch)
	if err != nil {
		if errors.Is(err, models.ErrSlotNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("No slot found for %s", key))
		}
		return nil, s.storeError(err, "failed to update timetable slot", key)
	}

	s.invalidate(ctx, key.Section)
	s.logger.Info("timetable slot updated", zap.String("slot_key", key.String()))
	return updated, nil
}

// Delete removes an existing entry. A missing entry is reported without mutating the store.
func (s *TimetableService) Delete(ctx context.Context, key models.SlotKey) error {
	key = key.Normalize()
	if err := s.validator.Struct(key); err != nil {
		return validationError(err, "invalid slot key")
	}

	existing, err := s.store.Get(ctx, key.Section, key.SortKey(), true)
	if err != nil {
		return s.storeError(err, "failed to load timetable slot", key)
	}
	if existing == nil {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("No slot found for %s", key))
	}

	if err := s.store.Delete(ctx, key.Section, key.SortKey()); err != nil {
		return s.storeError(err, "failed to delete timetable slot", key)
	}

	s.invalidate(ctx, key.Section)
	s.logger.Info("timetable slot deleted", zap.String("slot_key", key.String()))
	return nil
}

// create writes entry if its key is still free. Losing the race to a
// concurrent writer is reported as a section conflict against the winner.
func (s *TimetableService) create(ctx context.Context, entry models.TimetableEntry) (*models.ConflictError, error) {
	err := s.store.Create(ctx, entry)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, models.ErrSlotExists) {
		return nil, err
	}
	winner, getErr := s.store.Get(ctx, entry.Section, entry.SortKey(), true)
	if getErr != nil {
		return nil, getErr
	}
	with := entry
	if winner != nil {
		with = *winner
	}
	return s.checker.conflict(sectionConflict(entry, with, false)), nil
}

func (s *TimetableService) reject(result *models.BatchResult, rejection models.BatchRejection) {
	result.Rejected = append(result.Rejected, rejection)
	s.metrics.RecordBatchItem(rejection.Code)
}

func (s *TimetableService) invalidate(ctx context.Context, section string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, section)
	}
}

func (s *TimetableService) storeError(err error, msg string, key models.SlotKey) error {
	s.logger.Error(msg, zap.String("slot_key", key.String()), zap.Error(err))
	return appErrors.Store(err, msg)
}

func normalizePatch(patch models.SlotPatch) (models.SlotPatch, error) {
	if patch.IsEmpty() {
		return patch, appErrors.Clone(appErrors.ErrValidation, "at least one of subject, faculty, room or type is required")
	}
	trim := func(field string, v *string) (*string, error) {
		if v == nil {
			return nil, nil
		}
		trimmed := strings.TrimSpace(*v)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, field+" cannot be empty")
		}
		return &trimmed, nil
	}
	var err error
	if patch.Subject, err = trim("subject", patch.Subject); err != nil {
		return patch, err
	}
	if patch.Faculty, err = trim("faculty", patch.Faculty); err != nil {
		return patch, err
	}
	if patch.Room, err = trim("room", patch.Room); err != nil {
		return patch, err
	}
	if patch.Type != nil {
		t, ok := models.ParseSlotType(string(*patch.Type))
		if !ok {
			return patch, appErrors.Clone(appErrors.ErrValidation, `type must be either "THEORY" or "LAB"`)
		}
		patch.Type = &t
	}
	return patch, nil
}

// conflictError maps a conflict onto its API error, keeping the conflict
// reachable through errors.As.
func conflictError(conflict *models.ConflictError) *appErrors.Error {
	base := appErrors.ErrFacultyConflict
	if conflict.Kind == models.ConflictSection {
		base = appErrors.ErrSectionConflict
	}
	out := appErrors.WithDetails(appErrors.Clone(base, conflict.Message), conflict)
	out.Err = conflict
	return out
}

func validationError(err error, msg string) *appErrors.Error {
	out := appErrors.Validation(err, msg)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[strings.ToLower(fe.Field())] = ruleMessage(fe)
		}
		out.Details = details
	}
	return out
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+ruleMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		if fe.Field() == "Slot" {
			return "must be between 1 and 7"
		}
		return fmt.Sprintf("must respect %s=%s", fe.Tag(), fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
