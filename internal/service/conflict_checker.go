package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
)

// CheckOptions tunes a conflict check.
type CheckOptions struct {
	// ExcludeSelf ignores entries stored under the candidate's own key. Used
	// when re-validating an entry that already exists.
	ExcludeSelf bool
	// SkipSection skips the section uniqueness check.
	SkipSection bool
	// Batch holds assignments committed earlier in the same batch.
	Batch *BatchWorkingSet
}

// BatchWorkingSet remembers the (faculty, day, slot) and (section, day, slot)
// tuples committed during one batch call.
type BatchWorkingSet struct {
	faculty map[string]models.TimetableEntry
	section map[string]models.TimetableEntry
}

// NewBatchWorkingSet returns an empty working set.
func NewBatchWorkingSet() *BatchWorkingSet {
	return &BatchWorkingSet{
		faculty: make(map[string]models.TimetableEntry),
		section: make(map[string]models.TimetableEntry),
	}
}

// Add records a committed entry.
func (w *BatchWorkingSet) Add(entry models.TimetableEntry) {
	w.faculty[facultyTuple(entry)] = entry
	w.section[entry.Key().String()] = entry
}

func facultyTuple(e models.TimetableEntry) string {
	return fmt.Sprintf("%s|%s", e.Faculty, e.SortKey())
}

// ConflictChecker enforces section and faculty uniqueness against the store.
// It never reads through a cache.
type ConflictChecker struct {
	store    TimetableStore
	metrics  *MetricsService
	logger   *zap.Logger
	pageSize int
}

// NewConflictChecker constructs a ConflictChecker.
func NewConflictChecker(store TimetableStore, metrics *MetricsService, logger *zap.Logger, pageSize int) *ConflictChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ConflictChecker{store: store, metrics: metrics, logger: logger, pageSize: pageSize}
}

// Check returns a *models.ConflictError when candidate collides with a stored
// entry or an earlier batch item, nil when it is free, or a store error.
func (c *ConflictChecker) Check(ctx context.Context, candidate models.TimetableEntry, opts CheckOptions) (*models.ConflictError, error) {
	if opts.Batch != nil {
		// A repeated (faculty, day, slot) is reported as a faculty conflict even
		// though, within one section's day, it also repeats the section key.
		if prior, ok := opts.Batch.faculty[facultyTuple(candidate)]; ok {
			return c.conflict(facultyConflict(candidate, prior, true)), nil
		}
		if !opts.SkipSection {
			if prior, ok := opts.Batch.section[candidate.Key().String()]; ok {
				return c.conflict(sectionConflict(candidate, prior, true)), nil
			}
		}
	}

	if !opts.SkipSection {
		existing, err := c.store.Get(ctx, candidate.Section, candidate.SortKey(), true)
		if err != nil {
			return nil, err
		}
		if existing != nil && !opts.ExcludeSelf {
			return c.conflict(sectionConflict(candidate, *existing, false)), nil
		}
	}

	holder, err := c.facultyHolder(ctx, candidate, opts.ExcludeSelf)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return c.conflict(facultyConflict(candidate, *holder, false)), nil
	}
	return nil, nil
}

// facultyHolder scans the table for an entry assigning the candidate's faculty
// to the same day and slot, stopping at the first match.
func (c *ConflictChecker) facultyHolder(ctx context.Context, candidate models.TimetableEntry, excludeSelf bool) (*models.TimetableEntry, error) {
	input := models.TimetableScanInput{
		Filter: models.TimetableScanFilter{
			Faculty: candidate.Faculty,
			Day:     candidate.Day,
			Slot:    candidate.Slot,
		},
		Consistent: true,
		Limit:      c.pageSize,
	}
	for {
		page, err := c.store.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		c.metrics.RecordScanPage("faculty_conflict")
		for _, item := range page.Items {
			if excludeSelf && item.Section == candidate.Section {
				continue
			}
			found := item
			return &found, nil
		}
		if page.NextCursor == "" {
			return nil, nil
		}
		input.Cursor = page.NextCursor
	}
}

func (c *ConflictChecker) conflict(err *models.ConflictError) *models.ConflictError {
	c.metrics.RecordConflict(string(err.Kind), err.SameBatch)
	c.logger.Debug("timetable conflict",
		zap.String("kind", string(err.Kind)),
		zap.Bool("same_batch", err.SameBatch),
		zap.String("with_section", err.With.Section),
		zap.String("with_sort_key", err.With.SortKey()),
	)
	return err
}

func sectionConflict(candidate, with models.TimetableEntry, sameBatch bool) *models.ConflictError {
	msg := fmt.Sprintf("Slot already exists for %s", candidate.Key())
	if sameBatch {
		msg = fmt.Sprintf("Slot %d appears more than once in this batch", candidate.Slot)
	}
	return &models.ConflictError{Kind: models.ConflictSection, Message: msg, With: with, SameBatch: sameBatch}
}

func facultyConflict(candidate, with models.TimetableEntry, sameBatch bool) *models.ConflictError {
	where := fmt.Sprintf("section %s", with.Section)
	if sameBatch {
		where = "an earlier item of this batch"
	}
	msg := fmt.Sprintf("Faculty %s is already assigned to %s on %s at slot %d",
		candidate.Faculty, where, candidate.Day, candidate.Slot)
	return &models.ConflictError{Kind: models.ConflictFaculty, Message: msg, With: with, SameBatch: sameBatch}
}
