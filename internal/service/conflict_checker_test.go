package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func TestConflictCheckerFreeSlot(t *testing.T) {
	store := newFakeStore(
		entry("3A", models.Monday, 2, "Math", "Dr. X"),
		entry("3B", models.Tuesday, 1, "Math", "Dr. X"),
	)
	checker := NewConflictChecker(store, nil, nil, 10)

	conflict, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	require.NoError(t, err)
	assert.Nil(t, conflict)
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, 1, store.scans)
}

func TestConflictCheckerSectionBeforeFaculty(t *testing.T) {
	store := newFakeStore(
		entry("3A", models.Monday, 1, "Physics", "Dr. Y"),
		entry("3B", models.Monday, 1, "Math", "Dr. X"),
	)
	metrics := NewMetricsService()
	checker := NewConflictChecker(store, metrics, nil, 10)

	conflict, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictSection, conflict.Kind)
	assert.Equal(t, "Physics", conflict.With.Subject)
	assert.Equal(t, "Slot already exists for 3A on MONDAY at slot 1", conflict.Message)
	assert.Zero(t, store.scans)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.conflictsTotal.WithLabelValues("SECTION", "false")))
}

func TestConflictCheckerFacultyAcrossPages(t *testing.T) {
	store := newFakeStore(
		entry("1A", models.Monday, 1, "Math", "Dr. Y"),
		entry("2A", models.Monday, 1, "Math", "Dr. Z"),
		entry("2B", models.Monday, 2, "Math", "Dr. X"),
		entry("4A", models.Monday, 1, "Math", "Dr. X"),
	)
	store.pageSize = 1
	metrics := NewMetricsService()
	checker := NewConflictChecker(store, metrics, nil, 1)

	conflict, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictFaculty, conflict.Kind)
	assert.Equal(t, "4A", conflict.With.Section)
	assert.Equal(t, "Faculty Dr. X is already assigned to section 4A on MONDAY at slot 1", conflict.Message)
	assert.Equal(t, 4, store.scans)
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.scanPagesTotal.WithLabelValues("faculty_conflict")))
}

func TestConflictCheckerFacultyMatchIsExact(t *testing.T) {
	store := newFakeStore(entry("3B", models.Monday, 1, "Math", "dr. x"))
	checker := NewConflictChecker(store, nil, nil, 10)

	conflict, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestConflictCheckerExcludeSelf(t *testing.T) {
	self := entry("3A", models.Monday, 1, "Math", "Dr. X")
	store := newFakeStore(self)
	checker := NewConflictChecker(store, nil, nil, 10)

	conflict, err := checker.Check(context.Background(), self, CheckOptions{ExcludeSelf: true})
	require.NoError(t, err)
	assert.Nil(t, conflict)

	conflict, err = checker.Check(context.Background(), self, CheckOptions{SkipSection: true})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictFaculty, conflict.Kind)
}

func TestConflictCheckerBatchWorkingSet(t *testing.T) {
	store := newFakeStore()
	checker := NewConflictChecker(store, nil, nil, 10)
	working := NewBatchWorkingSet()
	working.Add(entry("3A", models.Monday, 1, "Math", "Dr. X"))

	conflict, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Art", "Dr. Z"), CheckOptions{Batch: working})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictSection, conflict.Kind)
	assert.True(t, conflict.SameBatch)

	conflict, err = checker.Check(context.Background(), entry("3B", models.Monday, 1, "Art", "Dr. X"), CheckOptions{Batch: working})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictFaculty, conflict.Kind)
	assert.True(t, conflict.SameBatch)

	conflict, err = checker.Check(context.Background(), entry("3A", models.Monday, 1, "Physics", "Dr. X"), CheckOptions{Batch: working})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictFaculty, conflict.Kind)
	assert.True(t, conflict.SameBatch)
	assert.Equal(t, "Math", conflict.With.Subject)
	assert.Zero(t, store.gets+store.scans)
}

func TestConflictCheckerPropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("throttled")
	checker := NewConflictChecker(store, nil, nil, 10)

	_, err := checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	assert.EqualError(t, err, "throttled")

	store.getErr = nil
	store.scanErr = errors.New("timeout")
	_, err = checker.Check(context.Background(), entry("3A", models.Monday, 1, "Math", "Dr. X"), CheckOptions{})
	assert.EqualError(t, err, "timeout")
}
