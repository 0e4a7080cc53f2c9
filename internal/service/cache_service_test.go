package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

// flakyCacheRepo fails the first failBumps generation bumps.
type flakyCacheRepo struct {
	*memoryCacheRepo
	failBumps int32
	attempts  int32
}

func (f *flakyCacheRepo) Bump(ctx context.Context, key string) (int64, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.failBumps {
		return 0, errors.New("redis unavailable")
	}
	return f.memoryCacheRepo.Bump(ctx, key)
}

func TestCacheServiceSectionRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)

	_, generation, ok := cache.GetSection(context.Background(), "3A")
	assert.False(t, ok)
	assert.Zero(t, generation)

	cache.SetSection(context.Background(), "3A", generation, []models.TimetableEntry{entry("3A", models.Monday, 1, "Math", "Dr. X")})
	entries, _, ok := cache.GetSection(context.Background(), "3A")
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "Dr. X", entries[0].Faculty)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRatio))

	require.NoError(t, cache.InvalidateSection(context.Background(), "3A"))
	_, generation, ok = cache.GetSection(context.Background(), "3A")
	assert.False(t, ok)
	assert.Equal(t, int64(1), generation)
	assert.Empty(t, repo.data)
}

func TestCacheServiceDropsFillFromOldGeneration(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)

	_, observed, ok := cache.GetSection(context.Background(), "3A")
	require.False(t, ok)
	require.NoError(t, cache.InvalidateSection(context.Background(), "3A"))

	cache.SetSection(context.Background(), "3A", observed, []models.TimetableEntry{entry("3A", models.Monday, 1, "Math", "Dr. X")})
	_, current, ok := cache.GetSection(context.Background(), "3A")
	assert.False(t, ok)
	assert.Equal(t, observed+1, current)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, false)

	cache.SetSection(context.Background(), "3A", 0, []models.TimetableEntry{entry("3A", models.Monday, 1, "Math", "Dr. X")})
	assert.Empty(t, repo.data)
	_, _, ok := cache.GetSection(context.Background(), "3A")
	assert.False(t, ok)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.NoError(t, nilCache.InvalidateSection(context.Background(), "3A"))
}

func TestCacheInvalidatorRetriesFailedDeletes(t *testing.T) {
	repo := &flakyCacheRepo{memoryCacheRepo: newMemoryCacheRepo(), failBumps: 2}
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	cache.SetSection(context.Background(), "3A", 0, []models.TimetableEntry{entry("3A", models.Monday, 1, "Math", "Dr. X")})

	invalidator := NewCacheInvalidator(cache, jobs.QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	invalidator.Start(ctx)
	defer invalidator.Stop()

	invalidator.Invalidate(context.Background(), "3A")

	assert.Eventually(t, func() bool {
		_, _, ok := cache.GetSection(context.Background(), "3A")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.attempts))
}

func TestCacheInvalidatorNoopWhenCacheDisabled(t *testing.T) {
	repo := &flakyCacheRepo{memoryCacheRepo: newMemoryCacheRepo()}
	invalidator := NewCacheInvalidator(NewCacheService(repo, nil, 0, nil, false), jobs.QueueConfig{})
	invalidator.Start(context.Background())
	invalidator.Invalidate(context.Background(), "3A")
	invalidator.Stop()
	assert.Zero(t, atomic.LoadInt32(&repo.attempts))
}
