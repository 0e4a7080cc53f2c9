package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

// CacheRepository abstracts persistence for cached payloads and the
// per-section generation counters that version them.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
}

// noGeneration marks a read whose generation could not be determined; such
// reads are never written back.
const noGeneration int64 = -1

// SectionCacheKey is the cache key of a section's partition at a generation.
func SectionCacheKey(section string, generation int64) string {
	return fmt.Sprintf("timetable:section:%s:v%d", section, generation)
}

func sectionGenerationKey(section string) string {
	return "timetable:section:" + section + ":gen"
}

// CacheService orchestrates the section read cache and related metrics.
//
// Every invalidation bumps the section's generation. Reads look up the
// generation before touching the store and fill only the key of the
// generation they observed, so a fill racing a mutation lands on a key no
// later read consults.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// GetSection returns the cached partition of a section and the generation the
// lookup observed. The boolean is true on a hit. On a miss the generation must
// be handed to SetSection together with the freshly loaded partition.
func (s *CacheService) GetSection(ctx context.Context, section string) ([]models.TimetableEntry, int64, bool) {
	if !s.Enabled() {
		return nil, noGeneration, false
	}
	generation, err := s.repo.Generation(ctx, sectionGenerationKey(section))
	if err != nil {
		s.logger.Warn("cache generation lookup failed", zap.String("section", section), zap.Error(err))
		return nil, noGeneration, false
	}

	var entries []models.TimetableEntry
	start := time.Now()
	err = s.repo.Get(ctx, SectionCacheKey(section, generation), &entries)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("section", section), zap.Error(err))
		}
		return nil, generation, false
	}
	return entries, generation, true
}

// SetSection stores a section's partition under the generation observed by
// the preceding GetSection.
func (s *CacheService) SetSection(ctx context.Context, section string, generation int64, entries []models.TimetableEntry) {
	if !s.Enabled() || generation == noGeneration {
		return
	}
	start := time.Now()
	err := s.repo.Set(ctx, SectionCacheKey(section, generation), entries, s.defaultTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("section", section), zap.Error(err))
	}
}

// InvalidateSection moves the section to a new generation and drops the
// partition cached under the previous one.
func (s *CacheService) InvalidateSection(ctx context.Context, section string) error {
	if !s.Enabled() {
		return nil
	}
	generation, err := s.repo.Bump(ctx, sectionGenerationKey(section))
	if err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("section", section), zap.Error(err))
		return err
	}
	if err := s.repo.Delete(ctx, SectionCacheKey(section, generation-1)); err != nil {
		s.logger.Debug("stale section cache left to expire", zap.String("section", section), zap.Error(err))
	}
	return nil
}

// CacheInvalidator drops section caches after mutations. Invalidation runs
// inline; failures are handed to a job queue that retries them.
type CacheInvalidator struct {
	cache  *CacheService
	queue  *jobs.Queue[string]
	logger *zap.Logger
}

// NewCacheInvalidator builds an invalidator and its retry queue.
func NewCacheInvalidator(cache *CacheService, cfg jobs.QueueConfig) *CacheInvalidator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &CacheInvalidator{cache: cache, logger: logger}
	inv.queue = jobs.NewQueue("cache-invalidation", func(ctx context.Context, job jobs.Job[string]) error {
		return cache.InvalidateSection(ctx, job.Payload)
	}, cfg)
	return inv
}

// Start launches the invalidation workers.
func (i *CacheInvalidator) Start(ctx context.Context) {
	if i == nil || !i.cache.Enabled() {
		return
	}
	i.queue.Start(ctx)
}

// Stop waits for the invalidation workers to exit.
func (i *CacheInvalidator) Stop() {
	if i == nil {
		return
	}
	i.queue.Stop()
}

// Invalidate removes the section's cached views, queueing a retry on failure.
func (i *CacheInvalidator) Invalidate(ctx context.Context, section string) {
	if i == nil || !i.cache.Enabled() {
		return
	}
	if err := i.cache.InvalidateSection(ctx, section); err == nil {
		return
	}
	if err := i.queue.TryEnqueue(section); err != nil {
		i.logger.Error("section cache left stale", zap.String("section", section), zap.Error(err))
	}
}
