package service

import (
	"context"
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
)

// TimetableStore is the key-value view of the timetable consumed by the
// engines. Entries are partitioned by section and sorted by "{DAY}#{slot}".
// Implementations return models.ErrSlotExists from Create when the key is
// taken and models.ErrSlotNotFound from Update when it is absent.
type TimetableStore interface {
	Get(ctx context.Context, section, sortKey string, consistent bool) (*models.TimetableEntry, error)
	Create(ctx context.Context, entry models.TimetableEntry) error
	Update(ctx context.Context, section, sortKey string, patch models.SlotPatch) (*models.TimetableEntry, error)
	Delete(ctx context.Context, section, sortKey string) error
	QueryPartition(ctx context.Context, section, sortKeyPrefix string) ([]models.TimetableEntry, error)
	Scan(ctx context.Context, input models.TimetableScanInput) (models.TimetableScanPage, error)
}

type instrumentedStore struct {
	next    TimetableStore
	metrics *MetricsService
}

// InstrumentStore decorates store with per-operation latency and error metrics.
func InstrumentStore(store TimetableStore, metrics *MetricsService) TimetableStore {
	if metrics == nil {
		return store
	}
	return &instrumentedStore{next: store, metrics: metrics}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.ObserveStoreOperation(op, time.Since(start), err)
}

func (s *instrumentedStore) Get(ctx context.Context, section, sortKey string, consistent bool) (*models.TimetableEntry, error) {
	start := time.Now()
	entry, err := s.next.Get(ctx, section, sortKey, consistent)
	s.observe("get", start, err)
	return entry, err
}

func (s *instrumentedStore) Create(ctx context.Context, entry models.TimetableEntry) error {
	start := time.Now()
	err := s.next.Create(ctx, entry)
	s.observe("create", start, ignoreStoreSentinel(err))
	return err
}

func (s *instrumentedStore) Update(ctx context.Context, section, sortKey string, patch models.SlotPatch) (*models.TimetableEntry, error) {
	start := time.Now()
	entry, err := s.next.Update(ctx, section, sortKey, patch)
	s.observe("update", start, ignoreStoreSentinel(err))
	return entry, err
}

func (s *instrumentedStore) Delete(ctx context.Context, section, sortKey string) error {
	start := time.Now()
	err := s.next.Delete(ctx, section, sortKey)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) QueryPartition(ctx context.Context, section, sortKeyPrefix string) ([]models.TimetableEntry, error) {
	start := time.Now()
	entries, err := s.next.QueryPartition(ctx, section, sortKeyPrefix)
	s.observe("query", start, err)
	return entries, err
}

func (s *instrumentedStore) Scan(ctx context.Context, input models.TimetableScanInput) (models.TimetableScanPage, error) {
	start := time.Now()
	page, err := s.next.Scan(ctx, input)
	s.observe("scan", start, err)
	return page, err
}

func ignoreStoreSentinel(err error) error {
	if err == models.ErrSlotExists || err == models.ErrSlotNotFound {
		return nil
	}
	return err
}

// scanAll follows scan cursors until the table is exhausted.
func scanAll(ctx context.Context, store TimetableStore, metrics *MetricsService, query string, filter models.TimetableScanFilter, pageSize int) ([]models.TimetableEntry, error) {
	var (
		items  []models.TimetableEntry
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := store.Scan(ctx, models.TimetableScanInput{
			Filter:     filter,
			Consistent: true,
			Cursor:     cursor,
			Limit:      pageSize,
		})
		if err != nil {
			return nil, err
		}
		metrics.RecordScanPage(query)
		items = append(items, page.Items...)
		if page.NextCursor == "" {
			return items, nil
		}
		cursor = page.NextCursor
	}
}
