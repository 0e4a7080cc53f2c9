package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/timetable-api/internal/models"
)

// TimetableMemoryRepository keeps entries in process memory. It backs the
// "memory" store driver used for local development and tests.
type TimetableMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]map[string]models.TimetableEntry
}

// NewTimetableMemoryRepository creates an empty in-memory store.
func NewTimetableMemoryRepository() *TimetableMemoryRepository {
	return &TimetableMemoryRepository{entries: make(map[string]map[string]models.TimetableEntry)}
}

// Get returns the entry or nil when absent.
func (r *TimetableMemoryRepository) Get(_ context.Context, section, sortKey string, _ bool) (*models.TimetableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[section][sortKey]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Create writes the entry only when its key is free.
func (r *TimetableMemoryRepository) Create(_ context.Context, entry models.TimetableEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.Section][entry.SortKey()]; ok {
		return models.ErrSlotExists
	}
	r.store(entry)
	return nil
}

func (r *TimetableMemoryRepository) store(entry models.TimetableEntry) {
	partition, ok := r.entries[entry.Section]
	if !ok {
		partition = make(map[string]models.TimetableEntry)
		r.entries[entry.Section] = partition
	}
	partition[entry.SortKey()] = entry
}

// Update applies the patch to an existing entry.
func (r *TimetableMemoryRepository) Update(_ context.Context, section, sortKey string, patch models.SlotPatch) (*models.TimetableEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[section][sortKey]
	if !ok {
		return nil, models.ErrSlotNotFound
	}
	entry = patch.Apply(entry)
	r.entries[section][sortKey] = entry
	return &entry, nil
}

// Delete removes the entry if present.
func (r *TimetableMemoryRepository) Delete(_ context.Context, section, sortKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if partition, ok := r.entries[section]; ok {
		delete(partition, sortKey)
		if len(partition) == 0 {
			delete(r.entries, section)
		}
	}
	return nil
}

// QueryPartition returns a section's entries whose sort key starts with prefix.
func (r *TimetableMemoryRepository) QueryPartition(_ context.Context, section, sortKeyPrefix string) ([]models.TimetableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]models.TimetableEntry, 0)
	for sortKey, entry := range r.entries[section] {
		if strings.HasPrefix(sortKey, sortKeyPrefix) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SortKey() < entries[j].SortKey() })
	return entries, nil
}

// Scan pages through all entries ordered by (section, sort key). Like a
// DynamoDB scan, Limit bounds the entries examined, not the entries returned.
func (r *TimetableMemoryRepository) Scan(_ context.Context, in models.TimetableScanInput) (models.TimetableScanPage, error) {
	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return models.TimetableScanPage{}, err
	}

	r.mu.RLock()
	keys := make([]scanCursor, 0)
	for section, partition := range r.entries {
		for sortKey := range partition {
			keys = append(keys, scanCursor{Section: section, SortKey: sortKey})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return cursorLess(keys[i], keys[j]) })

	start := 0
	if cursor != nil {
		start = sort.Search(len(keys), func(i int) bool { return cursorLess(*cursor, keys[i]) })
	}
	end := len(keys)
	if in.Limit > 0 && start+in.Limit < end {
		end = start + in.Limit
	}

	page := models.TimetableScanPage{Items: make([]models.TimetableEntry, 0)}
	for _, key := range keys[start:end] {
		entry := r.entries[key.Section][key.SortKey]
		if in.Filter.Matches(entry) {
			page.Items = append(page.Items, entry)
		}
	}
	r.mu.RUnlock()

	if end < len(keys) {
		if page.NextCursor, err = encodeCursor(keys[end-1]); err != nil {
			return models.TimetableScanPage{}, err
		}
	}
	return page, nil
}

func cursorLess(a, b scanCursor) bool {
	if a.Section != b.Section {
		return a.Section < b.Section
	}
	return a.SortKey < b.SortKey
}
