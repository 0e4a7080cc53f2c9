package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

const timetableColumns = "section, day, slot, subject, faculty, room, type"

// TimetableRepository stores timetable entries in PostgreSQL. The primary key
// is (section, sort_key) so the table mirrors the key-value layout.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository creates a new TimetableRepository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

type timetableRow struct {
	models.TimetableEntry
	SortKey   string    `db:"sort_key"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get returns the entry or nil when absent. PostgreSQL reads are always consistent.
func (r *TimetableRepository) Get(ctx context.Context, section, sortKey string, _ bool) (*models.TimetableEntry, error) {
	query := "SELECT " + timetableColumns + " FROM timetable_slots WHERE section = $1 AND sort_key = $2"
	var entry models.TimetableEntry
	if err := r.db.GetContext(ctx, &entry, query, section, sortKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get timetable slot: %w", err)
	}
	return &entry, nil
}

// Create inserts the entry only when the key is free.
func (r *TimetableRepository) Create(ctx context.Context, entry models.TimetableEntry) error {
	const query = `INSERT INTO timetable_slots (section, sort_key, day, slot, subject, faculty, room, type, created_at, updated_at)
VALUES (:section, :sort_key, :day, :slot, :subject, :faculty, :room, :type, :created_at, :updated_at)
ON CONFLICT (section, sort_key) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, newTimetableRow(entry))
	if err != nil {
		return fmt.Errorf("create timetable slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create timetable slot rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrSlotExists
	}
	return nil
}

// Update applies the patch to an existing entry and returns the stored row.
func (r *TimetableRepository) Update(ctx context.Context, section, sortKey string, patch models.SlotPatch) (*models.TimetableEntry, error) {
	sets := []string{"updated_at = $3"}
	args := []interface{}{section, sortKey, time.Now().UTC()}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Subject != nil {
		add("subject", *patch.Subject)
	}
	if patch.Faculty != nil {
		add("faculty", *patch.Faculty)
	}
	if patch.Room != nil {
		add("room", *patch.Room)
	}
	if patch.Type != nil {
		add("type", string(*patch.Type))
	}

	query := fmt.Sprintf("UPDATE timetable_slots SET %s WHERE section = $1 AND sort_key = $2 RETURNING %s", strings.Join(sets, ", "), timetableColumns)
	var entry models.TimetableEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSlotNotFound
		}
		return nil, fmt.Errorf("update timetable slot: %w", err)
	}
	return &entry, nil
}

// Delete removes the entry. Deleting an absent key is not an error.
func (r *TimetableRepository) Delete(ctx context.Context, section, sortKey string) error {
	const query = `DELETE FROM timetable_slots WHERE section = $1 AND sort_key = $2`
	if _, err := r.db.ExecContext(ctx, query, section, sortKey); err != nil {
		return fmt.Errorf("delete timetable slot: %w", err)
	}
	return nil
}

// QueryPartition returns a section's entries whose sort key starts with prefix.
func (r *TimetableRepository) QueryPartition(ctx context.Context, section, sortKeyPrefix string) ([]models.TimetableEntry, error) {
	query := "SELECT " + timetableColumns + " FROM timetable_slots WHERE section = $1 AND sort_key LIKE $2 ORDER BY sort_key"
	entries := make([]models.TimetableEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, section, escapeLike(sortKeyPrefix)+"%"); err != nil {
		return nil, fmt.Errorf("query timetable partition: %w", err)
	}
	return entries, nil
}

// Scan reads one keyset page ordered by (section, sort_key).
func (r *TimetableRepository) Scan(ctx context.Context, in models.TimetableScanInput) (models.TimetableScanPage, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if in.Filter.Faculty != "" {
		conditions = append(conditions, "faculty = "+arg(in.Filter.Faculty))
	}
	if in.Filter.Day != "" {
		conditions = append(conditions, "day = "+arg(string(in.Filter.Day)))
	}
	if in.Filter.Slot != 0 {
		conditions = append(conditions, "slot = "+arg(in.Filter.Slot))
	}
	if in.Filter.SortKeyPrefix != "" {
		conditions = append(conditions, "sort_key LIKE "+arg(escapeLike(in.Filter.SortKeyPrefix)+"%"))
	}

	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return models.TimetableScanPage{}, err
	}
	if cursor != nil {
		conditions = append(conditions, fmt.Sprintf("(section, sort_key) > (%s, %s)", arg(cursor.Section), arg(cursor.SortKey)))
	}

	query := "SELECT " + timetableColumns + ", sort_key FROM timetable_slots"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY section, sort_key"
	if in.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", in.Limit)
	}

	var rows []timetableRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return models.TimetableScanPage{}, fmt.Errorf("scan timetable slots: %w", err)
	}

	page := models.TimetableScanPage{Items: make([]models.TimetableEntry, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, row.TimetableEntry)
	}
	if in.Limit > 0 && len(rows) == in.Limit {
		last := rows[len(rows)-1]
		if page.NextCursor, err = encodeCursor(scanCursor{Section: last.Section, SortKey: last.SortKey}); err != nil {
			return models.TimetableScanPage{}, err
		}
	}
	return page, nil
}

func newTimetableRow(entry models.TimetableEntry) timetableRow {
	now := time.Now().UTC()
	return timetableRow{TimetableEntry: entry, SortKey: entry.SortKey(), CreatedAt: now, UpdatedAt: now}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(value)
}
