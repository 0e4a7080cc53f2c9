package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var timetableRowColumns = []string{"section", "day", "slot", "subject", "faculty", "room", "type"}

func TestTimetableRepositoryGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT section, day, slot, subject, faculty, room, type FROM timetable_slots WHERE section = $1 AND sort_key = $2")).
		WithArgs("3A", "MONDAY#1").
		WillReturnRows(sqlmock.NewRows(timetableRowColumns).AddRow("3A", "MONDAY", 1, "Math", "Dr. X", "R1", "THEORY"))

	entry, err := repo.Get(context.Background(), "3A", "MONDAY#1", true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.Monday, entry.Day)
	assert.Equal(t, models.SlotTypeTheory, entry.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery("SELECT section, day, slot").
		WithArgs("3A", "MONDAY#1").
		WillReturnRows(sqlmock.NewRows(timetableRowColumns))

	entry, err := repo.Get(context.Background(), "3A", "MONDAY#1", true)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryCreateDetectsExisting(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)
	entry := models.TimetableEntry{Section: "3A", Day: models.Monday, Slot: 1, Subject: "Math", Faculty: "Dr. X", Room: "R1", Type: models.SlotTypeTheory}

	mock.ExpectExec(`(?s)INSERT INTO timetable_slots.*ON CONFLICT \(section, sort_key\) DO NOTHING`).
		WithArgs("3A", "MONDAY#1", "MONDAY", 1, "Math", "Dr. X", "R1", "THEORY", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), entry))

	mock.ExpectExec("INSERT INTO timetable_slots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Create(context.Background(), entry), models.ErrSlotExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)
	room := "R9"

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE timetable_slots SET updated_at = $3, room = $4 WHERE section = $1 AND sort_key = $2 RETURNING section, day, slot, subject, faculty, room, type")).
		WithArgs("3A", "MONDAY#1", sqlmock.AnyArg(), "R9").
		WillReturnRows(sqlmock.NewRows(timetableRowColumns).AddRow("3A", "MONDAY", 1, "Math", "Dr. X", "R9", "THEORY"))

	entry, err := repo.Update(context.Background(), "3A", "MONDAY#1", models.SlotPatch{Room: &room})
	require.NoError(t, err)
	assert.Equal(t, "R9", entry.Room)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)
	subject := "Physics"

	mock.ExpectQuery("UPDATE timetable_slots SET").
		WillReturnRows(sqlmock.NewRows(timetableRowColumns))

	_, err := repo.Update(context.Background(), "3A", "MONDAY#1", models.SlotPatch{Subject: &subject})
	assert.ErrorIs(t, err, models.ErrSlotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryQueryPartition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_slots WHERE section = $1 AND sort_key LIKE $2 ORDER BY sort_key")).
		WithArgs("3A", "TUESDAY#%").
		WillReturnRows(sqlmock.NewRows(timetableRowColumns).
			AddRow("3A", "TUESDAY", 1, "Math", "Dr. X", "R1", "THEORY").
			AddRow("3A", "TUESDAY", 2, "Lab", "Dr. Y", "L1", "LAB"))

	entries, err := repo.QueryPartition(context.Background(), "3A", "TUESDAY#")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryScanPages(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)
	filter := models.TimetableScanFilter{Faculty: "Dr. X", Day: models.Monday, Slot: 1}
	scanColumns := append(append([]string{}, timetableRowColumns...), "sort_key")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT section, day, slot, subject, faculty, room, type, sort_key FROM timetable_slots WHERE faculty = $1 AND day = $2 AND slot = $3 ORDER BY section, sort_key LIMIT 1")).
		WithArgs("Dr. X", "MONDAY", 1).
		WillReturnRows(sqlmock.NewRows(scanColumns).AddRow("3A", "MONDAY", 1, "Math", "Dr. X", "R1", "THEORY", "MONDAY#1"))

	page, err := repo.Scan(context.Background(), models.TimetableScanInput{Filter: filter, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.NextCursor)

	mock.ExpectQuery(regexp.QuoteMeta("AND (section, sort_key) > ($4, $5) ORDER BY section, sort_key LIMIT 1")).
		WithArgs("Dr. X", "MONDAY", 1, "3A", "MONDAY#1").
		WillReturnRows(sqlmock.NewRows(scanColumns))

	page, err = repo.Scan(context.Background(), models.TimetableScanInput{Filter: filter, Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetable_slots WHERE section = $1 AND sort_key = $2")).
		WithArgs("3A", "MONDAY#1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "3A", "MONDAY#1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
