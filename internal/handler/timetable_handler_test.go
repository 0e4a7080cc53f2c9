package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type fakeTimetableSrv struct {
	added      models.TimetableEntry
	addErr     error
	batch      models.BatchSlotsRequest
	updatedKey models.SlotKey
	patch      models.SlotPatch
	deletedKey models.SlotKey
	deleteErr  error

	week        models.WeekSchedule
	cached      bool
	faculty     string
	next        *models.NextClass
	exportedFmt models.ExportFormat
}

func (f *fakeTimetableSrv) AddSingle(_ context.Context, entry models.TimetableEntry) (*models.TimetableEntry, error) {
	f.added = entry
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &entry, nil
}

func (f *fakeTimetableSrv) AddBatch(_ context.Context, req models.BatchSlotsRequest) (*models.BatchResult, error) {
	f.batch = req
	return &models.BatchResult{Section: req.Section, Day: req.Day, Committed: []models.TimetableEntry{{Slot: 1}}, Rejected: []models.BatchRejection{{Index: 1}}}, nil
}

func (f *fakeTimetableSrv) Update(_ context.Context, key models.SlotKey, patch models.SlotPatch) (*models.TimetableEntry, error) {
	f.updatedKey, f.patch = key, patch
	return &models.TimetableEntry{Section: key.Section, Day: key.Day, Slot: key.Slot}, nil
}

func (f *fakeTimetableSrv) Delete(_ context.Context, key models.SlotKey) error {
	f.deletedKey = key
	return f.deleteErr
}

func (f *fakeTimetableSrv) Weekly(context.Context, string) (models.WeekSchedule, bool, error) {
	return f.week, f.cached, nil
}

func (f *fakeTimetableSrv) Daily(_ context.Context, _ string, day string) ([]models.TimetableEntry, bool, error) {
	if _, ok := models.ParseDay(day); !ok {
		return nil, false, appErrors.ErrValidation
	}
	return []models.TimetableEntry{}, f.cached, nil
}

func (f *fakeTimetableSrv) ByFaculty(_ context.Context, faculty string) ([]models.TimetableEntry, error) {
	f.faculty = faculty
	return []models.TimetableEntry{{Faculty: faculty}}, nil
}

func (f *fakeTimetableSrv) DailyLoad(_ context.Context, faculty, day string) (*models.FacultyLoad, error) {
	return &models.FacultyLoad{Faculty: faculty, Day: models.Day(day), Assigned: 3, Remaining: 2, Cap: 5}, nil
}

func (f *fakeTimetableSrv) NextClass(context.Context, string, string) (*models.NextClass, error) {
	return f.next, nil
}

func (f *fakeTimetableSrv) WeeklyTimetable(_ context.Context, section string, format models.ExportFormat) (*models.ExportFile, error) {
	f.exportedFmt = format
	return &models.ExportFile{Filename: "timetable_" + section + "." + string(format), ContentType: format.ContentType(), Data: []byte("data")}, nil
}

func (f *fakeTimetableSrv) FacultyRoster(_ context.Context, faculty string, format models.ExportFormat) (*models.ExportFile, error) {
	f.faculty = faculty
	f.exportedFmt = format
	return &models.ExportFile{Filename: "roster." + string(format), ContentType: format.ContentType(), Data: []byte("data")}, nil
}

func newTimetableRouter(srv *fakeTimetableSrv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTimetableHandler(srv, srv, srv)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.POST("/timetable/slot", h.AddSlot)
	r.POST("/timetable/slots/batch", h.AddBatch)
	r.PUT("/timetable/slot", h.UpdateSlot)
	r.DELETE("/timetable/slot", h.DeleteSlot)
	r.GET("/timetable/weekly/:section", h.Weekly)
	r.GET("/timetable/weekly/:section/export", h.ExportWeekly)
	r.GET("/timetable/day/:section/:day", h.Daily)
	r.GET("/timetable/faculty", h.FacultyRoster)
	r.GET("/timetable/faculty/load", h.FacultyLoad)
	r.GET("/timetable/faculty/:name", h.FacultyRoster)
	r.GET("/timetable/faculty/:name/export", h.ExportFacultyRoster)
	r.GET("/timetable/next-class/:section/:subject", h.NextClass)
	return r
}

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Errors  []struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"errors"`
}

func perform(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestTimetableHandlerAddSlot(t *testing.T) {
	srv := &fakeTimetableSrv{}
	r := newTimetableRouter(srv)

	rec, env := perform(t, r, http.MethodPost, "/timetable/slot", map[string]interface{}{
		"year_section": "3A", "day": "MONDAY", "slot": 1, "subject": "Math", "faculty": "Dr. X", "room": "R1", "type": "THEORY",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Dr. X", srv.added.Faculty)
	assert.Equal(t, 1, srv.added.Slot)
}

func TestTimetableHandlerAddSlotConflict(t *testing.T) {
	conflict := &models.ConflictError{
		Kind:    models.ConflictFaculty,
		Message: "Faculty Dr. X is already assigned to section 3B on MONDAY at slot 1",
		With:    models.TimetableEntry{Section: "3B", Day: models.Monday, Slot: 1, Faculty: "Dr. X"},
	}
	srv := &fakeTimetableSrv{addErr: appErrors.WithDetails(appErrors.Clone(appErrors.ErrFacultyConflict, conflict.Message), conflict)}
	r := newTimetableRouter(srv)

	rec, env := perform(t, r, http.MethodPost, "/timetable/slot", map[string]interface{}{"year_section": "3A", "slot": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "FACULTY_CONFLICT", env.Errors[0].Code)

	var details models.ConflictError
	require.NoError(t, json.Unmarshal(env.Errors[0].Details, &details))
	assert.Equal(t, "3B", details.With.Section)
}

func TestTimetableHandlerRejectsMalformedJSON(t *testing.T) {
	r := newTimetableRouter(&fakeTimetableSrv{})

	req := httptest.NewRequest(http.MethodPost, "/timetable/slot", bytes.NewBufferString(`{"slot":"one"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimetableHandlerBatchAndUpdate(t *testing.T) {
	srv := &fakeTimetableSrv{}
	r := newTimetableRouter(srv)

	rec, env := perform(t, r, http.MethodPost, "/timetable/slots/batch", map[string]interface{}{
		"year_section": "3A", "day": "MONDAY", "slots": []map[string]interface{}{{"slot": 1}, {"slot": 1}},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, srv.batch.Slots, 2)
	assert.Equal(t, float64(1), env.Meta["committed"])
	assert.Equal(t, float64(1), env.Meta["rejected"])

	rec, _ = perform(t, r, http.MethodPut, "/timetable/slot", map[string]interface{}{
		"year_section": "3A", "day": "MONDAY", "slot": 2, "room": "Lab 2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, srv.updatedKey.Slot)
	require.NotNil(t, srv.patch.Room)
	assert.Equal(t, "Lab 2", *srv.patch.Room)
	assert.Nil(t, srv.patch.Faculty)
}

func TestTimetableHandlerDelete(t *testing.T) {
	srv := &fakeTimetableSrv{}
	r := newTimetableRouter(srv)

	rec, _ := perform(t, r, http.MethodDelete, "/timetable/slot?year_section=3a&day=monday&slot=4", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SlotKey{Section: "3a", Day: "monday", Slot: 4}, srv.deletedKey)

	srv.deleteErr = appErrors.Clone(appErrors.ErrNotFound, "No slot found")
	rec, env := perform(t, r, http.MethodDelete, "/timetable/slot?year_section=3A&day=MONDAY&slot=4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Errors[0].Code)

	rec, _ = perform(t, r, http.MethodDelete, "/timetable/slot?year_section=3A&day=MONDAY&slot=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimetableHandlerWeeklyReportsCache(t *testing.T) {
	srv := &fakeTimetableSrv{
		cached: true,
		week: models.WeekSchedule{
			{Day: models.Monday, Entries: []models.TimetableEntry{{Slot: 1}}},
			{Day: models.Friday, Entries: []models.TimetableEntry{{Slot: 2}}},
		},
	}
	r := newTimetableRouter(srv)

	rec, env := perform(t, r, http.MethodGet, "/timetable/weekly/3A", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.JSONEq(t, `{"MONDAY":[{"year_section":"","day":"","slot":1,"subject":"","faculty":"","room":"","type":""}],"FRIDAY":[{"year_section":"","day":"","slot":2,"subject":"","faculty":"","room":"","type":""}]}`, string(env.Data))

	rec, _ = perform(t, r, http.MethodGet, "/timetable/day/3A/FUNDAY", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimetableHandlerFacultyRoutes(t *testing.T) {
	srv := &fakeTimetableSrv{}
	r := newTimetableRouter(srv)

	rec, _ := perform(t, r, http.MethodGet, "/timetable/faculty/Dr.%20X", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dr. X", srv.faculty)

	rec, _ = perform(t, r, http.MethodGet, "/timetable/faculty?faculty=Dr.%20Y", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dr. Y", srv.faculty)

	rec, env := perform(t, r, http.MethodGet, "/timetable/faculty/load?faculty=Dr.%20X&day=MONDAY", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var load models.FacultyLoad
	require.NoError(t, json.Unmarshal(env.Data, &load))
	assert.Equal(t, 2, load.Remaining)
}

func TestTimetableHandlerNextClassNone(t *testing.T) {
	r := newTimetableRouter(&fakeTimetableSrv{})

	rec, env := perform(t, r, http.MethodGet, "/timetable/next-class/3A/Math", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "No upcoming class found for this subject", env.Message)
	assert.Empty(t, env.Data)
}

func TestTimetableHandlerExports(t *testing.T) {
	srv := &fakeTimetableSrv{}
	r := newTimetableRouter(srv)

	rec, _ := perform(t, r, http.MethodGet, "/timetable/weekly/3A/export?format=ics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ExportFormatICS, srv.exportedFmt)
	assert.Equal(t, `attachment; filename="timetable_3A.ics"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "data", rec.Body.String())

	rec, _ = perform(t, r, http.MethodGet, "/timetable/faculty/Dr.%20X/export", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ExportFormatCSV, srv.exportedFmt)

	rec, _ = perform(t, r, http.MethodGet, "/timetable/weekly/3A/export?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
