package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type timetableMutator interface {
	AddSingle(ctx context.Context, entry models.TimetableEntry) (*models.TimetableEntry, error)
	AddBatch(ctx context.Context, req models.BatchSlotsRequest) (*models.BatchResult, error)
	Update(ctx context.Context, key models.SlotKey, patch models.SlotPatch) (*models.TimetableEntry, error)
	Delete(ctx context.Context, key models.SlotKey) error
}

type timetableQuerier interface {
	Weekly(ctx context.Context, section string) (models.WeekSchedule, bool, error)
	Daily(ctx context.Context, section, day string) ([]models.TimetableEntry, bool, error)
	ByFaculty(ctx context.Context, faculty string) ([]models.TimetableEntry, error)
	DailyLoad(ctx context.Context, faculty, day string) (*models.FacultyLoad, error)
	NextClass(ctx context.Context, section, subject string) (*models.NextClass, error)
}

type timetableExporter interface {
	WeeklyTimetable(ctx context.Context, section string, format models.ExportFormat) (*models.ExportFile, error)
	FacultyRoster(ctx context.Context, faculty string, format models.ExportFormat) (*models.ExportFile, error)
}

// TimetableHandler exposes slot assignment and timetable views.
type TimetableHandler struct {
	mutator  timetableMutator
	querier  timetableQuerier
	exporter timetableExporter
}

// NewTimetableHandler constructs a TimetableHandler.
func NewTimetableHandler(mutator timetableMutator, querier timetableQuerier, exporter timetableExporter) *TimetableHandler {
	return &TimetableHandler{mutator: mutator, querier: querier, exporter: exporter}
}

// AddSlot godoc
// @Summary Assign a slot
// @Description Assign a subject, faculty and room to one slot of a section's day
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body models.TimetableEntry true "Slot"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slot [post]
func (h *TimetableHandler) AddSlot(c *gin.Context) {
	var req models.TimetableEntry
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid slot payload"))
		return
	}
	entry, err := h.mutator.AddSingle(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Slot added successfully", entry)
}

// AddBatch godoc
// @Summary Assign several slots of one day
// @Description Items are processed in order; each one is committed or rejected independently
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body models.BatchSlotsRequest true "Batch"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable/slots/batch [post]
func (h *TimetableHandler) AddBatch(c *gin.Context) {
	var req models.BatchSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid batch payload"))
		return
	}
	result, err := h.mutator.AddBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, "Batch processed", result, map[string]interface{}{
		"committed": len(result.Committed),
		"rejected":  len(result.Rejected),
	})
}

// UpdateSlot godoc
// @Summary Update a slot
// @Description Change subject, faculty, room or type of an existing slot
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body models.UpdateSlotRequest true "Slot key and changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slot [put]
func (h *TimetableHandler) UpdateSlot(c *gin.Context) {
	var req models.UpdateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid update payload"))
		return
	}
	entry, err := h.mutator.Update(c.Request.Context(), req.SlotKey, req.SlotPatch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Slot updated successfully", entry)
}

// DeleteSlot godoc
// @Summary Delete a slot
// @Tags Timetable
// @Produce json
// @Param year_section query string true "Year section"
// @Param day query string true "Day"
// @Param slot query int true "Slot (1-7)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetable/slot [delete]
func (h *TimetableHandler) DeleteSlot(c *gin.Context) {
	var key models.SlotKey
	if err := c.ShouldBindQuery(&key); err != nil {
		response.Error(c, appErrors.Validation(err, "year_section, day and slot query parameters are required"))
		return
	}
	if err := h.mutator.Delete(c.Request.Context(), key); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Slot deleted successfully", key.Normalize())
}

// Weekly godoc
// @Summary Weekly timetable of a section
// @Tags Timetable
// @Produce json
// @Param section path string true "Year section"
// @Success 200 {object} response.Envelope
// @Router /timetable/weekly/{section} [get]
func (h *TimetableHandler) Weekly(c *gin.Context) {
	week, cached, err := h.querier.Weekly(c.Request.Context(), c.Param("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.OK(c, "Weekly timetable retrieved", week, middleware.ExtractMeta(c))
}

// Daily godoc
// @Summary Timetable of a section for one day
// @Tags Timetable
// @Produce json
// @Param section path string true "Year section"
// @Param day path string true "Day"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable/day/{section}/{day} [get]
func (h *TimetableHandler) Daily(c *gin.Context) {
	entries, cached, err := h.querier.Daily(c.Request.Context(), c.Param("section"), c.Param("day"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.OK(c, "Daily timetable retrieved", entries, middleware.ExtractMeta(c))
}

// FacultyRoster godoc
// @Summary Every slot taught by a faculty member
// @Tags Timetable
// @Produce json
// @Param name path string false "Faculty name"
// @Param faculty query string false "Faculty name"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable/faculty/{name} [get]
func (h *TimetableHandler) FacultyRoster(c *gin.Context) {
	entries, err := h.querier.ByFaculty(c.Request.Context(), facultyParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Faculty timetable retrieved", entries, map[string]interface{}{"total": len(entries)})
}

// FacultyLoad godoc
// @Summary Daily teaching load of a faculty member
// @Tags Timetable
// @Produce json
// @Param faculty query string true "Faculty name"
// @Param day query string true "Day"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable/faculty/load [get]
func (h *TimetableHandler) FacultyLoad(c *gin.Context) {
	load, err := h.querier.DailyLoad(c.Request.Context(), c.Query("faculty"), c.Query("day"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Faculty daily load retrieved", load)
}

// NextClass godoc
// @Summary Next upcoming class of a subject
// @Description Returns null data when the subject has no class in the section
// @Tags Timetable
// @Produce json
// @Param section path string true "Year section"
// @Param subject path string true "Subject"
// @Success 200 {object} response.Envelope
// @Router /timetable/next-class/{section}/{subject} [get]
func (h *TimetableHandler) NextClass(c *gin.Context) {
	next, err := h.querier.NextClass(c.Request.Context(), c.Param("section"), c.Param("subject"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if next == nil {
		response.OK(c, "No upcoming class found for this subject", nil)
		return
	}
	response.OK(c, "Next class retrieved", next)
}

// ExportWeekly godoc
// @Summary Export a section's weekly timetable
// @Tags Timetable
// @Produce octet-stream
// @Param section path string true "Year section"
// @Param format query string false "csv, pdf, xlsx or ics"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /timetable/weekly/{section}/export [get]
func (h *TimetableHandler) ExportWeekly(c *gin.Context) {
	format, ok := models.ParseExportFormat(c.Query("format"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be one of csv, pdf, xlsx, ics"))
		return
	}
	file, err := h.exporter.WeeklyTimetable(c.Request.Context(), c.Param("section"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// ExportFacultyRoster godoc
// @Summary Export a faculty member's roster
// @Tags Timetable
// @Produce octet-stream
// @Param name path string true "Faculty name"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /timetable/faculty/{name}/export [get]
func (h *TimetableHandler) ExportFacultyRoster(c *gin.Context) {
	format, ok := models.ParseExportFormat(c.Query("format"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be one of csv, pdf, xlsx"))
		return
	}
	file, err := h.exporter.FacultyRoster(c.Request.Context(), facultyParam(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// facultyParam reads the faculty name from the path, falling back to ?faculty=.
func facultyParam(c *gin.Context) string {
	if name := strings.TrimSpace(c.Param("name")); name != "" {
		return name
	}
	return c.Query("faculty")
}
