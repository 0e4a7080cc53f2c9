package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Day is the canonical upper-case weekday name used in sort keys.
type Day string

const (
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
	Saturday  Day = "SATURDAY"
	Sunday    Day = "SUNDAY"
)

// Days lists the week in canonical order. Monday is index 0, Sunday index 6.
var Days = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseDay normalises raw input to a canonical Day.
func ParseDay(raw string) (Day, bool) {
	d := Day(strings.ToUpper(strings.TrimSpace(raw)))
	return d, d.Index() >= 0
}

// Index returns the canonical position of the day, or -1 for unknown values.
func (d Day) Index() int {
	for i, day := range Days {
		if day == d {
			return i
		}
	}
	return -1
}

// DayFromWeekday maps time.Weekday (Sunday = 0) onto the Monday-first week.
func DayFromWeekday(w time.Weekday) Day {
	return Days[(int(w)+6)%7]
}

// SlotType distinguishes lecture periods from lab periods.
type SlotType string

const (
	SlotTypeTheory SlotType = "THEORY"
	SlotTypeLab    SlotType = "LAB"
)

// ParseSlotType accepts any casing ("Theory", "lab") and returns the canonical value.
func ParseSlotType(raw string) (SlotType, bool) {
	t := SlotType(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t == SlotTypeTheory || t == SlotTypeLab
}

const (
	MinSlot = 1
	MaxSlot = 7
)

// TimetableEntry is one assignment of a subject, faculty and room to a section's slot.
type TimetableEntry struct {
	Section string   `json:"year_section" db:"section" dynamodbav:"yearSection" validate:"required,max=32"`
	Day     Day      `json:"day" db:"day" dynamodbav:"day" validate:"required,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY SUNDAY"`
	Slot    int      `json:"slot" db:"slot" dynamodbav:"slot" validate:"min=1,max=7"`
	Subject string   `json:"subject" db:"subject" dynamodbav:"subject" validate:"required,max=128"`
	Faculty string   `json:"faculty" db:"faculty" dynamodbav:"faculty" validate:"required,max=128"`
	Room    string   `json:"room" db:"room" dynamodbav:"room" validate:"required,max=64"`
	Type    SlotType `json:"type" db:"type" dynamodbav:"type" validate:"required,oneof=THEORY LAB"`
}

// SortKey formats the store sort key "{DAY}#{slot}".
func SortKey(day Day, slot int) string {
	return fmt.Sprintf("%s#%d", day, slot)
}

// DayPrefix is the sort key prefix matching every slot of a day.
func DayPrefix(day Day) string {
	return string(day) + "#"
}

// SortKey returns the entry's store sort key.
func (e TimetableEntry) SortKey() string {
	return SortKey(e.Day, e.Slot)
}

// Key returns the entry's identity.
func (e TimetableEntry) Key() SlotKey {
	return SlotKey{Section: e.Section, Day: e.Day, Slot: e.Slot}
}

// Normalize trims fields and canonicalises section, day and type casing.
func (e TimetableEntry) Normalize() TimetableEntry {
	e.Section = strings.ToUpper(strings.TrimSpace(e.Section))
	e.Day = Day(strings.ToUpper(strings.TrimSpace(string(e.Day))))
	e.Subject = strings.TrimSpace(e.Subject)
	e.Faculty = strings.TrimSpace(e.Faculty)
	e.Room = strings.TrimSpace(e.Room)
	if t, ok := ParseSlotType(string(e.Type)); ok {
		e.Type = t
	}
	return e
}

// SlotKey identifies a slot of a section.
type SlotKey struct {
	Section string `json:"year_section" form:"year_section" validate:"required"`
	Day     Day    `json:"day" form:"day" validate:"required,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY SUNDAY"`
	Slot    int    `json:"slot" form:"slot" validate:"min=1,max=7"`
}

// Normalize canonicalises the key's casing.
func (k SlotKey) Normalize() SlotKey {
	k.Section = strings.ToUpper(strings.TrimSpace(k.Section))
	k.Day = Day(strings.ToUpper(strings.TrimSpace(string(k.Day))))
	return k
}

// SortKey returns the key's store sort key.
func (k SlotKey) SortKey() string {
	return SortKey(k.Day, k.Slot)
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s on %s at slot %d", k.Section, k.Day, k.Slot)
}

// SlotPatch lists the mutable attributes of an entry; nil fields are left untouched.
type SlotPatch struct {
	Subject *string   `json:"subject,omitempty"`
	Faculty *string   `json:"faculty,omitempty"`
	Room    *string   `json:"room,omitempty"`
	Type    *SlotType `json:"type,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SlotPatch) IsEmpty() bool {
	return p.Subject == nil && p.Faculty == nil && p.Room == nil && p.Type == nil
}

// Apply returns e with the patch applied.
func (p SlotPatch) Apply(e TimetableEntry) TimetableEntry {
	if p.Subject != nil {
		e.Subject = *p.Subject
	}
	if p.Faculty != nil {
		e.Faculty = *p.Faculty
	}
	if p.Room != nil {
		e.Room = *p.Room
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	return e
}

// Store level sentinels shared by every timetable store implementation.
var (
	ErrSlotExists   = errors.New("timetable slot already exists")
	ErrSlotNotFound = errors.New("timetable slot not found")
)

// TimetableScanFilter is a declarative predicate for full-table scans. Empty
// fields match everything.
type TimetableScanFilter struct {
	Faculty       string
	Day           Day
	Slot          int
	SortKeyPrefix string
}

// Matches evaluates the filter against an entry.
func (f TimetableScanFilter) Matches(e TimetableEntry) bool {
	if f.Faculty != "" && e.Faculty != f.Faculty {
		return false
	}
	if f.Day != "" && e.Day != f.Day {
		return false
	}
	if f.Slot != 0 && e.Slot != f.Slot {
		return false
	}
	if f.SortKeyPrefix != "" && !strings.HasPrefix(e.SortKey(), f.SortKeyPrefix) {
		return false
	}
	return true
}

// TimetableScanInput requests one page of a full-table scan.
type TimetableScanInput struct {
	Filter     TimetableScanFilter
	Consistent bool
	Cursor     string
	Limit      int
}

// TimetableScanPage is one page of scan results. An empty NextCursor means the
// scan is exhausted.
type TimetableScanPage struct {
	Items      []TimetableEntry
	NextCursor string
}

// ConflictKind names the uniqueness invariant a candidate would violate.
type ConflictKind string

const (
	ConflictSection ConflictKind = "SECTION"
	ConflictFaculty ConflictKind = "FACULTY"
)

// ConflictError describes a rejected assignment and the entry it collides with.
type ConflictError struct {
	Kind      ConflictKind   `json:"kind"`
	Message   string         `json:"message"`
	With      TimetableEntry `json:"with"`
	SameBatch bool           `json:"same_batch,omitempty"`
}

// Error implements the error interface for conflict errors.
func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// BatchRejection records why one batch item was not committed.
type BatchRejection struct {
	Index    int            `json:"index"`
	Slot     int            `json:"slot"`
	Item     TimetableEntry `json:"item"`
	Code     string         `json:"code"`
	Reason   string         `json:"reason"`
	Conflict *ConflictError `json:"conflict,omitempty"`
}

// BatchResult is the per-item breakdown of a batch add.
type BatchResult struct {
	Section   string           `json:"year_section"`
	Day       Day              `json:"day"`
	Committed []TimetableEntry `json:"committed"`
	Rejected  []BatchRejection `json:"rejected"`
}

// DaySchedule holds one day's entries ordered by slot.
type DaySchedule struct {
	Day     Day
	Entries []TimetableEntry
}

// WeekSchedule is a section's week, days in canonical order. It encodes as a
// JSON object whose keys keep that order.
type WeekSchedule []DaySchedule

// MarshalJSON emits {"MONDAY": [...], "TUESDAY": [...]} preserving day order.
func (w WeekSchedule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(day.Day))
		if err != nil {
			return nil, err
		}
		entries := day.Entries
		if entries == nil {
			entries = []TimetableEntry{}
		}
		value, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FacultyLoad summarises a faculty member's teaching load for a day.
type FacultyLoad struct {
	Faculty   string `json:"faculty"`
	Day       Day    `json:"day"`
	Assigned  int    `json:"assigned"`
	Remaining int    `json:"remaining"`
	Cap       int    `json:"cap"`
}

// NextClass is the nearest upcoming occurrence of a subject.
type NextClass struct {
	Entry        TimetableEntry `json:"entry"`
	StartTime    string         `json:"start_time"`
	StartsAt     time.Time      `json:"starts_at"`
	MinutesUntil int            `json:"minutes_until"`
	IsNextWeek   bool           `json:"is_next_week"`
}

// BatchSlotItem is one slot of a batch request; section and day come from the batch.
type BatchSlotItem struct {
	Slot    int      `json:"slot"`
	Subject string   `json:"subject"`
	Faculty string   `json:"faculty"`
	Room    string   `json:"room"`
	Type    SlotType `json:"type"`
}

// BatchSlotsRequest adds several slots of one section's day.
type BatchSlotsRequest struct {
	Section string          `json:"year_section"`
	Day     Day             `json:"day"`
	Slots   []BatchSlotItem `json:"slots"`
}

// UpdateSlotRequest identifies an entry and carries the fields to change.
type UpdateSlotRequest struct {
	SlotKey
	SlotPatch
}
