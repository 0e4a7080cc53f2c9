package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

// CalendarEvent is one recurring calendar entry.
type CalendarEvent struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	// Weekly repeats the event every week from Start.
	Weekly bool
}

// ICSExporter renders events into an iCalendar document.
type ICSExporter struct {
	productID string
	now       func() time.Time
}

// NewICSExporter constructs an ICS exporter stamping documents with productID.
func NewICSExporter(productID string) *ICSExporter {
	if productID == "" {
		productID = "-//timetable-api//EN"
	}
	return &ICSExporter{productID: productID, now: time.Now}
}

// Render builds a published calendar named name holding events.
func (e *ICSExporter) Render(name, timezone string, events []CalendarEvent) ([]byte, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(e.productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	if timezone != "" {
		cal.SetXWRTimezone(timezone)
	}

	stamp := e.now().UTC()
	for _, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("ics event %q has no uid", ev.Summary)
		}
		if !ev.End.After(ev.Start) {
			return nil, fmt.Errorf("ics event %s ends before it starts", ev.UID)
		}
		event := cal.AddEvent(ev.UID)
		event.SetDtStampTime(stamp)
		setEventTime(event, ics.ComponentPropertyDtStart, ev.Start)
		setEventTime(event, ics.ComponentPropertyDtEnd, ev.End)
		event.SetSummary(ev.Summary)
		if ev.Location != "" {
			event.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			event.SetDescription(ev.Description)
		}
		if ev.Weekly {
			event.SetProperty(ics.ComponentPropertyRrule, "FREQ=WEEKLY")
		}
	}
	return []byte(cal.Serialize()), nil
}

const icsLocalTimestamp = "20060102T150405"

// setEventTime writes t as wall-clock time tagged with its IANA zone so a
// weekly RRULE keeps the same local time across DST changes. UTC and the
// unnamed process-local zone fall back to UTC timestamps.
func setEventTime(event *ics.VEvent, property ics.ComponentProperty, t time.Time) {
	zone := t.Location().String()
	if zone == "UTC" || zone == "Local" || zone == "" {
		event.SetProperty(property, t.UTC().Format(icsLocalTimestamp+"Z"))
		return
	}
	event.SetProperty(property, t.Format(icsLocalTimestamp), &ics.KeyValues{
		Key:   string(ics.ParameterTzid),
		Value: []string{zone},
	})
}
