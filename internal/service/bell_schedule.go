package service

import (
	"fmt"

	"github.com/noah-isme/timetable-api/internal/models"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
	slotLength     = 55
)

// slotStartMinutes holds the bell schedule as minutes after midnight, indexed by slot-1.
var slotStartMinutes = [models.MaxSlot]int{
	9 * 60,     // 09:00
	9*60 + 55,  // 09:55
	11*60 + 5,  // 11:05
	12 * 60,    // 12:00
	13*60 + 45, // 13:45
	14*60 + 40, // 14:40
	15*60 + 35, // 15:35
}

// SlotStart returns the start of slot as minutes after midnight.
func SlotStart(slot int) (int, bool) {
	if slot < models.MinSlot || slot > models.MaxSlot {
		return 0, false
	}
	return slotStartMinutes[slot-1], true
}

// SlotStartClock formats the slot start as "HH:MM".
func SlotStartClock(slot int) string {
	start, ok := SlotStart(slot)
	if !ok {
		return ""
	}
	return clock(start)
}

// SlotEndClock formats the slot end as "HH:MM".
func SlotEndClock(slot int) string {
	start, ok := SlotStart(slot)
	if !ok {
		return ""
	}
	return clock(start + slotLength)
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// weekOffset positions a (day, slot) in minutes since Monday 00:00.
func weekOffset(day models.Day, slot int) (int, bool) {
	idx := day.Index()
	start, ok := SlotStart(slot)
	if idx < 0 || !ok {
		return 0, false
	}
	return idx*minutesPerDay + start, true
}
