package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"movt.app/backend/internal/store"
)

const dateLayout = "2006-01-02"

// Slot is a bookable interval. Available is only set on generated slots.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Available bool   `json:"available,omitempty"`
}

// DayOfWeek returns the weekday (0 = Sunday) of a YYYY-MM-DD date. The date
// is parsed as a UTC calendar day so the result never depends on the
// server's time zone.
func DayOfWeek(date string) (int, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return int(t.Weekday()), nil
}

// parseClock converts "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are accepted and dropped. "24:00" is allowed as an end of day.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	for _, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
		}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
		}
	}
	if h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// interval is a half-open [start, end) range in minutes.
type interval struct {
	start, end int
}

func parseInterval(start, end string) (interval, error) {
	s, err := parseClock(start)
	if err != nil {
		return interval{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return interval{}, err
	}
	return interval{start: s, end: e}, nil
}

func (i interval) contains(o interval) bool {
	return o.start >= i.start && o.end <= i.end
}

func (i interval) overlaps(o interval) bool {
	return i.start < o.end && i.end > o.start
}

// hourlySlots enumerates whole-hour slots inside a window. Slots start on the
// first full hour at or after the window start and never extend past its end.
func hourlySlots(w interval) []interval {
	var out []interval
	first := (w.start + 59) / 60 * 60
	for s := first; s+60 <= w.end; s += 60 {
		out = append(out, interval{start: s, end: s + 60})
	}
	return out
}

// freeSlots generates the hourly slots of windows whose start does not fall
// inside a booked interval, de-duplicated and in generation order.
func freeSlots(windows []store.AvailabilityWindow, booked []store.Appointment) []Slot {
	var busy []interval
	for _, b := range booked {
		iv, err := parseInterval(b.StartTime, b.EndTime)
		if err != nil {
			continue
		}
		busy = append(busy, iv)
	}

	seen := make(map[interval]bool)
	slots := []Slot{}
	for _, w := range windows {
		wi, err := parseInterval(w.StartTime, w.EndTime)
		if err != nil || wi.start >= wi.end {
			continue
		}
		for _, s := range hourlySlots(wi) {
			if seen[s] || startsInside(s.start, busy) {
				continue
			}
			seen[s] = true
			slots = append(slots, Slot{StartTime: formatClock(s.start), EndTime: formatClock(s.end), Available: true})
		}
	}
	return slots
}

func startsInside(minute int, busy []interval) bool {
	for _, b := range busy {
		if minute >= b.start && minute < b.end {
			return true
		}
	}
	return false
}
