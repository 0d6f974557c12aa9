// Package grid maps wall-clock times onto the calendar's pixel grid.
//
// The grid has one fine base resolution (SlotMinutes, 5 by default) shared by
// every lane. Lanes book at a coarser step (15 or 20 minutes) expressed as a
// whole number of base rows, so lanes with different native granularities stay
// pixel-aligned without rounding.
package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Geometry describes the visible grid. The zero value is not usable; build
// one with New or Default.
type Geometry struct {
	StartHour   int `json:"start_hour"`
	EndHour     int `json:"end_hour"`
	SlotMinutes int `json:"slot_minutes"`
	SlotHeight  int `json:"slot_height"`
}

// Default is 08:00–15:00 in 5-minute rows, 24px each.
func Default() Geometry {
	return Geometry{StartHour: 8, EndHour: 15, SlotMinutes: 5, SlotHeight: 24}
}

// New validates and returns a geometry.
func New(startHour, endHour, slotMinutes, slotHeight int) (Geometry, error) {
	g := Geometry{StartHour: startHour, EndHour: endHour, SlotMinutes: slotMinutes, SlotHeight: slotHeight}
	switch {
	case startHour < 0 || endHour > 24 || endHour <= startHour:
		return Geometry{}, fmt.Errorf("grid: invalid hour range %d-%d", startHour, endHour)
	case slotMinutes <= 0 || ((endHour-startHour)*60)%slotMinutes != 0:
		return Geometry{}, fmt.Errorf("grid: slot of %d minutes does not divide the range", slotMinutes)
	case slotHeight <= 0:
		return Geometry{}, fmt.Errorf("grid: slot height must be positive, got %d", slotHeight)
	}
	return g, nil
}

// TotalSlots is the number of base rows.
func (g Geometry) TotalSlots() int {
	return (g.EndHour - g.StartHour) * 60 / g.SlotMinutes
}

// Height is the grid's total pixel height.
func (g Geometry) Height() int {
	return g.TotalSlots() * g.SlotHeight
}

// TimeToSlotIndex returns the base row of a time of day, truncated toward zero.
// The result may be outside [0, TotalSlots); callers clamp before layout.
func (g Geometry) TimeToSlotIndex(hour, minute int) int {
	return ((hour*60 + minute) - g.StartHour*60) / g.SlotMinutes
}

// SlotIndexToTime is the inverse of TimeToSlotIndex for slot boundaries.
func (g Geometry) SlotIndexToTime(index int) (hour, minute int) {
	total := g.StartHour*60 + index*g.SlotMinutes
	return total / 60, total % 60
}

// PixelOffset is the top edge of a row.
func (g Geometry) PixelOffset(index int) int {
	return index * g.SlotHeight
}

// PixelToSlotIndex floors y to a row index. Negative y yields a negative index.
func (g Geometry) PixelToSlotIndex(y float64) int {
	return int(math.Floor(y / float64(g.SlotHeight)))
}

// InRange reports whether index is a real row.
func (g Geometry) InRange(index int) bool {
	return index >= 0 && index < g.TotalSlots()
}

// Clamp forces index into [0, TotalSlots-1].
func (g Geometry) Clamp(index int) int {
	if index < 0 {
		return 0
	}
	if last := g.TotalSlots() - 1; index > last {
		return last
	}
	return index
}

// SlotLabel is the 12-hour label of a row.
func (g Geometry) SlotLabel(index int) string {
	return To12Hour(g.SlotIndexToTime(index))
}

// Labels returns one 12-hour label per base row.
func (g Geometry) Labels() []string {
	out := make([]string, g.TotalSlots())
	for i := range out {
		out[i] = g.SlotLabel(i)
	}
	return out
}

// StepSlots converts a step in minutes to base rows, rounding up so a step
// never lands between rows. Non-positive steps mean one row.
func (g Geometry) StepSlots(stepMinutes int) int {
	if stepMinutes <= g.SlotMinutes {
		return 1
	}
	return (stepMinutes + g.SlotMinutes - 1) / g.SlotMinutes
}

// BookingCutoffMinutes is how long before the end of the grid the last
// bookable start must fall.
const BookingCutoffMinutes = 15

// StepOptions lists the bookable 12-hour labels at the given step, starting at
// the top of the grid and stopping before the booking cutoff.
func (g Geometry) StepOptions(stepMinutes int) []string {
	step := g.StepSlots(stepMinutes)
	last := g.EndHour*60 - BookingCutoffMinutes
	out := make([]string, 0, g.TotalSlots()/step+1)
	for i := 0; i < g.TotalSlots(); i += step {
		if h, m := g.SlotIndexToTime(i); h*60+m >= last {
			break
		}
		out = append(out, g.SlotLabel(i))
	}
	return out
}

// To12Hour renders "hh:mm AM/PM". Hours 0 and 12 both render as 12.
func To12Hour(hour, minute int) string {
	ampm := "AM"
	if hour >= 12 {
		ampm = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, minute, ampm)
}

// Parse12Hour reads labels produced by To12Hour (and "8:05 pm" variants).
func Parse12Hour(label string) (hour, minute int, err error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	clock, ampm, ok := strings.Cut(s, " ")
	if !ok {
		return 0, 0, fmt.Errorf("grid: %q has no AM/PM marker", label)
	}
	hs, ms, ok := strings.Cut(clock, ":")
	if !ok {
		return 0, 0, fmt.Errorf("grid: %q has no minutes", label)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 1 || h > 12 {
		return 0, 0, fmt.Errorf("grid: bad hour in %q", label)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("grid: bad minute in %q", label)
	}
	switch strings.TrimSpace(ampm) {
	case "AM":
		if h == 12 {
			h = 0
		}
	case "PM":
		if h != 12 {
			h += 12
		}
	default:
		return 0, 0, fmt.Errorf("grid: bad AM/PM marker in %q", label)
	}
	return h, m, nil
}
