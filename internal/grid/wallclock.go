package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// WallClock is a zone-less calendar timestamp split into its parts.
type WallClock struct {
	Date   string // YYYY-MM-DD
	Hour   int
	Minute int
}

// ParseWallClock reads "YYYY-MM-DDTHH:MM[:SS]" (or a space separator) by
// substring. The string is never run through a zoned time value, so a
// timestamp means the same wall-clock time wherever the process runs.
func ParseWallClock(s string) (WallClock, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 16 || (s[10] != 'T' && s[10] != ' ') || s[13] != ':' {
		return WallClock{}, false
	}
	h, err := strconv.Atoi(s[11:13])
	if err != nil || h < 0 || h > 23 {
		return WallClock{}, false
	}
	m, err := strconv.Atoi(s[14:16])
	if err != nil || m < 0 || m > 59 {
		return WallClock{}, false
	}
	return WallClock{Date: s[:10], Hour: h, Minute: m}, true
}

// String renders "YYYY-MM-DDTHH:MM:00".
func (w WallClock) String() string {
	return FormatWallClock(w.Date, w.Hour, w.Minute)
}

// Minutes is minutes since midnight.
func (w WallClock) Minutes() int {
	return w.Hour*60 + w.Minute
}

// FormatWallClock joins a date and a time of day into the wire format.
func FormatWallClock(date string, hour, minute int) string {
	return fmt.Sprintf("%sT%02d:%02d:00", date, hour, minute)
}

// Box is the vertical placement of an event inside a lane.
type Box struct {
	Top    int `json:"top"`
	Height int `json:"height"`
}

// MinBoxHeight keeps zero-length and unparseable events visible.
const MinBoxHeight = 8

// Box places [start, end) on the grid. Times outside the visible range are
// clamped to the grid edges; a missing, unparseable or non-positive duration
// collapses to one base row.
func (g Geometry) Box(start, end string) Box {
	gridHeight := g.Height()

	s, ok := ParseWallClock(start)
	if !ok {
		return Box{Top: 0, Height: g.minHeight()}
	}
	topMinutes := s.Minutes() - g.StartHour*60
	top := topMinutes * g.SlotHeight / g.SlotMinutes

	height := g.SlotHeight
	if e, ok := ParseWallClock(end); ok && e.Date == s.Date {
		if d := e.Minutes() - s.Minutes(); d > 0 {
			height = d * g.SlotHeight / g.SlotMinutes
		}
	}

	if top < 0 {
		height += top
		top = 0
	}
	if top > gridHeight-2 {
		top = gridHeight - 2
	}
	if height > gridHeight-top {
		height = gridHeight - top
	}
	if height < g.minHeight() {
		height = g.minHeight()
	}
	return Box{Top: top, Height: height}
}

func (g Geometry) minHeight() int {
	if g.SlotHeight < MinBoxHeight {
		return g.SlotHeight
	}
	return MinBoxHeight
}

// StepRules resolves a lane's bookable step from its cycle-type name.
type StepRules struct {
	Default int
	ByCycle map[string]int
}

// StepMinutes returns the step for cycleName, matching names case-insensitively.
func (r StepRules) StepMinutes(cycleName string) int {
	name := strings.TrimSpace(cycleName)
	for k, v := range r.ByCycle {
		if v > 0 && strings.EqualFold(k, name) {
			return v
		}
	}
	if r.Default > 0 {
		return r.Default
	}
	return 15
}
