package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWallClock(t *testing.T) {
	w, ok := ParseWallClock("2026-01-25T11:00:00")
	assert.True(t, ok)
	assert.Equal(t, WallClock{Date: "2026-01-25", Hour: 11, Minute: 0}, w)

	w, ok = ParseWallClock("2026-01-25 08:15")
	assert.True(t, ok)
	assert.Equal(t, "2026-01-25T08:15:00", w.String())

	// A trailing zone designator is ignored rather than converted.
	w, ok = ParseWallClock("2026-01-25T23:30:00Z")
	assert.True(t, ok)
	assert.Equal(t, 23, w.Hour)

	for _, bad := range []string{"", "2026-01-25", "2026-01-25T25:00:00", "2026-01-25Tab:cd"} {
		_, ok := ParseWallClock(bad)
		assert.False(t, ok, bad)
	}
}

func TestBox(t *testing.T) {
	g := Default()

	b := g.Box("2026-01-25T11:00:00", "2026-01-25T11:30:00")
	assert.Equal(t, Box{Top: 36 * 24, Height: 6 * 24}, b)

	// Zero-length (single slot after a drop) is one row tall.
	b = g.Box("2026-01-25T08:15:00", "2026-01-25T08:15:00")
	assert.Equal(t, Box{Top: 72, Height: 24}, b)

	// Negative duration collapses to one row.
	b = g.Box("2026-01-25T09:00:00", "2026-01-25T08:00:00")
	assert.Equal(t, 24, b.Height)

	// Starts before the grid: clamped to the top edge.
	b = g.Box("2026-01-25T07:00:00", "2026-01-25T08:30:00")
	assert.Equal(t, 0, b.Top)
	assert.Equal(t, 6*24, b.Height)

	// Runs past the bottom edge.
	b = g.Box("2026-01-25T14:50:00", "2026-01-25T18:00:00")
	assert.Equal(t, 82*24, b.Top)
	assert.Equal(t, g.Height()-b.Top, b.Height)

	// After the grid entirely.
	b = g.Box("2026-01-25T19:00:00", "2026-01-25T19:30:00")
	assert.Equal(t, g.Height()-2, b.Top)
	assert.Equal(t, MinBoxHeight, b.Height)

	// Unparseable start.
	b = g.Box("garbage", "")
	assert.Equal(t, Box{Top: 0, Height: MinBoxHeight}, b)
}
