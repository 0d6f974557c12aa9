// Package dragdrop turns pointer positions over a lane into validated
// reschedules of calendar events.
package dragdrop

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"agialcal/internal/availability"
	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
	"agialcal/internal/model"
)

// State is a lane's position in the drag gesture.
type State int

const (
	Idle State = iota
	DragOver
	Dropped
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DragOver:
		return "drag_over"
	case Dropped:
		return "dropped"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{Idle, DragOver, Dropped, Cancelled} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("dragdrop: unknown state %q", b)
}

// Lane is a drop target: one vertical column of the grid.
type Lane struct {
	Key string `json:"key"`
	// Date is the lane's day, "YYYY-MM-DD".
	Date string `json:"date"`
	// TargetKey is the column key given to events dropped here from
	// another lane. Empty keeps the event's own column.
	TargetKey string `json:"target_key,omitempty"`
	// Members are the column keys the lane already shows. Events from a
	// member column keep their key when dropped here.
	Members []string `json:"members,omitempty"`
	// StepMinutes is the configured bookable step for the lane.
	StepMinutes int `json:"step_minutes"`
	// Cycle is what availability is fetched for; zero means none.
	Cycle availability.Key `json:"cycle"`
}

func (l Lane) equal(o Lane) bool {
	return l.Key == o.Key && l.Date == o.Date && l.TargetKey == o.TargetKey &&
		l.StepMinutes == o.StepMinutes && l.Cycle == o.Cycle && slices.Equal(l.Members, o.Members)
}

// retarget returns the column key a drop of an event from column should
// write, or "" when the event stays in its column.
func (l Lane) retarget(column string) string {
	if l.TargetKey == "" || l.TargetKey == column || slices.Contains(l.Members, column) {
		return ""
	}
	return l.TargetKey
}

// Drag describes the dragged item as reported by the front-end.
type Drag struct {
	EventID string `json:"event_id"`
	// EffectAllowed mirrors DataTransfer.effectAllowed.
	EffectAllowed string `json:"effect_allowed,omitempty"`
}

func (d Drag) allowsMove() bool {
	switch strings.ToLower(strings.TrimSpace(d.EffectAllowed)) {
	case "", "move", "copymove", "linkmove", "all", "uninitialized":
		return true
	}
	return false
}

// Indicator is the highlighted drop row.
type Indicator struct {
	Slot  int    `json:"slot"`
	Label string `json:"label"`
	Top   int    `json:"top"`
}

// Result reports what a drop did.
type Result struct {
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	ColumnKey string `json:"column_key,omitempty"`
}

// Events resolves dragged event ids.
type Events interface {
	Event(id string) (model.CalendarEvent, bool)
}

// Mover applies a validated reschedule.
type Mover interface {
	MoveEvent(ctx context.Context, id, newStart, newEnd, newColumnKey string) error
}

// Availability answers the lane's current availability set.
type Availability interface {
	Lookup(lane string) availability.Set
}

// Controller runs the Idle -> DragOver -> {Dropped, Cancelled} machine
// for one lane.
type Controller struct {
	lane     Lane
	geom     grid.Geometry
	events   Events
	mover    Mover
	avail    Availability
	failOpen bool
	metrics  *metrics.Calendar

	mu        sync.Mutex
	state     State
	indicator *Indicator
}

// StepSlots is the number of base rows one bookable slot spans, after any
// server-reported step override.
func (c *Controller) StepSlots() int {
	step := c.lane.StepMinutes
	if c.avail != nil {
		step = c.avail.Lookup(c.lane.Key).StepMinutes(step, c.geom.SlotMinutes)
	}
	return c.geom.StepSlots(step)
}

// Droppable reports whether slot is step-aligned, on the grid and allowed
// by the lane's availability.
func (c *Controller) Droppable(slot int) bool {
	if !c.geom.InRange(slot) || slot%c.StepSlots() != 0 {
		return false
	}
	if !c.tracked() {
		return true
	}
	return c.avail.Lookup(c.lane.Key).Allows(c.geom.SlotLabel(slot), c.failOpen)
}

// tracked reports whether the lane's slots are gated by availability.
func (c *Controller) tracked() bool {
	return c.avail != nil && c.lane.Cycle != (availability.Key{})
}

// State returns the current state and indicator.
func (c *Controller) State() (State, *Indicator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indicator == nil {
		return c.state, nil
	}
	ind := *c.indicator
	return c.state, &ind
}

// draggable resolves the event and checks it may move; reason is empty
// when it may.
func (c *Controller) draggable(d Drag) (model.CalendarEvent, string) {
	if !d.allowsMove() {
		return model.CalendarEvent{}, "effect not allowed"
	}
	ev, ok := c.events.Event(d.EventID)
	if !ok {
		return model.CalendarEvent{}, "unknown event"
	}
	if !ev.Status.Draggable() {
		return model.CalendarEvent{}, "status " + string(ev.Status) + " is locked"
	}
	return ev, ""
}

// Over handles a pointer move at y pixels from the lane top. The returned
// indicator is nil when the slot is not a valid target.
func (c *Controller) Over(d Drag, y float64) (*Indicator, State) {
	if _, reason := c.draggable(d); reason != "" {
		c.cancel(reason)
		return nil, Cancelled
	}

	slot := c.geom.PixelToSlotIndex(y)
	var ind *Indicator
	if c.Droppable(slot) {
		ind = &Indicator{Slot: slot, Label: c.geom.SlotLabel(slot), Top: c.geom.PixelOffset(slot)}
	}

	c.mu.Lock()
	c.state = DragOver
	c.indicator = ind
	c.mu.Unlock()
	if ind == nil {
		return nil, DragOver
	}
	out := *ind
	return &out, DragOver
}

// Leave ends the gesture outside the lane.
func (c *Controller) Leave() {
	c.cancel("left lane")
}

// Cancel aborts the gesture.
func (c *Controller) Cancel() {
	c.cancel("cancelled")
}

func (c *Controller) cancel(reason string) {
	c.mu.Lock()
	c.state = Cancelled
	c.indicator = nil
	c.mu.Unlock()
	c.metrics.ObserveDrop("cancelled")
	appLog.Debug("dragdrop: gesture cancelled", "lane", c.lane.Key, "reason", reason)
}

// Drop re-validates the target slot and, when valid, moves the event to it
// with a single-slot duration. Invalid targets are inert: the result says
// Cancelled and nothing is changed or sent. The error is the mover's.
func (c *Controller) Drop(ctx context.Context, d Drag, y float64) (Result, error) {
	ev, reason := c.draggable(d)
	if reason != "" {
		c.cancel(reason)
		return Result{State: Cancelled, Reason: reason}, nil
	}

	slot := c.geom.PixelToSlotIndex(y)
	if !c.Droppable(slot) {
		c.cancel("invalid slot")
		return Result{State: Cancelled, Reason: "invalid slot"}, nil
	}
	if c.tracked() {
		if set := c.avail.Lookup(c.lane.Key); !set.Known || len(set.Labels) == 0 {
			appLog.Warn("dragdrop: availability unknown, allowing drop", "lane", c.lane.Key, "event", ev.ID)
		}
	}

	h, m := c.geom.SlotIndexToTime(slot)
	start := grid.FormatWallClock(c.lane.Date, h, m)
	res := Result{State: Dropped, Start: start, End: start, ColumnKey: ev.ColumnKey}

	newColumn := c.lane.retarget(ev.ColumnKey)
	if newColumn != "" {
		res.ColumnKey = newColumn
	}

	c.mu.Lock()
	c.state = Dropped
	c.indicator = nil
	c.mu.Unlock()
	c.metrics.ObserveDrop("dropped")

	if err := c.mover.MoveEvent(ctx, ev.ID, start, start, newColumn); err != nil {
		return res, err
	}
	return res, nil
}
