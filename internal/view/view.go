// Package view composes store state into positioned lanes for the day and
// week layouts.
package view

import (
	"sort"
	"time"

	"agialcal/internal/availability"
	"agialcal/internal/dragdrop"
	"agialcal/internal/grid"
	"agialcal/internal/model"
	"agialcal/internal/store"
)

// Availability is consulted for server step overrides.
type Availability interface {
	Lookup(lane string) availability.Set
}

// Options controls composition.
type Options struct {
	Geometry     grid.Geometry
	Steps        grid.StepRules
	WeekStart    time.Weekday
	Availability Availability
}

// EventBox is an event placed inside a lane.
type EventBox struct {
	model.CalendarEvent
	grid.Box
	// Column/Columns split overlapping events side by side.
	Column     int    `json:"column"`
	Columns    int    `json:"columns"`
	Color      string `json:"color"`
	Label      string `json:"status_label"`
	Draggable  bool   `json:"draggable"`
	StartLabel string `json:"start_label"`
}

// Lane is one rendered column.
type Lane struct {
	dragdrop.Lane
	Title       string         `json:"title"`
	Doctors     []model.Doctor `json:"doctors,omitempty"`
	StepSlots   int            `json:"step_slots"`
	Synthesized bool           `json:"synthesized,omitempty"`
	Events      []EventBox     `json:"events"`
}

// StatusChip is a status filter entry.
type StatusChip struct {
	Status model.Status `json:"status"`
	Label  string       `json:"label"`
	Color  string       `json:"color"`
	Active bool         `json:"active"`
}

// DoctorChip is a doctor filter entry.
type DoctorChip struct {
	model.Doctor
	Active bool `json:"active"`
}

// Layout is everything a renderer needs for one screen.
type Layout struct {
	View       model.View   `json:"view"`
	Date       string       `json:"date"`
	Days       []string     `json:"days,omitempty"`
	Labels     []string     `json:"labels"`
	SlotHeight int          `json:"slot_height"`
	Height     int          `json:"height"`
	Lanes      []Lane       `json:"lanes"`
	Statuses   []StatusChip `json:"statuses"`
	Doctors    []DoctorChip `json:"doctors"`
	Demo       bool         `json:"demo"`
	LoadError  string       `json:"load_error,omitempty"`
}

// DropLanes returns the drop targets of the layout.
func (l Layout) DropLanes() []dragdrop.Lane {
	out := make([]dragdrop.Lane, 0, len(l.Lanes))
	for _, ln := range l.Lanes {
		out = append(out, ln.Lane)
	}
	return out
}

// VisibleEvents flattens the placed events of every lane.
func (l Layout) VisibleEvents() []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ln := range l.Lanes {
		for _, e := range ln.Events {
			out = append(out, e.CalendarEvent)
		}
	}
	return out
}

// Compose renders st in its selected view.
func Compose(st store.State, opts Options) Layout {
	if st.View == model.ViewWeek {
		return Week(st, opts)
	}
	return Day(st, opts)
}

func base(st store.State, opts Options) Layout {
	l := Layout{
		View:       st.View,
		Date:       model.FormatDay(st.Date),
		Labels:     opts.Geometry.Labels(),
		SlotHeight: opts.Geometry.SlotHeight,
		Height:     opts.Geometry.Height(),
		Demo:       st.Demo,
	}
	if st.LoadError != nil {
		l.LoadError = st.LoadError.Error()
	}
	for _, s := range model.AllStatuses() {
		l.Statuses = append(l.Statuses, StatusChip{
			Status: s,
			Label:  s.Label(),
			Color:  s.Color(),
			Active: st.Filters.StatusVisible(s),
		})
	}
	for _, d := range st.Doctors {
		l.Doctors = append(l.Doctors, DoctorChip{Doctor: d, Active: st.Filters.DoctorVisible(d.ID)})
	}
	return l
}

// Day groups the selected day's visible events into one lane per
// specialty, or per doctor when a doctor has no specialty. Events are
// joined to doctors by column key; an unknown key gets a fallback lane.
func Day(st store.State, opts Options) Layout {
	l := base(st, opts)
	l.View = model.ViewDay
	date := model.FormatDay(st.Date)

	var visible []model.CalendarEvent
	for _, e := range st.Events {
		if st.Filters.Visible(e) && e.Day() == date {
			visible = append(visible, e)
		}
	}

	byID := map[string]model.Doctor{}
	var lanes []*Lane
	laneOf := map[string]*Lane{}

	addDoctor := func(d model.Doctor) *Lane {
		key, title := groupKey(d)
		if ln, ok := laneOf[key]; ok {
			ln.Doctors = append(ln.Doctors, d)
			ln.Members = append(ln.Members, d.ID)
			return ln
		}
		ln := &Lane{
			Lane:        dragdrop.Lane{Key: key, Date: date, Members: []string{d.ID}},
			Title:       title,
			Doctors:     []model.Doctor{d},
			Synthesized: d.Synthesized,
		}
		if !d.Synthesized {
			ln.TargetKey = d.ID
			ln.Cycle = availability.Key{Date: date, CycleID: d.ID, CycleName: title}
		}
		laneOf[key] = ln
		lanes = append(lanes, ln)
		return ln
	}

	for _, d := range st.Doctors {
		if !st.Filters.DoctorVisible(d.ID) {
			continue
		}
		byID[d.ID] = d
		if d.Synthesized {
			// Only shown when an event lands in it.
			continue
		}
		addDoctor(d)
	}

	members := map[*Lane][]model.CalendarEvent{}
	for _, e := range visible {
		d, ok := byID[e.ColumnKey]
		if !ok {
			d = model.SynthesizeDoctor(e.ColumnKey)
			byID[e.ColumnKey] = d
		}
		key, _ := groupKey(d)
		ln, ok := laneOf[key]
		if !ok {
			ln = addDoctor(d)
		} else if d.Synthesized && !hasDoctor(ln, d.ID) {
			ln.Doctors = append(ln.Doctors, d)
			ln.Members = append(ln.Members, d.ID)
		}
		members[ln] = append(members[ln], e)
	}

	for _, ln := range lanes {
		finishLane(ln, members[ln], opts)
		l.Lanes = append(l.Lanes, *ln)
	}
	return l
}

// Week lays out the seven days of the week containing the selected date,
// one lane per day.
func Week(st store.State, opts Options) Layout {
	l := base(st, opts)
	l.View = model.ViewWeek

	days := model.WeekDays(st.Date, opts.WeekStart)
	byDay := map[string][]model.CalendarEvent{}
	for _, e := range st.Events {
		if st.Filters.Visible(e) {
			byDay[e.Day()] = append(byDay[e.Day()], e)
		}
	}
	for _, d := range days {
		date := model.FormatDay(d)
		l.Days = append(l.Days, date)
		ln := &Lane{
			Lane:  dragdrop.Lane{Key: "day:" + date, Date: date},
			Title: d.Format("Mon 2 Jan"),
		}
		finishLane(ln, byDay[date], opts)
		l.Lanes = append(l.Lanes, *ln)
	}
	return l
}

func groupKey(d model.Doctor) (key, title string) {
	if d.Specialty != "" {
		return "specialty:" + d.Specialty, d.Specialty
	}
	return "doctor:" + d.ID, d.Name
}

func hasDoctor(ln *Lane, id string) bool {
	for _, d := range ln.Doctors {
		if d.ID == id {
			return true
		}
	}
	return false
}

func finishLane(ln *Lane, events []model.CalendarEvent, opts Options) {
	if ln.Synthesized || ln.Cycle == (availability.Key{}) {
		ln.StepMinutes = opts.Steps.StepMinutes("")
	} else {
		ln.StepMinutes = opts.Steps.StepMinutes(ln.Title)
	}
	step := ln.StepMinutes
	if opts.Availability != nil {
		step = opts.Availability.Lookup(ln.Key).StepMinutes(step, opts.Geometry.SlotMinutes)
	}
	ln.StepSlots = opts.Geometry.StepSlots(step)
	ln.Events = place(events, opts.Geometry)
}

// place positions events and splits overlapping runs into sub-columns.
func place(events []model.CalendarEvent, g grid.Geometry) []EventBox {
	boxes := make([]EventBox, 0, len(events))
	for _, e := range events {
		b := EventBox{
			CalendarEvent: e.Clone(),
			Box:           g.Box(e.Start, e.End),
			Color:         e.Status.Color(),
			Label:         e.Status.Label(),
			Draggable:     e.Status.Draggable(),
		}
		if w, ok := grid.ParseWallClock(e.Start); ok {
			b.StartLabel = grid.To12Hour(w.Hour, w.Minute)
		}
		boxes = append(boxes, b)
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Top < boxes[j].Top })

	// Greedy column assignment per cluster of transitively overlapping boxes.
	var (
		clusterStart int
		clusterEnd   int
		colEnds      []int
	)
	flush := func(end int) {
		for k := clusterStart; k < end; k++ {
			boxes[k].Columns = len(colEnds)
		}
	}
	for i := range boxes {
		top, bottom := boxes[i].Top, boxes[i].Top+boxes[i].Height
		if i > 0 && top >= clusterEnd {
			flush(i)
			clusterStart = i
			colEnds = colEnds[:0]
		}
		col := -1
		for c, end := range colEnds {
			if end <= top {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(colEnds)
			colEnds = append(colEnds, bottom)
		} else {
			colEnds[col] = bottom
		}
		boxes[i].Column = col
		if i == clusterStart || bottom > clusterEnd {
			clusterEnd = bottom
		}
	}
	flush(len(boxes))
	return boxes
}
