// Package store holds the calendar's authoritative client-side state: the
// loaded events and columns, the selected view/date and the filters.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
	"agialcal/internal/model"
	"agialcal/internal/odoo"
)

var (
	// ErrLoadInFlight is returned when a load is requested while another
	// one is still running. The state is left untouched.
	ErrLoadInFlight = errors.New("store: load already in flight")
	// ErrEventNotFound means MoveEvent was given an unknown id.
	ErrEventNotFound = errors.New("store: event not found")
	// ErrRejected wraps a write the server acknowledged with success=false.
	ErrRejected = errors.New("store: server rejected the change")
	// ErrNoAppointments is recorded as LoadError when an empty day was
	// replaced by the demo dataset.
	ErrNoAppointments = errors.New("store: no appointments returned, showing demo data")
	// ErrClosed is returned by loads after Close.
	ErrClosed = errors.New("store: closed")
)

// Backend is the part of the Odoo client the store drives.
type Backend interface {
	DefaultDate(ctx context.Context) (time.Time, error)
	Appointments(ctx context.Context, day time.Time) (odoo.Appointments, error)
	UpdateAppointment(ctx context.Context, req odoo.UpdateRequest) (odoo.WriteResult, error)
}

// Deps are the store's collaborators and policies.
type Deps struct {
	Backend Backend
	// DemoFallback swaps an empty or failed load for the demo dataset.
	DemoFallback bool
	WeekStart    time.Weekday
	Metrics      *metrics.Calendar
	// WeekConcurrency bounds the parallel day fetches of LoadWeek.
	WeekConcurrency int
	Now             func() time.Time
}

// State is a snapshot of the store.
type State struct {
	View model.View
	// Date is the selected day. The demo fallback moves it to DemoDate.
	Date    time.Time
	Doctors []model.Doctor
	Events  []model.CalendarEvent
	Filters Filters

	// LoadError is the reason the last load did not produce live data.
	LoadError error
	Demo      bool

	Loaded     bool
	LoadedView model.View
	// LoadedDate is the date that was requested, before any fallback.
	LoadedDate time.Time
}

func (st State) clone() State {
	out := st
	out.Doctors = append([]model.Doctor(nil), st.Doctors...)
	out.Events = make([]model.CalendarEvent, len(st.Events))
	for i, e := range st.Events {
		out.Events[i] = e.Clone()
	}
	out.Filters = st.Filters.clone()
	return out
}

// Store is safe for concurrent use. Loads are serialized by an in-flight
// flag; moves are not serialized against loads and rely on the reload that
// follows every write.
type Store struct {
	backend      Backend
	demoFallback bool
	weekStart    time.Weekday
	metrics      *metrics.Calendar
	weekLimit    int
	now          func() time.Time

	mu    sync.RWMutex
	state State

	loading atomic.Bool
	// stale is set when a write lands while a load is in flight, so the
	// running load goes around once more.
	stale  atomic.Bool
	closed atomic.Bool
}

// New creates an empty store showing today's day view.
func New(deps Deps) *Store {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	limit := deps.WeekConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Store{
		backend:      deps.Backend,
		demoFallback: deps.DemoFallback,
		weekStart:    deps.WeekStart,
		metrics:      deps.Metrics,
		weekLimit:    limit,
		now:          now,
		state: State{
			View: model.ViewDay,
			Date: model.Civil(now()),
			Filters: Filters{
				HiddenStatuses: map[model.Status]bool{},
				HiddenDoctors:  map[string]bool{},
			},
		},
	}
}

// Close releases the store. Later loads fail with ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Event returns a copy of the event with the given id. The draft has id "".
func (s *Store) Event(id string) (model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.state.Events {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return model.CalendarEvent{}, false
}

// SetView switches between day and week layout without loading.
func (s *Store) SetView(v model.View) {
	s.mu.Lock()
	s.state.View = v
	s.mu.Unlock()
}

// SetDate selects a day without loading. While demo data stands in for
// the loaded day, selecting that day again keeps the demo date.
func (s *Store) SetDate(d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Demo && !s.needsLoadLocked(s.state.View, d) {
		return
	}
	s.state.Date = model.Civil(d)
}

// WeekStart is the first weekday of the week view.
func (s *Store) WeekStart() time.Weekday { return s.weekStart }

// NeedsLoad reports whether the loaded data does not cover view/date.
func (s *Store) NeedsLoad(view model.View, date time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsLoadLocked(view, date)
}

func (s *Store) needsLoadLocked(view model.View, date time.Time) bool {
	st := s.state
	if !st.Loaded || st.LoadedView != view {
		return true
	}
	if view == model.ViewWeek {
		return !model.StartOfWeek(st.LoadedDate, s.weekStart).Equal(model.StartOfWeek(date, s.weekStart))
	}
	return !model.SameDay(st.LoadedDate, date)
}

// DefaultDate asks the backend for the opening day, falling back to today.
func (s *Store) DefaultDate(ctx context.Context) time.Time {
	d, err := s.backend.DefaultDate(ctx)
	if err != nil {
		appLog.Error("store: default date failed, using today", err)
		return model.Civil(s.now())
	}
	return d
}

// Load replaces events and doctors with the given day. The returned error
// is the recorded LoadError (nil on a live load), or ErrLoadInFlight /
// ErrClosed when nothing happened.
func (s *Store) Load(ctx context.Context, date time.Time) error {
	return s.run(ctx, model.ViewDay, model.Civil(date))
}

// LoadWeek replaces events and doctors with the week containing date.
func (s *Store) LoadWeek(ctx context.Context, date time.Time) error {
	return s.run(ctx, model.ViewWeek, model.Civil(date))
}

// Reload repeats the load for the selected view and date.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.RLock()
	view, date := s.state.View, s.state.Date
	if s.state.Loaded {
		view, date = s.state.LoadedView, s.state.LoadedDate
	}
	s.mu.RUnlock()
	return s.run(ctx, view, date)
}

func (s *Store) run(ctx context.Context, view model.View, date time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.loading.CompareAndSwap(false, true) {
		return ErrLoadInFlight
	}

	for {
		err := s.loadOnce(ctx, view, date)
		// loading is cleared before stale is read; reconcile relies on
		// that order to pick up a flag set after this check.
		s.loading.Store(false)
		if !s.stale.Swap(false) || ctx.Err() != nil {
			return err
		}
		if !s.loading.CompareAndSwap(false, true) {
			// Another load started and will see the write.
			return err
		}
		appLog.Debug("store: write landed during load, reloading", "date", model.FormatDay(date))
	}
}

func (s *Store) loadOnce(ctx context.Context, view model.View, date time.Time) error {
	var (
		res odoo.Appointments
		err error
	)
	if view == model.ViewWeek {
		res, err = s.fetchWeek(ctx, date)
	} else {
		res, err = s.backend.Appointments(ctx, date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.View = view
	s.state.Loaded = true
	s.state.LoadedView = view
	s.state.LoadedDate = date

	switch {
	case err != nil:
		s.metrics.ObserveLoad(string(view), "error")
		appLog.Error("store: load failed", err, "view", string(view), "date", model.FormatDay(date))
		if s.demoFallback {
			s.applyDemo(err)
		} else {
			s.state.Date = date
			s.state.Doctors = nil
			s.state.Events = nil
			s.state.Demo = false
			s.state.LoadError = err
		}
	case len(res.Events) == 0 && s.demoFallback:
		s.metrics.ObserveLoad(string(view), "demo")
		appLog.Warn("store: no appointments, falling back to demo data", "view", string(view), "date", model.FormatDay(date))
		s.applyDemo(ErrNoAppointments)
	default:
		s.metrics.ObserveLoad(string(view), "ok")
		s.state.Date = date
		s.state.Doctors = withSynthesized(res.Doctors, res.Events)
		s.state.Events = res.Events
		s.state.Demo = false
		s.state.LoadError = nil
	}
	return s.state.LoadError
}

func (s *Store) applyDemo(reason error) {
	s.state.Date = DemoDate
	s.state.Doctors = demoDoctors()
	s.state.Events = demoEvents()
	s.state.Demo = true
	s.state.LoadError = reason
}

func (s *Store) fetchWeek(ctx context.Context, date time.Time) (odoo.Appointments, error) {
	days := model.WeekDays(date, s.weekStart)
	results := make([]odoo.Appointments, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.weekLimit)
	for i, day := range days {
		g.Go(func() error {
			res, err := s.backend.Appointments(gctx, day)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return odoo.Appointments{}, fmt.Errorf("load week of %s: %w", model.FormatDay(days[0]), err)
	}

	var merged odoo.Appointments
	seen := map[string]bool{}
	for _, r := range results {
		for _, d := range r.Doctors {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			merged.Doctors = append(merged.Doctors, d)
		}
		merged.Events = append(merged.Events, r.Events...)
	}
	return merged, nil
}

// withSynthesized appends a placeholder column for every event column key
// that no doctor declares, in first-seen order.
func withSynthesized(doctors []model.Doctor, events []model.CalendarEvent) []model.Doctor {
	known := make(map[string]bool, len(doctors))
	out := append([]model.Doctor(nil), doctors...)
	for _, d := range doctors {
		known[d.ID] = true
	}
	for _, e := range events {
		if known[e.ColumnKey] {
			continue
		}
		known[e.ColumnKey] = true
		out = append(out, model.SynthesizeDoctor(e.ColumnKey))
	}
	return out
}

// MoveEvent applies a new start/end (and column, when newColumnKey is not
// empty) locally, then sends one update request. Whatever the outcome, the
// store then reloads from the server; the local change is never undone by
// hand. The draft (empty id) and demo rows are moved locally only.
func (s *Store) MoveEvent(ctx context.Context, id, newStart, newEnd, newColumnKey string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.state.Events {
		if s.state.Events[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("move %q: %w", id, ErrEventNotFound)
	}
	ev := &s.state.Events[idx]
	columnChanged := newColumnKey != "" && newColumnKey != ev.ColumnKey
	ev.Start = newStart
	ev.End = newEnd
	if columnChanged {
		ev.ColumnKey = newColumnKey
	}
	localOnly := ev.IsDraft() || s.state.Demo
	s.mu.Unlock()

	if localOnly {
		s.metrics.ObserveMove("local")
		return nil
	}

	req := odoo.UpdateRequest{AppointmentID: id, Start: newStart, End: newEnd}
	if columnChanged {
		req.CycleID = newColumnKey
	}
	res, err := s.backend.UpdateAppointment(ctx, req)
	switch {
	case err != nil:
		s.metrics.ObserveMove("error")
		err = fmt.Errorf("move %s: %w", id, err)
	case !res.Success:
		s.metrics.ObserveMove("rejected")
		msg := res.Message
		if msg == "" {
			msg = "update returned success=false"
		}
		err = fmt.Errorf("move %s: %w: %s", id, ErrRejected, msg)
	default:
		s.metrics.ObserveMove("ok")
	}

	s.reconcile(ctx)
	return err
}

// SetDraft places the unsaved booking on the grid, replacing any previous
// draft. Reloads drop it.
func (s *Store) SetDraft(e model.CalendarEvent) {
	e = e.Clone()
	e.ID = ""
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.state.Events[:0:0]
	for _, ev := range s.state.Events {
		if !ev.IsDraft() {
			events = append(events, ev)
		}
	}
	s.state.Events = append(events, e)
}

// Reconcile reloads authoritative state after a server write.
func (s *Store) Reconcile(ctx context.Context) {
	s.reconcile(ctx)
}

func (s *Store) reconcile(ctx context.Context) {
	err := s.Reload(ctx)
	switch {
	case errors.Is(err, ErrLoadInFlight):
		s.stale.Store(true)
		// The running load may have finished its stale check already.
		if !s.loading.Load() && s.stale.Swap(false) {
			s.reconcile(ctx)
		}
	case err != nil && !errors.Is(err, ErrNoAppointments) && !errors.Is(err, ErrClosed):
		appLog.Warn("store: reconcile reload did not return live data", "err", err)
	}
}
