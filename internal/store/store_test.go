package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agialcal/internal/model"
	"agialcal/internal/odoo"
)

type fakeBackend struct {
	mu      sync.Mutex
	days    map[string]odoo.Appointments
	err     error
	updates []odoo.UpdateRequest
	result  odoo.WriteResult
	loads   int
	block   chan struct{}
}

func (f *fakeBackend) DefaultDate(context.Context) (time.Time, error) {
	return time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC), nil
}

func (f *fakeBackend) Appointments(_ context.Context, day time.Time) (odoo.Appointments, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return odoo.Appointments{}, f.err
	}
	res := f.days[model.FormatDay(day)]
	out := odoo.Appointments{Doctors: append([]model.Doctor(nil), res.Doctors...)}
	for _, e := range res.Events {
		out.Events = append(out.Events, e.Clone())
	}
	return out, nil
}

func (f *fakeBackend) UpdateAppointment(_ context.Context, req odoo.UpdateRequest) (odoo.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return f.result, nil
}

func day(s string) time.Time {
	d, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func liveDay() odoo.Appointments {
	return odoo.Appointments{
		Doctors: []model.Doctor{
			{ID: "7", Name: "IUI", Specialty: "IUI"},
			{ID: "8", Name: "ICSI", Specialty: "ICSI"},
		},
		Events: []model.CalendarEvent{
			{ID: "101", PatientName: "A", ColumnKey: "7", Start: "2026-01-27T11:00:00", End: "2026-01-27T11:20:00", Status: model.StatusConfirmed},
			{ID: "102", PatientName: "B", ColumnKey: "99", Start: "2026-01-27T09:00:00", End: "2026-01-27T09:15:00", Status: model.StatusArrived},
		},
	}
}

func TestLoadLiveDay(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{"2026-01-27": liveDay()}}
	s := New(Deps{Backend: b, DemoFallback: true})
	defer s.Close()

	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))
	st := s.Snapshot()
	assert.False(t, st.Demo)
	assert.Equal(t, "2026-01-27", model.FormatDay(st.Date))
	require.Len(t, st.Events, 2)
	require.Len(t, st.Doctors, 3, "unknown column 99 is synthesized")
	assert.True(t, st.Doctors[2].Synthesized)
	assert.Equal(t, "99", st.Doctors[2].ID)
}

func TestLoadEmptyFallsBackToDemo(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{}}
	s := New(Deps{Backend: b, DemoFallback: true})

	err := s.Load(context.Background(), day("2026-02-10"))
	assert.ErrorIs(t, err, ErrNoAppointments)

	st := s.Snapshot()
	assert.True(t, st.Demo)
	assert.Error(t, st.LoadError)
	assert.Equal(t, "2026-01-25", model.FormatDay(st.Date))
	assert.Equal(t, demoEvents(), st.Events)
	assert.Equal(t, demoDoctors(), st.Doctors)
	assert.Equal(t, "2026-02-10", model.FormatDay(st.LoadedDate))
}

func TestLoadFailureWithoutFallback(t *testing.T) {
	boom := errors.New("connection refused")
	b := &fakeBackend{err: boom}
	s := New(Deps{Backend: b})

	err := s.Load(context.Background(), day("2026-02-10"))
	assert.ErrorIs(t, err, boom)
	st := s.Snapshot()
	assert.False(t, st.Demo)
	assert.Empty(t, st.Events)
	assert.ErrorIs(t, st.LoadError, boom)
}

func TestLoadEmptyWithoutFallbackIsEmptyGrid(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{
		"2026-02-10": {Doctors: []model.Doctor{{ID: "7", Name: "IUI", Specialty: "IUI"}}},
	}}
	s := New(Deps{Backend: b})

	require.NoError(t, s.Load(context.Background(), day("2026-02-10")))
	st := s.Snapshot()
	assert.Empty(t, st.Events)
	assert.Len(t, st.Doctors, 1)
	assert.NoError(t, st.LoadError)
}

func TestLoadIsIdempotent(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{"2026-01-27": liveDay()}}
	s := New(Deps{Backend: b, DemoFallback: true})

	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))
	first := s.Snapshot()
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))
	second := s.Snapshot()
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.Doctors, second.Doctors)
}

func TestConcurrentLoadIsRejected(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{"2026-01-27": liveDay()}, block: make(chan struct{})}
	s := New(Deps{Backend: b})

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background(), day("2026-01-27")) }()

	require.Eventually(t, func() bool { return s.loading.Load() }, time.Second, time.Millisecond)
	before := s.Snapshot()
	assert.ErrorIs(t, s.Load(context.Background(), day("2026-01-28")), ErrLoadInFlight)
	assert.Equal(t, before, s.Snapshot())

	close(b.block)
	require.NoError(t, <-done)
	assert.Len(t, s.Snapshot().Events, 2)
}

func TestMoveEventRejectedReconcilesToServerTruth(t *testing.T) {
	b := &fakeBackend{
		days:   map[string]odoo.Appointments{"2026-01-27": liveDay()},
		result: odoo.WriteResult{Success: false, Message: "slot taken"},
	}
	s := New(Deps{Backend: b, DemoFallback: true})
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))

	err := s.MoveEvent(context.Background(), "101", "2026-01-27T08:15:00", "2026-01-27T08:15:00", "8")
	assert.ErrorIs(t, err, ErrRejected)

	require.Len(t, b.updates, 1)
	assert.Equal(t, odoo.UpdateRequest{
		AppointmentID: "101",
		Start:         "2026-01-27T08:15:00",
		End:           "2026-01-27T08:15:00",
		CycleID:       "8",
	}, b.updates[0])

	fresh := New(Deps{Backend: b, DemoFallback: true})
	require.NoError(t, fresh.Load(context.Background(), day("2026-01-27")))
	assert.Equal(t, fresh.Snapshot().Events, s.Snapshot().Events)
}

func TestMoveEventSuccessSendsNoCycleForSameColumn(t *testing.T) {
	b := &fakeBackend{
		days:   map[string]odoo.Appointments{"2026-01-27": liveDay()},
		result: odoo.WriteResult{Success: true},
	}
	s := New(Deps{Backend: b})
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))
	loadsBefore := b.loads

	require.NoError(t, s.MoveEvent(context.Background(), "101", "2026-01-27T09:00:00", "2026-01-27T09:00:00", "7"))
	require.Len(t, b.updates, 1)
	assert.Empty(t, b.updates[0].CycleID)
	assert.Equal(t, loadsBefore+1, b.loads, "every write is followed by a reload")
}

func TestMoveEventUnknown(t *testing.T) {
	s := New(Deps{Backend: &fakeBackend{}})
	err := s.MoveEvent(context.Background(), "nope", "", "", "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestMoveDemoEventIsLocal(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{}}
	s := New(Deps{Backend: b, DemoFallback: true})
	_ = s.Load(context.Background(), day("2026-02-10"))

	require.NoError(t, s.MoveEvent(context.Background(), "e1", "2026-01-25T08:15:00", "2026-01-25T08:15:00", ""))
	assert.Empty(t, b.updates)
	ev := s.Snapshot().Events[0]
	assert.Equal(t, "2026-01-25T08:15:00", ev.Start)
	assert.Equal(t, ev.Start, ev.End)
}

func TestSelectingLoadedDayKeepsDemoDate(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{}}
	s := New(Deps{Backend: b, DemoFallback: true})
	_ = s.Load(context.Background(), day("2026-02-10"))

	s.SetDate(day("2026-02-10"))
	assert.False(t, s.NeedsLoad(model.ViewDay, day("2026-02-10")))
	st := s.Snapshot()
	assert.Equal(t, "2026-01-25", model.FormatDay(st.Date))
	assert.True(t, st.Demo)

	s.SetDate(day("2026-02-11"))
	assert.Equal(t, "2026-02-11", model.FormatDay(s.Snapshot().Date))
	assert.True(t, s.NeedsLoad(model.ViewDay, day("2026-02-11")))
}

func TestWriteDuringLoadTriggersAnotherLoad(t *testing.T) {
	b := &fakeBackend{
		days:   map[string]odoo.Appointments{"2026-01-27": liveDay()},
		result: odoo.WriteResult{Success: true},
	}
	s := New(Deps{Backend: b})
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))
	require.Equal(t, 1, b.loads)

	b.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Reload(context.Background()) }()
	require.Eventually(t, func() bool { return s.loading.Load() }, time.Second, time.Millisecond)

	// The reconcile after this write finds the load running.
	require.NoError(t, s.MoveEvent(context.Background(), "101", "2026-01-27T09:00:00", "2026-01-27T09:00:00", ""))
	assert.True(t, s.stale.Load())
	assert.Equal(t, "2026-01-27T09:00:00", mustEvent(t, s, "101").Start)

	close(b.block)
	require.NoError(t, <-done)

	b.mu.Lock()
	loads := b.loads
	b.mu.Unlock()
	assert.Equal(t, 3, loads)
	assert.False(t, s.stale.Load())
	assert.False(t, s.loading.Load())
	assert.Equal(t, "2026-01-27T11:00:00", mustEvent(t, s, "101").Start)
}

func mustEvent(t *testing.T, s *Store, id string) model.CalendarEvent {
	t.Helper()
	ev, ok := s.Event(id)
	require.True(t, ok)
	return ev
}

func TestDraftMovesLocally(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{"2026-01-27": liveDay()}}
	s := New(Deps{Backend: b})
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))

	s.SetDraft(model.CalendarEvent{ID: "ignored", PatientName: "New", ColumnKey: "7", Start: "2026-01-27T10:00:00", End: "2026-01-27T10:00:00", Status: model.StatusOnTheFly})
	s.SetDraft(model.CalendarEvent{PatientName: "Newer", ColumnKey: "7", Start: "2026-01-27T10:00:00", End: "2026-01-27T10:00:00", Status: model.StatusOnTheFly})
	require.Len(t, s.Snapshot().Events, 3, "only one draft at a time")

	require.NoError(t, s.MoveEvent(context.Background(), "", "2026-01-27T10:30:00", "2026-01-27T10:30:00", "8"))
	assert.Empty(t, b.updates)
	st := s.Snapshot()
	assert.Equal(t, "8", st.Events[2].ColumnKey)
	assert.Equal(t, "Newer", st.Events[2].PatientName)
}

func TestLoadWeekMergesDays(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{
		"2026-01-25": {
			Doctors: []model.Doctor{{ID: "7", Name: "IUI", Specialty: "IUI"}},
			Events:  []model.CalendarEvent{{ID: "1", ColumnKey: "7", Start: "2026-01-25T09:00:00", End: "2026-01-25T09:20:00", Status: model.StatusConfirmed}},
		},
		"2026-01-27": liveDay(),
	}}
	s := New(Deps{Backend: b, WeekStart: time.Sunday})

	require.NoError(t, s.LoadWeek(context.Background(), day("2026-01-28")))
	st := s.Snapshot()
	assert.Equal(t, model.ViewWeek, st.View)
	assert.Equal(t, 7, b.loads)
	require.Len(t, st.Events, 3)
	assert.Equal(t, "1", st.Events[0].ID, "events keep day order")
	ids := make([]string, 0, len(st.Doctors))
	for _, d := range st.Doctors {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"7", "8", "99"}, ids)

	assert.False(t, s.NeedsLoad(model.ViewWeek, day("2026-01-31")))
	assert.True(t, s.NeedsLoad(model.ViewWeek, day("2026-02-01")))
	assert.True(t, s.NeedsLoad(model.ViewDay, day("2026-01-28")))
}

func TestFilters(t *testing.T) {
	b := &fakeBackend{days: map[string]odoo.Appointments{"2026-01-27": liveDay()}}
	s := New(Deps{Backend: b})
	require.NoError(t, s.Load(context.Background(), day("2026-01-27")))

	s.ToggleStatus(model.StatusPaid)
	f := s.Snapshot().Filters
	assert.False(t, f.StatusVisible(model.StatusPaid))
	assert.Len(t, f.ActiveStatuses(), 6)

	s.ToggleStatus(model.StatusPaid)
	assert.True(t, s.Snapshot().Filters.StatusVisible(model.StatusPaid))

	s.ClearStatuses()
	assert.Empty(t, s.Snapshot().Filters.ActiveStatuses())
	s.SelectAllStatuses()
	assert.Len(t, s.Snapshot().Filters.ActiveStatuses(), 7)

	s.ClearDoctors()
	st := s.Snapshot()
	assert.Empty(t, st.Filters.ActiveDoctors(st.Doctors))
	assert.Equal(t, []string{"7", "8", "99"}, st.Filters.HiddenDoctorIDs())
	s.ToggleDoctor("8")
	assert.True(t, s.Snapshot().Filters.DoctorVisible("8"))
	s.SelectAllDoctors()
	assert.Empty(t, s.Snapshot().Filters.HiddenDoctorIDs())
}

func TestClosedStoreRejectsLoads(t *testing.T) {
	s := New(Deps{Backend: &fakeBackend{}})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Load(context.Background(), day("2026-01-27")), ErrClosed)
}
