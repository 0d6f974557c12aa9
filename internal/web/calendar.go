package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"agialcal/internal/availability"
	"agialcal/internal/dragdrop"
	"agialcal/internal/grid"
	"agialcal/internal/ics"
	appLog "agialcal/internal/log"
	"agialcal/internal/model"
	"agialcal/internal/store"
	"agialcal/internal/view"
)

const icsCacheTTL = 30 * time.Second

// icsCache holds a rendered feed and the view/date it was rendered for.
type icsCache struct {
	key       string
	body      []byte
	updatedAt time.Time
}

// selection resolves the view and date a request asks for. Missing values
// keep the store's current selection; a store that never loaded asks the
// backend for its opening day.
func (s *Server) selection(r *http.Request) (model.View, time.Time, error) {
	st := s.store.Snapshot()
	q := r.URL.Query()

	v := st.View
	if raw := q.Get("view"); raw != "" {
		v = model.ParseView(raw)
	}

	raw := strings.TrimSpace(q.Get("date"))
	switch {
	case raw != "":
		d, err := model.ParseDay(raw)
		if err != nil {
			return "", time.Time{}, err
		}
		return v, d, nil
	case st.Loaded:
		return v, st.LoadedDate, nil
	default:
		return v, s.store.DefaultDate(r.Context()), nil
	}
}

// open selects view/date and loads it when the loaded data does not cover
// it. A failed load is not an error here: the store records LoadError and
// the layout reports it.
func (s *Server) open(ctx context.Context, v model.View, date time.Time) error {
	s.store.SetView(v)
	s.store.SetDate(date)
	if !s.store.NeedsLoad(v, date) {
		return nil
	}
	var err error
	if v == model.ViewWeek {
		err = s.store.LoadWeek(ctx, date)
	} else {
		err = s.store.Load(ctx, date)
	}
	if err != nil && !isRecordedLoadError(err) {
		return err
	}
	return nil
}

// current composes the store's state and points the drag board at the
// resulting lanes. Availability lookups are awaited so the returned layout
// already carries server step overrides.
func (s *Server) current(ctx context.Context) view.Layout {
	l := view.Compose(s.store.Snapshot(), s.layout)
	if s.board == nil {
		return l
	}
	if err := s.board.Sync(ctx, l.DropLanes()); err != nil {
		appLog.ErrorCtx(ctx, "web: availability sync failed", err)
	}
	if s.avail != nil {
		l = view.Compose(s.store.Snapshot(), s.layout)
	}
	return l
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	v, date, err := s.selection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if err := s.open(r.Context(), v, date); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.current(r.Context()))
}

// handleReload drops cached availability and reloads the selected view.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.avail != nil {
		s.avail.Invalidate(ctx)
	}
	if err := s.store.Reload(ctx); err != nil && !isRecordedLoadError(err) {
		writeFailure(w, r, err)
		return
	}
	s.dropICSCache()
	writeJSON(w, http.StatusOK, s.current(ctx))
}

type gridResponse struct {
	Geometry    grid.Geometry  `json:"geometry"`
	Labels      []string       `json:"labels"`
	Height      int            `json:"height"`
	DefaultStep int            `json:"default_step"`
	CycleSteps  map[string]int `json:"cycle_steps,omitempty"`
	// TimeOptions is filled when ?cycle= names a cycle.
	TimeOptions []string `json:"time_options,omitempty"`
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	g := s.layout.Geometry
	resp := gridResponse{
		Geometry:    g,
		Labels:      g.Labels(),
		Height:      g.Height(),
		DefaultStep: s.layout.Steps.StepMinutes(""),
		CycleSteps:  s.layout.Steps.ByCycle,
	}
	if cycle := r.URL.Query().Get("cycle"); cycle != "" && s.booking != nil {
		resp.TimeOptions = s.booking.TimeOptions(cycle)
	}
	writeJSON(w, http.StatusOK, resp)
}

// filtersRequest changes the filter chips. Toggles flip one entry; the
// bulk fields take "all" or "none".
type filtersRequest struct {
	ToggleStatus string `json:"toggle_status,omitempty"`
	ToggleDoctor string `json:"toggle_doctor,omitempty"`
	Statuses     string `json:"statuses,omitempty"`
	Doctors      string `json:"doctors,omitempty"`
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToggleStatus != "" && !model.Status(req.ToggleStatus).Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+req.ToggleStatus)
		return
	}
	if !bulkValid(req.Statuses) || !bulkValid(req.Doctors) {
		writeError(w, http.StatusBadRequest, `bulk selection must be "all" or "none"`)
		return
	}

	switch req.Statuses {
	case "all":
		s.store.SelectAllStatuses()
	case "none":
		s.store.ClearStatuses()
	}
	switch req.Doctors {
	case "all":
		s.store.SelectAllDoctors()
	case "none":
		s.store.ClearDoctors()
	}
	if req.ToggleStatus != "" {
		s.store.ToggleStatus(model.Status(req.ToggleStatus))
	}
	if req.ToggleDoctor != "" {
		s.store.ToggleDoctor(req.ToggleDoctor)
	}
	s.dropICSCache()
	writeJSON(w, http.StatusOK, s.current(r.Context()))
}

func bulkValid(v string) bool {
	return v == "" || v == "all" || v == "none"
}

// draftRequest places the unsaved booking draft on the grid.
type draftRequest struct {
	ColumnKey   string `json:"column_key"`
	PatientName string `json:"patient_name,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, ok1 := grid.ParseWallClock(req.Start)
	end, ok2 := grid.ParseWallClock(req.End)
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DDTHH:MM:SS")
		return
	}
	s.store.SetDraft(model.CalendarEvent{
		PatientName: req.PatientName,
		ColumnKey:   req.ColumnKey,
		Start:       start.String(),
		End:         end.String(),
		Status:      model.StatusConfirmed,
	})
	writeJSON(w, http.StatusOK, s.current(r.Context()))
}

type availabilityResponse struct {
	Lane    string           `json:"lane"`
	Tracked bool             `json:"tracked"`
	Key     availability.Key `json:"key"`
	Set     availability.Set `json:"set"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	lane := r.URL.Query().Get("lane")
	if lane == "" {
		writeError(w, http.StatusBadRequest, "lane is required")
		return
	}
	if s.avail == nil {
		writeJSON(w, http.StatusOK, availabilityResponse{Lane: lane})
		return
	}
	key, tracked := s.avail.Tracked(lane)
	writeJSON(w, http.StatusOK, availabilityResponse{
		Lane:    lane,
		Tracked: tracked,
		Key:     key,
		Set:     s.avail.Lookup(lane),
	})
}

// dragRequest is a pointer event over a lane, y in pixels from the lane top.
type dragRequest struct {
	Lane string `json:"lane"`
	dragdrop.Drag
	Y float64 `json:"y"`
}

type overResponse struct {
	State     dragdrop.State      `json:"state"`
	Indicator *dragdrop.Indicator `json:"indicator"`
}

type dropResponse struct {
	Result dragdrop.Result `json:"result"`
	Layout view.Layout     `json:"layout"`
}

func (s *Server) laneController(w http.ResponseWriter, r *http.Request) (*dragdrop.Controller, dragRequest, bool) {
	var req dragRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, req, false
	}
	if s.board == nil {
		writeError(w, http.StatusServiceUnavailable, "drag and drop is not configured")
		return nil, req, false
	}
	c, ok := s.board.Lane(req.Lane)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown lane "+req.Lane)
		return nil, req, false
	}
	return c, req, true
}

func (s *Server) handleDragOver(w http.ResponseWriter, r *http.Request) {
	c, req, ok := s.laneController(w, r)
	if !ok {
		return
	}
	ind, state := c.Over(req.Drag, req.Y)
	writeJSON(w, http.StatusOK, overResponse{State: state, Indicator: ind})
}

func (s *Server) handleDragCancel(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.laneController(w, r)
	if !ok {
		return
	}
	c.Leave()
	state, _ := c.State()
	writeJSON(w, http.StatusOK, overResponse{State: state})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	c, req, ok := s.laneController(w, r)
	if !ok {
		return
	}
	res, err := c.Drop(r.Context(), req.Drag, req.Y)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if res.State == dragdrop.Dropped {
		s.dropICSCache()
	}
	writeJSON(w, http.StatusOK, dropResponse{Result: res, Layout: s.current(r.Context())})
}

// handleICS exports the visible events of the selected view.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	v, date, err := s.selection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	key := string(v) + "|" + model.FormatDay(date)

	s.icsMu.RLock()
	ic := s.icsCache
	s.icsMu.RUnlock()
	if ic != nil && ic.key == key && time.Since(ic.updatedAt) < icsCacheTTL {
		writeCalendar(w, ic.body)
		return
	}

	if err := s.open(r.Context(), v, date); err != nil {
		writeFailure(w, r, err)
		return
	}
	l := view.Compose(s.store.Snapshot(), s.layout)

	var buf bytes.Buffer
	if err := ics.Write(&buf, l.VisibleEvents(), ics.Options{Name: "Agial " + l.Date}); err != nil {
		writeFailure(w, r, err)
		return
	}

	s.icsMu.Lock()
	s.icsCache = &icsCache{key: key, body: buf.Bytes(), updatedAt: time.Now()}
	s.icsMu.Unlock()
	writeCalendar(w, buf.Bytes())
}

func writeCalendar(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) dropICSCache() {
	s.icsMu.Lock()
	s.icsCache = nil
	s.icsMu.Unlock()
}

// isRecordedLoadError reports whether a load error was recorded in the
// store state (and therefore shown in the layout) rather than preventing
// the load.
func isRecordedLoadError(err error) bool {
	return !errors.Is(err, store.ErrLoadInFlight) && !errors.Is(err, store.ErrClosed)
}
