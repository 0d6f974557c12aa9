package store

import (
	"sort"

	"agialcal/internal/model"
)

// Filters hides statuses and doctors from the composed views. Filters are
// kept as hidden sets so that doctors appearing in a later load show up
// by default.
type Filters struct {
	HiddenStatuses map[model.Status]bool `json:"-"`
	HiddenDoctors  map[string]bool       `json:"-"`
}

// StatusVisible reports whether events in status s pass the filter.
func (f Filters) StatusVisible(s model.Status) bool {
	return !f.HiddenStatuses[s]
}

// DoctorVisible reports whether events in column id pass the filter.
func (f Filters) DoctorVisible(id string) bool {
	return !f.HiddenDoctors[id]
}

// Visible applies both filters to an event.
func (f Filters) Visible(e model.CalendarEvent) bool {
	return f.StatusVisible(e.Status) && f.DoctorVisible(e.ColumnKey)
}

// ActiveStatuses lists the visible statuses in display order.
func (f Filters) ActiveStatuses() []model.Status {
	out := make([]model.Status, 0, len(model.AllStatuses()))
	for _, s := range model.AllStatuses() {
		if f.StatusVisible(s) {
			out = append(out, s)
		}
	}
	return out
}

// ActiveDoctors lists the visible ids among doctors.
func (f Filters) ActiveDoctors(doctors []model.Doctor) []string {
	out := make([]string, 0, len(doctors))
	for _, d := range doctors {
		if f.DoctorVisible(d.ID) {
			out = append(out, d.ID)
		}
	}
	return out
}

func (f Filters) clone() Filters {
	out := Filters{
		HiddenStatuses: make(map[model.Status]bool, len(f.HiddenStatuses)),
		HiddenDoctors:  make(map[string]bool, len(f.HiddenDoctors)),
	}
	for k, v := range f.HiddenStatuses {
		if v {
			out.HiddenStatuses[k] = true
		}
	}
	for k, v := range f.HiddenDoctors {
		if v {
			out.HiddenDoctors[k] = true
		}
	}
	return out
}

// HiddenDoctorIDs lists hidden column ids in sorted order.
func (f Filters) HiddenDoctorIDs() []string {
	out := make([]string, 0, len(f.HiddenDoctors))
	for id, hidden := range f.HiddenDoctors {
		if hidden {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ToggleStatus flips the visibility of one status.
func (s *Store) ToggleStatus(st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Filters.HiddenStatuses[st] {
		delete(s.state.Filters.HiddenStatuses, st)
		return
	}
	s.state.Filters.HiddenStatuses[st] = true
}

// SelectAllStatuses shows every status.
func (s *Store) SelectAllStatuses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Filters.HiddenStatuses = map[model.Status]bool{}
}

// ClearStatuses hides every status.
func (s *Store) ClearStatuses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	hidden := map[model.Status]bool{}
	for _, st := range model.AllStatuses() {
		hidden[st] = true
	}
	s.state.Filters.HiddenStatuses = hidden
}

// ToggleDoctor flips the visibility of one doctor column.
func (s *Store) ToggleDoctor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Filters.HiddenDoctors[id] {
		delete(s.state.Filters.HiddenDoctors, id)
		return
	}
	s.state.Filters.HiddenDoctors[id] = true
}

// SelectAllDoctors shows every doctor column.
func (s *Store) SelectAllDoctors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Filters.HiddenDoctors = map[string]bool{}
}

// ClearDoctors hides every currently known doctor column.
func (s *Store) ClearDoctors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	hidden := map[string]bool{}
	for _, d := range s.state.Doctors {
		hidden[d.ID] = true
	}
	s.state.Filters.HiddenDoctors = hidden
}
