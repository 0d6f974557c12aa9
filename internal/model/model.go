// Package model holds the calendar's domain types: appointments, the
// doctor/cycle columns they belong to, and the status enumeration.
package model

import (
	"strings"
)

// Status is an appointment's workflow state as reported by Odoo.
type Status string

const (
	StatusOnTheFly  Status = "ON_THE_FLY"
	StatusConfirmed Status = "CONFIRMED"
	StatusArrived   Status = "ARRIVED"
	StatusInChair   Status = "IN_CHAIR"
	StatusInPayment Status = "IN_PAYMENT"
	StatusPaid      Status = "PAID"
	StatusClosed    Status = "CLOSED"
)

// AllStatuses lists every status in display order.
func AllStatuses() []Status {
	return []Status{
		StatusOnTheFly,
		StatusConfirmed,
		StatusArrived,
		StatusInChair,
		StatusInPayment,
		StatusPaid,
		StatusClosed,
	}
}

// NormalizeStatus maps backend strings ("in chair", "Paid") onto the
// enumeration. Unknown values become CONFIRMED.
func NormalizeStatus(s string) Status {
	upper := strings.ToUpper(strings.Join(strings.Fields(s), "_"))
	st := Status(upper)
	if st.Valid() {
		return st
	}
	return StatusConfirmed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnTheFly, StatusConfirmed, StatusArrived, StatusInChair,
		StatusInPayment, StatusPaid, StatusClosed:
		return true
	}
	return false
}

// Label is the human-readable name shown in filters and tooltips.
func (s Status) Label() string {
	switch s {
	case StatusOnTheFly:
		return "On The Fly"
	case StatusConfirmed:
		return "Confirmed"
	case StatusArrived:
		return "Arrived"
	case StatusInChair:
		return "In Chair"
	case StatusInPayment:
		return "In Payment"
	case StatusPaid:
		return "Paid"
	case StatusClosed:
		return "Closed"
	}
	return string(s)
}

// Color is the CSS color used for the event box and the filter dot.
func (s Status) Color() string {
	switch s {
	case StatusOnTheFly:
		return "#38bdf8"
	case StatusConfirmed:
		return "#10b981"
	case StatusArrived:
		return "#3b82f6"
	case StatusInChair:
		return "#8b5cf6"
	case StatusInPayment:
		return "#f97316"
	case StatusPaid:
		return "#16a34a"
	case StatusClosed:
		return "#f43f5e"
	}
	return "#9ca3af"
}

// Draggable reports whether an appointment in this state may be moved on
// the grid. Once payment has started the slot is fixed.
func (s Status) Draggable() bool {
	switch s {
	case StatusOnTheFly, StatusConfirmed, StatusArrived, StatusInChair:
		return true
	case StatusInPayment, StatusPaid, StatusClosed:
		return false
	}
	return false
}

// CalendarEvent is one scheduled appointment instance.
type CalendarEvent struct {
	// ID is Odoo's record id; empty for an unsaved draft.
	ID          string `json:"id"`
	PatientName string `json:"patient_name"`
	// ColumnKey is the doctor/cycle id the event belongs to.
	ColumnKey string `json:"column_key"`
	// Start and End are wall-clock "YYYY-MM-DDTHH:MM:SS" strings with no zone.
	Start  string `json:"start"`
	End    string `json:"end"`
	Status Status `json:"status"`
	// Raw carries extra display fields (doctor, couple, oocyte, services...).
	Raw map[string]string `json:"raw,omitempty"`
}

// IsDraft reports whether the event has never been saved.
func (e CalendarEvent) IsDraft() bool { return e.ID == "" }

// Day returns the "YYYY-MM-DD" part of Start, or "" when Start is too short.
func (e CalendarEvent) Day() string {
	if len(e.Start) < 10 {
		return ""
	}
	return e.Start[:10]
}

// Clone returns a copy that shares nothing with e.
func (e CalendarEvent) Clone() CalendarEvent {
	out := e
	if e.Raw != nil {
		out.Raw = make(map[string]string, len(e.Raw))
		for k, v := range e.Raw {
			out.Raw[k] = v
		}
	}
	return out
}

// Doctor is a lane source: a doctor, or in Odoo's setup a treatment cycle.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	// Synthesized marks columns invented for events whose doctor was unknown.
	Synthesized bool `json:"synthesized,omitempty"`
}

// UnknownSpecialty groups synthesized columns in the day view.
const UnknownSpecialty = "Unassigned"

// SynthesizeDoctor builds a placeholder column for an unknown column key.
func SynthesizeDoctor(id string) Doctor {
	name := "Unknown doctor"
	if id != "" {
		name += " (" + id + ")"
	}
	return Doctor{ID: id, Name: name, Specialty: UnknownSpecialty, Synthesized: true}
}

// View selects the calendar layout.
type View string

const (
	ViewDay  View = "day"
	ViewWeek View = "week"
)

// ParseView maps a query/config string to a View, defaulting to day.
func ParseView(s string) View {
	if strings.EqualFold(strings.TrimSpace(s), string(ViewWeek)) {
		return ViewWeek
	}
	return ViewDay
}
