// Package booking validates and submits the appointment booking form.
package booking

import (
	"fmt"
	"net/url"
	"strings"

	"agialcal/internal/grid"
	"agialcal/internal/model"
	"agialcal/internal/odoo"
)

// Mode says whether Submit creates an appointment or edits one.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Appointment states accepted by the Odoo on-the-fly model.
const (
	StateOnTheFly  = "onthefly"
	StateConfirmed = "confirmed"
)

var (
	semenSources = []string{"semen_fresh", "semen_frozen", "tese_fresh", "tese_frozen"}
	biopsyTypes  = []string{"PGD", "PGT-A", "PGT-M"}
)

// Form is the booking popup's data.
type Form struct {
	// AppointmentID is required in edit mode.
	AppointmentID string `json:"appointment_id,omitempty"`

	ExistingPatient bool   `json:"exist_patient"`
	PatientID       string `json:"patient_id,omitempty"`
	PatientName     string `json:"patient_name"`
	PatientPhone    string `json:"patient_phone,omitempty"`
	PatientAge      string `json:"patient_age,omitempty"`
	MFN             string `json:"mfn,omitempty"`
	MRN             string `json:"mrn,omitempty"`

	CoupleID    string `json:"couple_id,omitempty"`
	CoupleName  string `json:"couple_name,omitempty"`
	CouplePhone string `json:"couple_phone,omitempty"`
	CoupleAge   string `json:"couple_age,omitempty"`
	CoupleMRN   string `json:"couple_mrn,omitempty"`

	CycleID    string `json:"cycle_id"`
	CycleName  string `json:"cycle_name"`
	DoctorID   string `json:"doctor_id"`
	DoctorName string `json:"doctor_name,omitempty"`
	// Date is "YYYY-MM-DD" and Time a 12-hour label ("08:15 AM").
	Date string `json:"date"`
	Time string `json:"time"`

	RequestedServices  []int  `json:"requested_services,omitempty"`
	AdditionalServices string `json:"additional_services,omitempty"`

	Oocytes             string `json:"no_of_oocytes,omitempty"`
	SemenSource         string `json:"semen_source,omitempty"`
	Day                 string `json:"day,omitempty"`
	Biopsy              string `json:"biopsy,omitempty"`
	Service             string `json:"service,omitempty"`
	ServiceForRetrieval string `json:"service_for_retrieval,omitempty"`
	Amount              string `json:"amount,omitempty"`
	TriggerDate         string `json:"trigger_date,omitempty"`
	ActualTriggerDate   string `json:"actual_trigger_date,omitempty"`
	Notes               string `json:"notes,omitempty"`

	// State is StateOnTheFly or StateConfirmed; empty means confirmed.
	State string `json:"state,omitempty"`
}

// FieldError names one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a form. It is returned
// before anything is sent.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid booking: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validate checks the required fields (date, patient, doctor, cycle, time)
// and the enumerated ones.
func (f Form) Validate(mode Mode) error {
	verr := &ValidationError{}

	if mode == ModeEdit && strings.TrimSpace(f.AppointmentID) == "" {
		verr.add("appointment_id", "required when editing")
	}
	if strings.TrimSpace(f.Date) == "" {
		verr.add("date", "required")
	} else if _, err := model.ParseDay(f.Date); err != nil {
		verr.add("date", "must be YYYY-MM-DD")
	}
	if strings.TrimSpace(f.PatientID) == "" && strings.TrimSpace(f.PatientName) == "" {
		verr.add("patient", "select a patient or enter a name")
	}
	if strings.TrimSpace(f.DoctorID) == "" {
		verr.add("doctor_id", "required")
	}
	if strings.TrimSpace(f.CycleID) == "" {
		verr.add("cycle_id", "required")
	}
	if strings.TrimSpace(f.Time) == "" {
		verr.add("time", "required")
	} else if _, _, err := grid.Parse12Hour(f.Time); err != nil {
		verr.add("time", "must look like 08:15 AM")
	}
	if f.SemenSource != "" && !contains(semenSources, f.SemenSource) {
		verr.add("semen_source", "unknown value")
	}
	if f.Biopsy != "" && !contains(biopsyTypes, f.Biopsy) {
		verr.add("biopsy", "unknown value")
	}
	if f.State != "" && f.State != StateOnTheFly && f.State != StateConfirmed {
		verr.add("state", "must be onthefly or confirmed")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Start is the appointment's wall-clock start. The form must be valid.
func (f Form) Start() (string, error) {
	d, err := model.ParseDay(f.Date)
	if err != nil {
		return "", err
	}
	h, m, err := grid.Parse12Hour(f.Time)
	if err != nil {
		return "", err
	}
	return grid.FormatWallClock(model.FormatDay(d), h, m), nil
}

// Values encodes the form for the create endpoint.
func (f Form) Values() (url.Values, error) {
	start, err := f.Start()
	if err != nil {
		return nil, fmt.Errorf("booking start: %w", err)
	}
	state := f.State
	if state == "" {
		state = StateConfirmed
	}
	services := f.RequestedServices
	if services == nil {
		services = []int{}
	}
	return odoo.FormValues(map[string]any{
		"exist_patient":         f.ExistingPatient,
		"patient_id":            optional(f.PatientID),
		"patient_name":          f.PatientName,
		"patient_phone":         f.PatientPhone,
		"patient_age":           f.PatientAge,
		"mfn":                   f.MFN,
		"mrn":                   f.MRN,
		"couple_id":             optional(f.CoupleID),
		"couple_name":           f.CoupleName,
		"couple_phone":          f.CouplePhone,
		"couple_age":            f.CoupleAge,
		"couple_mrn":            f.CoupleMRN,
		"cycle_id":              f.CycleID,
		"cycle_name":            f.CycleName,
		"primary_doctor_id":     f.DoctorID,
		"primary_doctor_name":   f.DoctorName,
		"trigger_app_date":      f.Date,
		"tr_appointment_time":   f.Time,
		"start":                 start,
		"requested_services":    services,
		"additional_services":   f.AdditionalServices,
		"no_of_oocytes":         f.Oocytes,
		"semen_source":          f.SemenSource,
		"day":                   f.Day,
		"biopsy":                f.Biopsy,
		"service":               f.Service,
		"service_for_retrieval": f.ServiceForRetrieval,
		"amount":                f.Amount,
		"trigger_date":          f.TriggerDate,
		"actual_trigger_date":   f.ActualTriggerDate,
		"notes":                 f.Notes,
		"onthf_state1":          state,
	})
}

func optional(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
