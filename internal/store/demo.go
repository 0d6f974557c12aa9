package store

import (
	"time"

	"agialcal/internal/model"
)

// DemoDate is the day the demo dataset is laid out on.
var DemoDate = time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)

func demoDoctors() []model.Doctor {
	return []model.Doctor{
		{ID: "d1", Name: "test new doctor pharmacy", Specialty: "General Dentist"},
		{ID: "d2", Name: "Mahmoud Ahmed", Specialty: "Oral Surgeon"},
		{ID: "d4", Name: "Mahmoud Saeed", Specialty: "General Dentist"},
	}
}

func demoEvents() []model.CalendarEvent {
	return []model.CalendarEvent{
		{
			ID:          "e1",
			PatientName: "Mahmoud Ahmed ",
			ColumnKey:   "d1",
			Start:       "2026-01-25T11:00:00",
			End:         "2026-01-25T11:30:00",
			Status:      model.StatusConfirmed,
		},
		{
			ID:          "e2",
			PatientName: "Mahmoud Mohamed",
			ColumnKey:   "d1",
			Start:       "2026-01-25T11:15:00",
			End:         "2026-01-25T11:45:00",
			Status:      model.StatusPaid,
		},
		{
			ID:          "e3",
			PatientName: "Mahmoud Mohamed ",
			ColumnKey:   "d2",
			Start:       "2026-01-25T13:00:00",
			End:         "2026-01-25T13:30:00",
			Status:      model.StatusInPayment,
		},
	}
}
