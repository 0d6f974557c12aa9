package ics

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agialcal/internal/model"
)

func TestWriteFloatingEvents(t *testing.T) {
	events := []model.CalendarEvent{
		{
			ID: "101", PatientName: "Jane Roe", Status: model.StatusPaid,
			Start: "2026-01-25T11:00:00", End: "2026-01-25T11:30:00",
			Raw: map[string]string{"service": "ICSI", "doctor": "Dr. A", "couple": ""},
		},
		{ID: "", PatientName: "draft", Start: "2026-01-25T09:00:00", End: "2026-01-25T09:15:00"},
		{ID: "102", Start: "bad", End: "2026-01-25T09:15:00"},
		{ID: "103", Status: model.StatusConfirmed, Start: "2026-01-25T08:05:00", End: "2026-01-25T08:05:00"},
	}

	var buf bytes.Buffer
	err := Write(&buf, events, Options{
		Name: "Agial",
		Now:  func() time.Time { return time.Date(2026, 1, 25, 6, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	cal, err := ical.ParseCalendar(&buf)
	require.NoError(t, err)
	got := cal.Events()
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "101@agialcal", first.Id())
	assert.Equal(t, "20260125T110000", first.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20260125T113000", first.GetProperty(ical.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "Jane Roe", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Paid", first.GetProperty(ical.ComponentPropertyCategories).Value)
	desc := first.GetProperty(ical.ComponentPropertyDescription).Value
	assert.Contains(t, desc, "doctor: Dr. A")
	assert.Contains(t, desc, "service: ICSI")
	assert.NotContains(t, desc, "couple")

	second := got[1]
	assert.Equal(t, "Appointment 103", second.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyDescription))
}
