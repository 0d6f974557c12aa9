package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := NewClient(Options{BaseURL: ts.URL, SessionID: "sess-1", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
	_, err = NewClient(Options{BaseURL: "localhost"})
	assert.Error(t, err)
}

func TestDefaultDateUnwrapsResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agial/calendar/default-date", r.URL.Path)
		cookie, err := r.Cookie("session_id")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", cookie.Value)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"day":"2026-01-25 00:00:00"}}`))
	})

	d, err := c.DefaultDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC), d)
}

func TestDefaultDateFallsBackToToday(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"day":false}`))
	})
	c.now = func() time.Time { return time.Date(2026, 3, 4, 17, 30, 0, 0, time.Local) }

	d, err := c.DefaultDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", d.Format("2006-01-02"))
}

func TestAppointmentsNormalizes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-25", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"result":{
			"doctors":[{"id":7,"name":"IUI"},{"id":"8","name":"Dr B","specialty":"Oral Surgeon"}],
			"events":[
				{"id":101,"patientName":"A","doctorId":7,"start":"2026-01-25 11:00:00","end":"2026-01-25 11:30:00","status":"in chair","couple":"B","oocyte":4},
				{"id":"102","patient_name":"C","doctor_id":8,"start":"2026-01-25","end":"2026-01-25","status":"weird"},
				{"id":103,"patientName":"D","doctorId":7,"start":"","end":"2026-01-25T09:00:00"},
				{"id":104,"patientName":"E","doctorId":7,"start":"not a date","end":"2026-01-25T09:00:00"},
				{"id":105,"patientName":"F","doctor_id":[8,"Dr B"],"start":"2026-01-25T08:15:00","end":"2026-01-25T08:30:00","status":"PAID","_raw":{"doctor":[8,"Dr B"],"day":"3"}}
			]}}`))
	})

	got, err := c.Appointments(context.Background(), time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, got.Doctors, 2)
	assert.Equal(t, "7", got.Doctors[0].ID)
	assert.Equal(t, "IUI", got.Doctors[0].Specialty, "specialty defaults to the name")
	assert.Equal(t, "Oral Surgeon", got.Doctors[1].Specialty)

	require.Len(t, got.Events, 3)
	e := got.Events[0]
	assert.Equal(t, "101", e.ID)
	assert.Equal(t, "A", e.PatientName)
	assert.Equal(t, "7", e.ColumnKey)
	assert.Equal(t, "2026-01-25T11:00:00", e.Start)
	assert.Equal(t, "IN_CHAIR", string(e.Status))
	assert.Equal(t, map[string]string{"couple": "B", "oocyte": "4"}, e.Raw)

	e = got.Events[1]
	assert.Equal(t, "C", e.PatientName)
	assert.Equal(t, "8", e.ColumnKey)
	assert.Equal(t, "2026-01-25T12:00:00", e.Start)
	assert.Equal(t, "2026-01-25T12:30:00", e.End)
	assert.Equal(t, "CONFIRMED", string(e.Status))

	e = got.Events[2]
	assert.Equal(t, "8", e.ColumnKey)
	assert.Equal(t, "Dr B", e.Raw["doctor"])
	assert.Equal(t, "3", e.Raw["day"])
}

func TestAppointmentsDomainError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"doctors":[],"events":[],"error":"calendar closed"}`))
	})

	_, err := c.Appointments(context.Background(), time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "calendar closed", de.Message)
}

func TestHTTPErrorCarriesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream failed", http.StatusBadGateway)
	})

	_, err := c.Meta(context.Background())
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadGateway, he.Status)
	assert.Equal(t, "upstream failed", he.Text)
}

func TestUpdateAppointmentSendsPlainJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agial/calendar/appointment/update", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{
			"appointment_id": "101",
			"start":          "2026-01-25T08:15:00",
			"end":            "2026-01-25T08:15:00",
		}, body)
		_, _ = w.Write([]byte(`{"success":false,"message":"slot taken"}`))
	})

	res, err := c.UpdateAppointment(context.Background(), UpdateRequest{
		AppointmentID: "101",
		Start:         "2026-01-25T08:15:00",
		End:           "2026-01-25T08:15:00",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "slot taken", res.Message)
}

func TestCreateAppointmentFormEncoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "[1,2]", r.PostForm.Get("requested_services"))
		assert.Equal(t, "", r.PostForm.Get("couple_id"))
		assert.Equal(t, "Jane", r.PostForm.Get("patient_name"))
		_, _ = w.Write([]byte(`{"success":true,"id":55}`))
	})

	values, err := FormValues(map[string]any{
		"requested_services": []int{1, 2},
		"couple_id":          nil,
		"patient_name":       "Jane",
	})
	require.NoError(t, err)
	res, err := c.CreateAppointment(context.Background(), values)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "55", res.ID.String())
}

func TestAvailableSlotsRPCEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var env struct {
			JSONRPC string            `json:"jsonrpc"`
			Method  string            `json:"method"`
			ID      string            `json:"id"`
			Params  map[string]string `json:"params"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "2.0", env.JSONRPC)
		assert.Equal(t, "call", env.Method)
		assert.NotEmpty(t, env.ID)
		assert.Equal(t, map[string]string{"date": "2026-01-25", "cycle_id": "7", "cycle_name": "IUI"}, env.Params)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"x","result":{"all":["08:00 AM","08:20 AM"],"available":["08:20 AM"],"step":"20","service":"IUI"}}`))
	})

	slots, err := c.AvailableSlots(context.Background(), SlotsRequest{Date: "2026-01-25", CycleID: "7", CycleName: "IUI"})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:20 AM"}, slots.Available)
	assert.Len(t, slots.All, 2)
	assert.Equal(t, 20, slots.Step)
	assert.Equal(t, "IUI", slots.Service)
}

func TestRPCErrorObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"x","error":{"code":200,"message":"Odoo Server Error","data":{"message":"Mobile already registered"}}}`))
	})

	_, err := c.CreatePatient(context.Background(), "Jane", "0100")
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Mobile already registered", de.Message)
}

func TestCreatePatient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agial/calendar/patient/create", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{"success":true,"patient_id":901,"name":"Jane"}}`))
	})

	res, err := c.CreatePatient(context.Background(), "Jane", "0100")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 901, res.PatientID.Int())
}

func TestFlexValue(t *testing.T) {
	cases := map[string]string{
		`"abc"`:        "abc",
		`12`:           "12",
		`1.5`:          "1.5",
		`false`:        "",
		`null`:         "",
		`true`:         "true",
		`[3,"Dr X"]`:   "3",
		`{"a":1}`:      "",
		`   "spaced" `: "spaced",
	}
	for in, want := range cases {
		assert.Equal(t, want, flexValue([]byte(in), false), in)
	}
	assert.Equal(t, "Dr X", flexValue([]byte(`[3,"Dr X"]`), true))
}
