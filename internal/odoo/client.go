// Package odoo talks to the clinic's /agial/calendar/* controllers.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"

	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
	"agialcal/internal/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 300
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// SessionID seeds the cookie jar with Odoo's session_id cookie.
	SessionID string
	Timeout   time.Duration
	Metrics   *metrics.Calendar
}

// Client wraps the calendar controllers. Cookies set by Odoo are kept in a
// jar and replayed on every call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *metrics.Calendar
	tracer     trace.Tracer
	now        func() time.Time
}

// NewClient builds a client for the Odoo instance at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("odoo base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid odoo base url %q", opts.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if sid := strings.TrimSpace(opts.SessionID); sid != "" {
		jar.SetCookies(u, []*http.Cookie{{Name: "session_id", Value: sid, Path: "/"}})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		baseURL:    base,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("agialcal/internal/odoo"),
		now:        time.Now,
	}, nil
}

// DefaultDate asks the server which day the calendar should open on. A
// missing or unparseable day falls back to today.
func (c *Client) DefaultDate(ctx context.Context) (time.Time, error) {
	var resp struct {
		Day FlexString `json:"day"`
	}
	if err := c.getJSON(ctx, "default_date", "/agial/calendar/default-date", &resp); err != nil {
		return time.Time{}, fmt.Errorf("default date: %w", err)
	}
	d, err := model.ParseDay(resp.Day.String())
	if err != nil {
		return model.Civil(c.now()), nil
	}
	return d, nil
}

// Appointments is one day's worth of columns and events.
type Appointments struct {
	Doctors []model.Doctor
	Events  []model.CalendarEvent
}

// Appointments fetches and normalizes the events for day.
func (c *Client) Appointments(ctx context.Context, day time.Time) (Appointments, error) {
	path := "/agial/calendar/appointments?date=" + url.QueryEscape(model.FormatDay(day))

	var resp struct {
		Doctors []wireDoctor      `json:"doctors"`
		Events  []json.RawMessage `json:"events"`
	}
	if err := c.getJSON(ctx, "appointments", path, &resp); err != nil {
		return Appointments{}, fmt.Errorf("appointments %s: %w", model.FormatDay(day), err)
	}

	out := Appointments{
		Doctors: make([]model.Doctor, 0, len(resp.Doctors)),
		Events:  make([]model.CalendarEvent, 0, len(resp.Events)),
	}
	for _, d := range resp.Doctors {
		out.Doctors = append(out.Doctors, d.normalize())
	}
	dropped := 0
	for _, raw := range resp.Events {
		ev, ok := normalizeEvent(raw)
		if !ok {
			dropped++
			continue
		}
		out.Events = append(out.Events, ev)
	}
	if dropped > 0 {
		appLog.Debug("odoo: dropped events without usable times", "date", model.FormatDay(day), "count", dropped)
	}
	return out, nil
}

// Meta fetches cycles, doctors and patients for the booking form.
func (c *Client) Meta(ctx context.Context) (Meta, error) {
	var m Meta
	if err := c.getJSON(ctx, "meta", "/agial/calendar/meta", &m); err != nil {
		return Meta{}, fmt.Errorf("booking meta: %w", err)
	}
	return m, nil
}

// Services lists requestable services.
func (c *Client) Services(ctx context.Context) ([]Option, error) {
	var resp struct {
		Services []Option `json:"services"`
	}
	if err := c.getJSON(ctx, "services", "/agial/calendar/services", &resp); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	return resp.Services, nil
}

// CreateAppointment posts the booking form as form-encoded values.
func (c *Client) CreateAppointment(ctx context.Context, values url.Values) (WriteResult, error) {
	var res WriteResult
	body := strings.NewReader(values.Encode())
	if err := c.do(ctx, "create_appointment", http.MethodPost, "/agial/calendar/appointment", body, "application/x-www-form-urlencoded", &res); err != nil {
		return WriteResult{}, fmt.Errorf("create appointment: %w", err)
	}
	return res, nil
}

// UpdateAppointment moves an appointment to a new start/end (and cycle).
func (c *Client) UpdateAppointment(ctx context.Context, req UpdateRequest) (WriteResult, error) {
	var res WriteResult
	if err := c.postJSON(ctx, "update_appointment", "/agial/calendar/appointment/update", req, &res); err != nil {
		return WriteResult{}, fmt.Errorf("update appointment %s: %w", req.AppointmentID, err)
	}
	return res, nil
}

// ConfirmAppointment triggers the server's day-handling workflow.
func (c *Client) ConfirmAppointment(ctx context.Context, id string) (WriteResult, error) {
	var res WriteResult
	payload := map[string]string{"appointment_id": id}
	if err := c.postJSON(ctx, "confirm_appointment", "/agial/calendar/appointment/confirm", payload, &res); err != nil {
		return WriteResult{}, fmt.Errorf("confirm appointment %s: %w", id, err)
	}
	return res, nil
}

// UndoConfirmation reverts a confirmation so the appointment is editable again.
func (c *Client) UndoConfirmation(ctx context.Context, id string) (WriteResult, error) {
	var res WriteResult
	payload := map[string]string{"appointment_id": id}
	if err := c.postJSON(ctx, "undo_confirmation", "/agial/calendar/appointment/undo", payload, &res); err != nil {
		return WriteResult{}, fmt.Errorf("undo confirmation %s: %w", id, err)
	}
	return res, nil
}

// AvailableSlots asks which slots of a cycle are still free on a date.
func (c *Client) AvailableSlots(ctx context.Context, req SlotsRequest) (Slots, error) {
	var resp struct {
		All       []FlexString `json:"all"`
		Available []FlexString `json:"available"`
		Step      FlexString   `json:"step"`
		Service   FlexString   `json:"service"`
	}
	if err := c.callRPC(ctx, "available_slots", "/agial/calendar/available-slots", req, &resp); err != nil {
		return Slots{}, fmt.Errorf("available slots %s/%s: %w", req.Date, req.CycleName, err)
	}
	return Slots{
		All:       flexStrings(resp.All),
		Available: flexStrings(resp.Available),
		Step:      resp.Step.Int(),
		Service:   resp.Service.String(),
	}, nil
}

// CreatePatient registers a new patient by name and mobile number.
func (c *Client) CreatePatient(ctx context.Context, name, mobile string) (PatientResult, error) {
	var res PatientResult
	params := map[string]string{"name": name, "mobile": mobile}
	if err := c.callRPC(ctx, "create_patient", "/agial/calendar/patient/create", params, &res); err != nil {
		return PatientResult{}, fmt.Errorf("create patient: %w", err)
	}
	return res, nil
}

type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  any    `json:"params"`
}

func (c *Client) callRPC(ctx context.Context, op, path string, params, out any) error {
	return c.postJSON(ctx, op, path, rpcEnvelope{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      uuid.NewString(),
		Params:  params,
	}, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, "", out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), "application/json", out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "odoo."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("odoo.path", path),
	))
	started := time.Now()
	defer func() {
		c.metrics.ObserveOdooRequest(op, err, time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		appLog.Warn("odoo API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return &HTTPError{Status: resp.StatusCode, Text: msg}
	}

	payload, err := unwrap(respBody)
	if err != nil {
		return err
	}
	if len(payload) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrap strips an optional JSON-RPC {"result": ...} envelope and turns an
// "error" member at either level into a *DomainError.
func unwrap(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return body, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if msg := errorMessage(env["error"]); msg != "" {
		return nil, &DomainError{Message: msg}
	}
	result, ok := env["result"]
	if !ok {
		return body, nil
	}
	result = bytes.TrimSpace(result)
	if len(result) > 0 && result[0] == '{' {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(result, &inner); err == nil {
			if msg := errorMessage(inner["error"]); msg != "" {
				return nil, &DomainError{Message: msg}
			}
		}
	}
	return result, nil
}

// errorMessage extracts text from an error member, which Odoo sends either
// as a string or as {message, data: {message}}.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] != '{' {
		return strings.TrimSpace(flexValue(raw, false))
	}
	var obj struct {
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "unknown error"
	}
	if obj.Data.Message != "" {
		return obj.Data.Message
	}
	if obj.Message != "" {
		return obj.Message
	}
	return "unknown error"
}

type wireDoctor struct {
	ID        FlexString `json:"id"`
	Name      FlexString `json:"name"`
	Specialty FlexString `json:"specialty"`
}

func (d wireDoctor) normalize() model.Doctor {
	specialty := strings.TrimSpace(d.Specialty.String())
	if specialty == "" {
		specialty = d.Name.String()
	}
	return model.Doctor{ID: d.ID.String(), Name: d.Name.String(), Specialty: specialty}
}

type wireEvent struct {
	ID             FlexString  `json:"id"`
	PatientName    *FlexString `json:"patientName"`
	PatientNameAlt FlexString  `json:"patient_name"`
	DoctorID       *FlexString `json:"doctorId"`
	DoctorIDAlt    FlexString  `json:"doctor_id"`
	Start          FlexString  `json:"start"`
	End            FlexString  `json:"end"`
	Status         FlexString  `json:"status"`
}

// rawKeys are the extra per-event fields shown in hover detail.
var rawKeys = []string{"doctor", "couple", "oocyte", "service", "service2", "trigger_date", "day", "biopsy", "cycle"}

func normalizeEvent(data json.RawMessage) (model.CalendarEvent, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return model.CalendarEvent{}, false
	}
	start, ok := normalizeTime(w.Start.String(), "T12:00:00")
	if !ok {
		return model.CalendarEvent{}, false
	}
	end, ok := normalizeTime(w.End.String(), "T12:30:00")
	if !ok {
		return model.CalendarEvent{}, false
	}

	ev := model.CalendarEvent{
		ID:        w.ID.String(),
		ColumnKey: w.DoctorIDAlt.String(),
		Start:     start,
		End:       end,
		Status:    model.NormalizeStatus(w.Status.String()),
	}
	if w.PatientName != nil {
		ev.PatientName = w.PatientName.String()
	} else {
		ev.PatientName = w.PatientNameAlt.String()
	}
	if w.DoctorID != nil {
		ev.ColumnKey = w.DoctorID.String()
	}
	ev.Raw = rawFields(data)
	return ev, true
}

// normalizeTime canonicalizes a wall-clock timestamp. Date-only values get
// the given time-of-day suffix.
func normalizeTime(s, dateOnlySuffix string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if len(s) <= 10 {
		d, err := model.ParseDay(s)
		if err != nil {
			return "", false
		}
		return model.FormatDay(d) + dateOnlySuffix, true
	}
	if _, err := model.ParseDay(s); err != nil {
		return "", false
	}
	w, ok := grid.ParseWallClock(s)
	if !ok {
		return "", false
	}
	return w.String(), true
}

func rawFields(data json.RawMessage) map[string]string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	out := map[string]string{}
	if nested, ok := obj["_raw"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			for k, v := range inner {
				if s := flexValue(v, true); s != "" {
					out[k] = s
				}
			}
		}
	}
	for _, k := range rawKeys {
		if v, ok := obj[k]; ok {
			if s := flexValue(v, true); s != "" {
				out[k] = s
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func flexStrings(in []FlexString) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s.String()); v != "" {
			out = append(out, v)
		}
	}
	return out
}
