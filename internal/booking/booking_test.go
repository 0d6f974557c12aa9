package booking

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agialcal/internal/grid"
	"agialcal/internal/odoo"
	"agialcal/internal/store"
)

type fakeBackend struct {
	created   []url.Values
	updated   []odoo.UpdateRequest
	confirmed []string
	undone    []string
	patients  [][2]string
	metaCalls int
	result    odoo.WriteResult
	err       error
}

func (f *fakeBackend) Meta(context.Context) (odoo.Meta, error) {
	f.metaCalls++
	return odoo.Meta{Cycles: []odoo.Option{{ID: "7", Name: "IUI"}}}, nil
}

func (f *fakeBackend) Services(context.Context) ([]odoo.Option, error) {
	return []odoo.Option{{ID: "1", Name: "ICSI"}}, nil
}

func (f *fakeBackend) CreateAppointment(_ context.Context, v url.Values) (odoo.WriteResult, error) {
	f.created = append(f.created, v)
	return f.result, f.err
}

func (f *fakeBackend) UpdateAppointment(_ context.Context, req odoo.UpdateRequest) (odoo.WriteResult, error) {
	f.updated = append(f.updated, req)
	return f.result, f.err
}

func (f *fakeBackend) ConfirmAppointment(_ context.Context, id string) (odoo.WriteResult, error) {
	f.confirmed = append(f.confirmed, id)
	return f.result, f.err
}

func (f *fakeBackend) UndoConfirmation(_ context.Context, id string) (odoo.WriteResult, error) {
	f.undone = append(f.undone, id)
	return f.result, f.err
}

func (f *fakeBackend) CreatePatient(_ context.Context, name, mobile string) (odoo.PatientResult, error) {
	f.patients = append(f.patients, [2]string{name, mobile})
	return odoo.PatientResult{Success: true, PatientID: "901"}, nil
}

type countingReconciler struct{ n int }

func (c *countingReconciler) Reconcile(context.Context) { c.n++ }

func validForm() Form {
	return Form{
		PatientName:       "Jane",
		CycleID:           "7",
		CycleName:         "IUI",
		DoctorID:          "3",
		Date:              "2026-01-25",
		Time:              "08:20 AM",
		RequestedServices: []int{4, 5},
	}
}

func newController(b *fakeBackend, r *countingReconciler) *Controller {
	return NewController(b, r, grid.Default(), grid.StepRules{Default: 15, ByCycle: map[string]int{"IUI": 20}})
}

func TestValidateRequiredFields(t *testing.T) {
	err := Form{}.Validate(ModeEdit)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"appointment_id", "date", "patient", "doctor_id", "cycle_id", "time"} {
		assert.True(t, fields[want], want)
	}

	assert.NoError(t, validForm().Validate(ModeCreate))

	f := validForm()
	f.PatientName = ""
	f.PatientID = "12"
	assert.NoError(t, f.Validate(ModeCreate), "patient id alone is enough")

	f = validForm()
	f.Time = "8.20"
	f.Biopsy = "XYZ"
	require.True(t, errors.As(f.Validate(ModeCreate), &verr))
	assert.Len(t, verr.Fields, 2)
}

func TestInvalidFormNeverReachesNetwork(t *testing.T) {
	b := &fakeBackend{result: odoo.WriteResult{Success: true}}
	r := &countingReconciler{}
	c := newController(b, r)

	_, err := c.Submit(context.Background(), ModeCreate, Form{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, b.created)
	assert.Zero(t, r.n)
}

func TestSubmitCreateEncodesForm(t *testing.T) {
	b := &fakeBackend{result: odoo.WriteResult{Success: true, ID: "55"}}
	r := &countingReconciler{}
	c := newController(b, r)

	res, err := c.Submit(context.Background(), ModeCreate, validForm())
	require.NoError(t, err)
	assert.Equal(t, "55", res.ID.String())
	assert.Equal(t, 1, r.n)

	require.Len(t, b.created, 1)
	v := b.created[0]
	assert.Equal(t, "[4,5]", v.Get("requested_services"))
	assert.Equal(t, "", v.Get("patient_id"))
	assert.Equal(t, "false", v.Get("exist_patient"))
	assert.Equal(t, "2026-01-25T08:20:00", v.Get("start"))
	assert.Equal(t, "confirmed", v.Get("onthf_state1"))
}

func TestSubmitEditSendsUpdate(t *testing.T) {
	b := &fakeBackend{result: odoo.WriteResult{Success: true}}
	c := newController(b, &countingReconciler{})
	f := validForm()
	f.AppointmentID = "101"

	_, err := c.Submit(context.Background(), ModeEdit, f)
	require.NoError(t, err)
	require.Len(t, b.updated, 1)
	assert.Equal(t, odoo.UpdateRequest{
		AppointmentID: "101",
		Start:         "2026-01-25T08:20:00",
		End:           "2026-01-25T08:20:00",
		CycleID:       "7",
	}, b.updated[0])
}

func TestRejectedWriteStillReconciles(t *testing.T) {
	b := &fakeBackend{result: odoo.WriteResult{Success: false, Message: "already confirmed"}}
	r := &countingReconciler{}
	c := newController(b, r)

	_, err := c.Confirm(context.Background(), "101")
	assert.ErrorIs(t, err, store.ErrRejected)
	assert.Equal(t, 1, r.n)

	b.err = errors.New("boom")
	_, err = c.Undo(context.Background(), "101")
	assert.Error(t, err)
	assert.Equal(t, 2, r.n)
	assert.Equal(t, []string{"101"}, b.undone)
}

func TestCreatePatientInvalidatesReference(t *testing.T) {
	b := &fakeBackend{}
	c := newController(b, &countingReconciler{})

	_, err := c.Reference(context.Background())
	require.NoError(t, err)
	_, err = c.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.metaCalls)

	_, err = c.CreatePatient(context.Background(), " ", "")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	res, err := c.CreatePatient(context.Background(), "Jane", "0100")
	require.NoError(t, err)
	assert.Equal(t, "901", res.PatientID.String())

	_, err = c.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, b.metaCalls)
}

func TestTimeOptionsFollowCycleStep(t *testing.T) {
	c := newController(&fakeBackend{}, nil)
	iui := c.TimeOptions("IUI")
	assert.Equal(t, "08:20 AM", iui[1])
	icsi := c.TimeOptions("ICSI")
	assert.Equal(t, "08:15 AM", icsi[1])
	assert.Equal(t, "02:30 PM", icsi[len(icsi)-1])
	assert.Equal(t, "02:40 PM", iui[len(iui)-1])
}
