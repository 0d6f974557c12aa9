package booking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/odoo"
	"agialcal/internal/store"
)

// Backend is the part of the Odoo client the booking form uses.
type Backend interface {
	Meta(ctx context.Context) (odoo.Meta, error)
	Services(ctx context.Context) ([]odoo.Option, error)
	CreateAppointment(ctx context.Context, values url.Values) (odoo.WriteResult, error)
	UpdateAppointment(ctx context.Context, req odoo.UpdateRequest) (odoo.WriteResult, error)
	ConfirmAppointment(ctx context.Context, id string) (odoo.WriteResult, error)
	UndoConfirmation(ctx context.Context, id string) (odoo.WriteResult, error)
	CreatePatient(ctx context.Context, name, mobile string) (odoo.PatientResult, error)
}

// Reconciler reloads the event store after a write.
type Reconciler interface {
	Reconcile(ctx context.Context)
}

// Reference is the cached metadata the form's selects are filled from.
type Reference struct {
	Meta     odoo.Meta     `json:"meta"`
	Services []odoo.Option `json:"services"`
}

type referenceCache struct {
	ref       Reference
	updatedAt time.Time
}

const referenceCacheTTL = time.Minute

// Controller drives the booking form against Odoo.
type Controller struct {
	backend Backend
	store   Reconciler
	geom    grid.Geometry
	steps   grid.StepRules

	refMu    sync.RWMutex
	refCache *referenceCache
}

func NewController(backend Backend, st Reconciler, geom grid.Geometry, steps grid.StepRules) *Controller {
	return &Controller{backend: backend, store: st, geom: geom, steps: steps}
}

// TimeOptions lists the bookable start labels for a cycle.
func (c *Controller) TimeOptions(cycleName string) []string {
	return c.geom.StepOptions(c.steps.StepMinutes(cycleName))
}

// Reference returns cycles, doctors, patients and services, reusing a
// recent fetch.
func (c *Controller) Reference(ctx context.Context) (Reference, error) {
	now := time.Now()
	c.refMu.RLock()
	rc := c.refCache
	c.refMu.RUnlock()
	if rc != nil && now.Sub(rc.updatedAt) < referenceCacheTTL {
		return rc.ref, nil
	}

	meta, err := c.backend.Meta(ctx)
	if err != nil {
		return Reference{}, err
	}
	services, err := c.backend.Services(ctx)
	if err != nil {
		return Reference{}, err
	}
	ref := Reference{Meta: meta, Services: services}

	c.refMu.Lock()
	c.refCache = &referenceCache{ref: ref, updatedAt: time.Now()}
	c.refMu.Unlock()
	return ref, nil
}

// Submit validates the form and creates or edits the appointment. Every
// request that reaches the server is followed by a store reload.
func (c *Controller) Submit(ctx context.Context, mode Mode, f Form) (odoo.WriteResult, error) {
	if err := f.Validate(mode); err != nil {
		return odoo.WriteResult{}, err
	}

	var (
		res odoo.WriteResult
		err error
	)
	switch mode {
	case ModeEdit:
		start, serr := f.Start()
		if serr != nil {
			return odoo.WriteResult{}, serr
		}
		res, err = c.backend.UpdateAppointment(ctx, odoo.UpdateRequest{
			AppointmentID: f.AppointmentID,
			Start:         start,
			End:           start,
			CycleID:       f.CycleID,
		})
	default:
		values, verr := f.Values()
		if verr != nil {
			return odoo.WriteResult{}, verr
		}
		res, err = c.backend.CreateAppointment(ctx, values)
	}
	return c.finish(ctx, "submit "+string(mode), res, err)
}

// Confirm triggers day handling for an appointment.
func (c *Controller) Confirm(ctx context.Context, id string) (odoo.WriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return odoo.WriteResult{}, &ValidationError{Fields: []FieldError{{Field: "appointment_id", Message: "required"}}}
	}
	res, err := c.backend.ConfirmAppointment(ctx, id)
	return c.finish(ctx, "confirm "+id, res, err)
}

// Undo reverts a confirmation.
func (c *Controller) Undo(ctx context.Context, id string) (odoo.WriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return odoo.WriteResult{}, &ValidationError{Fields: []FieldError{{Field: "appointment_id", Message: "required"}}}
	}
	res, err := c.backend.UndoConfirmation(ctx, id)
	return c.finish(ctx, "undo "+id, res, err)
}

func (c *Controller) finish(ctx context.Context, what string, res odoo.WriteResult, err error) (odoo.WriteResult, error) {
	if c.store != nil {
		c.store.Reconcile(ctx)
	}
	if err != nil {
		appLog.ErrorCtx(ctx, "booking: "+what+" failed", err)
		return res, fmt.Errorf("%s: %w", what, err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "server returned success=false"
		}
		return res, fmt.Errorf("%s: %w: %s", what, store.ErrRejected, msg)
	}
	appLog.Info("booking: "+what+" succeeded", "id", res.ID.String())
	return res, nil
}

// CreatePatient registers a patient. The reference cache is dropped so the
// new patient shows up in the next Reference call.
func (c *Controller) CreatePatient(ctx context.Context, name, mobile string) (odoo.PatientResult, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(name) == "" {
		verr.add("name", "required")
	}
	if strings.TrimSpace(mobile) == "" {
		verr.add("mobile", "required")
	}
	if len(verr.Fields) > 0 {
		return odoo.PatientResult{}, verr
	}

	res, err := c.backend.CreatePatient(ctx, strings.TrimSpace(name), strings.TrimSpace(mobile))
	if err != nil {
		return res, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "server returned success=false"
		}
		return res, fmt.Errorf("create patient: %w: %s", store.ErrRejected, msg)
	}

	c.refMu.Lock()
	c.refCache = nil
	c.refMu.Unlock()
	return res, nil
}
