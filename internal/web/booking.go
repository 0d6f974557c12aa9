package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"agialcal/internal/booking"
	"agialcal/internal/odoo"
	"agialcal/internal/view"
)

// submitRequest wraps the booking form. Mode defaults to create.
type submitRequest struct {
	Mode booking.Mode `json:"mode"`
	Form booking.Form `json:"form"`
}

type writeResponse struct {
	Result odoo.WriteResult `json:"result"`
	Layout view.Layout      `json:"layout"`
}

type patientRequest struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
}

func (s *Server) bookingReady(w http.ResponseWriter) bool {
	if s.booking == nil {
		writeError(w, http.StatusServiceUnavailable, "booking is not configured")
		return false
	}
	return true
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	if !s.bookingReady(w) {
		return
	}
	ref, err := s.booking.Reference(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.bookingReady(w) {
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = booking.ModeCreate
	}
	if mode != booking.ModeCreate && mode != booking.ModeEdit {
		writeError(w, http.StatusBadRequest, "mode must be create or edit")
		return
	}

	res, err := s.booking.Submit(r.Context(), mode, req.Form)
	s.afterWrite(w, r, res, err)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.bookingReady(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	res, err := s.booking.Confirm(r.Context(), id)
	s.afterWrite(w, r, res, err)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if !s.bookingReady(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	res, err := s.booking.Undo(r.Context(), id)
	s.afterWrite(w, r, res, err)
}

// afterWrite answers a booking write. The controller has reloaded the store
// whether or not the write succeeded.
func (s *Server) afterWrite(w http.ResponseWriter, r *http.Request, res odoo.WriteResult, err error) {
	s.dropICSCache()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Result: res, Layout: s.current(r.Context())})
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	if !s.bookingReady(w) {
		return
	}
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.booking.CreatePatient(r.Context(), req.Name, req.Mobile)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
