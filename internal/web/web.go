package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agialcal/internal/availability"
	"agialcal/internal/booking"
	"agialcal/internal/config"
	"agialcal/internal/dragdrop"
	appLog "agialcal/internal/log"
	"agialcal/internal/odoo"
	"agialcal/internal/store"
	"agialcal/internal/view"
)

// Deps are the components the HTTP layer drives.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Board        *dragdrop.Board
	Booking      *booking.Controller
	Availability *availability.Cache
	// Layout is used for every composed view. Its Availability is filled
	// from the cache when unset.
	Layout view.Options
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the calendar over HTTP: a JSON API for the browser
// front-end, a printable day sheet, an ICS feed and metrics.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	board    *dragdrop.Board
	booking  *booking.Controller
	avail    *availability.Cache
	layout   view.Options
	gatherer prometheus.Gatherer
	router   chi.Router

	// In-memory cache for /calendar.ics so feed readers polling every few
	// seconds do not recompose the layout each time.
	icsMu    sync.RWMutex
	icsCache *icsCache
}

// NewServer constructs a new Server.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:      deps.Config,
		store:    deps.Store,
		board:    deps.Board,
		booking:  deps.Booking,
		avail:    deps.Availability,
		layout:   deps.Layout,
		gatherer: deps.Gatherer,
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.layout.Availability == nil && s.avail != nil {
		s.layout.Availability = s.avail
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.router = s.routes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// A half-filled basic_auth block leaves the calendar open.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Liveness probes carry no credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="agialcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/calendar", s.handleSheet)
	r.Get("/calendar.ics", s.handleICS)
	r.Get("/preview.png", s.handlePreview)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/calendar", s.handleCalendar)
		r.Post("/calendar/reload", s.handleReload)
		r.Get("/grid", s.handleGrid)
		r.Put("/filters", s.handleFilters)
		r.Put("/draft", s.handleDraft)
		r.Get("/availability", s.handleAvailability)

		r.Post("/drag/over", s.handleDragOver)
		r.Post("/drag/drop", s.handleDrop)
		r.Post("/drag/cancel", s.handleDragCancel)

		r.Get("/booking/reference", s.handleReference)
		r.Post("/appointments", s.handleSubmit)
		r.Post("/appointments/{id}/confirm", s.handleConfirm)
		r.Post("/appointments/{id}/undo", s.handleUndo)
		r.Post("/patients", s.handleCreatePatient)
	})
	return r
}

// requestLogger logs each request at debug level with chi's request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG of the day sheet.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// 404 until the first capture has been written.
	http.ServeFile(w, r, s.cfg.Capture.OutputPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error  string               `json:"error"`
	Fields []booking.FieldError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps an operation error onto a status code. Server-side
// failures surface as 502 with the message; the store has already been
// reconciled by then.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *booking.ValidationError
		httpErr *odoo.HTTPError
		domErr  *odoo.DomainError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errResp{Error: verr.Error(), Fields: verr.Fields})
		return
	case errors.Is(err, store.ErrLoadInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.As(err, &httpErr), errors.As(err, &domErr), errors.Is(err, store.ErrRejected):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	appLog.ErrorCtx(r.Context(), "web: request failed", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
