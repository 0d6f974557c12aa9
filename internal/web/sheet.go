package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	appLog "agialcal/internal/log"
	"agialcal/internal/view"
)

//go:embed templates/calendar.html
var templateFS embed.FS

var sheetTemplate = template.Must(
	template.New("calendar.html").Funcs(template.FuncMap{
		"left":  eventLeft,
		"width": eventWidth,
		"labelTop": func(i, slotHeight int) int {
			return i * slotHeight
		},
		// Only every third label is printed to keep the axis readable.
		"major": func(i int) bool { return i%3 == 0 },
	}).ParseFS(templateFS, "templates/calendar.html"),
)

func eventLeft(e view.EventBox) float64 {
	if e.Columns <= 1 {
		return 0
	}
	return 100 * float64(e.Column) / float64(e.Columns)
}

func eventWidth(e view.EventBox) float64 {
	if e.Columns <= 1 {
		return 100
	}
	return 100 / float64(e.Columns)
}

// handleSheet renders the selected view as a static HTML page. The root
// element carries data-ready="true" once rendered, which the headless
// capture waits for.
func (s *Server) handleSheet(w http.ResponseWriter, r *http.Request) {
	v, date, err := s.selection(r)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if err := s.open(r.Context(), v, date); err != nil {
		writeFailure(w, r, err)
		return
	}
	l := s.current(r.Context())

	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, l); err != nil {
		appLog.ErrorCtx(r.Context(), "web: render calendar sheet failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
