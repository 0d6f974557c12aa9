// Package ics renders calendar events as an iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/model"
)

const productID = "-//agialcal//Appointment Calendar//EN"

// Options controls the generated feed.
type Options struct {
	// Name becomes X-WR-CALNAME.
	Name string
	// Now stamps DTSTAMP; nil means time.Now.
	Now func() time.Time
}

// Build converts events into a calendar. Times are written as floating
// local values ("20260125T110000") so the feed keeps the clinic's wall
// clock whatever zone the reader is in. Drafts and events with an
// unreadable start or end are skipped.
func Build(events []model.CalendarEvent, opts Options) *ical.Calendar {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	stamp := now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	skipped := 0
	for _, e := range events {
		if e.IsDraft() {
			skipped++
			continue
		}
		start, ok1 := floating(e.Start)
		end, ok2 := floating(e.End)
		if !ok1 || !ok2 {
			skipped++
			continue
		}

		ev := cal.AddEvent(e.ID + "@agialcal")
		ev.SetDtStampTime(stamp)
		ev.SetProperty(ical.ComponentPropertyDtStart, start)
		ev.SetProperty(ical.ComponentPropertyDtEnd, end)
		summary := e.PatientName
		if summary == "" {
			summary = "Appointment " + e.ID
		}
		ev.SetSummary(summary)
		ev.SetProperty(ical.ComponentPropertyCategories, e.Status.Label())
		if desc := describe(e); desc != "" {
			ev.SetDescription(desc)
		}
	}
	if skipped > 0 {
		appLog.Debug("ics: skipped events", "count", skipped)
	}
	return cal
}

// Write serializes events to w.
func Write(w io.Writer, events []model.CalendarEvent, opts Options) error {
	if err := Build(events, opts).SerializeTo(w); err != nil {
		return fmt.Errorf("ics: serialize: %w", err)
	}
	return nil
}

func floating(s string) (string, bool) {
	w, ok := grid.ParseWallClock(s)
	if !ok {
		return "", false
	}
	date := strings.ReplaceAll(w.Date, "-", "")
	return fmt.Sprintf("%sT%02d%02d00", date, w.Hour, w.Minute), true
}

// describe lists the raw display fields as "key: value" lines.
func describe(e model.CalendarEvent) string {
	if len(e.Raw) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Raw))
	for k, v := range e.Raw {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+e.Raw[k])
	}
	return strings.Join(lines, "\n")
}
