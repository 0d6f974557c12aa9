package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCalendarMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCalendar(reg)

	m.ObserveLoad("day", "ok")
	m.ObserveLoad("day", "ok")
	m.ObserveMove("rejected")
	m.ObserveDrop("accepted")
	m.ObserveAvailability("stale")
	m.ObserveOdooRequest("appointments", errors.New("boom"), 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.loadsTotal.WithLabelValues("day", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.movesTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.odooLatency))
}

func TestCalendarMetricsNilSafe(t *testing.T) {
	var m *Calendar
	m.ObserveLoad("week", "error")
	m.ObserveMove("ok")
	m.ObserveDrop("cancelled")
	m.ObserveAvailability("failed")
	m.ObserveOdooRequest("meta", nil, 0.1)
}
