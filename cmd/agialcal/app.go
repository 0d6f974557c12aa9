package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"agialcal/internal/availability"
	"agialcal/internal/booking"
	"agialcal/internal/config"
	"agialcal/internal/dragdrop"
	"agialcal/internal/grid"
	appLog "agialcal/internal/log"
	"agialcal/internal/metrics"
	"agialcal/internal/model"
	"agialcal/internal/odoo"
	"agialcal/internal/store"
	"agialcal/internal/view"
	"agialcal/internal/web"
)

// app wires the components shared by every command.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	client   *odoo.Client
	redis    *redis.Client
	avail    *availability.Cache
	store    *store.Store
	board    *dragdrop.Board
	booking  *booking.Controller
	layout   view.Options
	server   *web.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	geom, err := grid.New(cfg.Grid.StartHour, cfg.Grid.EndHour, cfg.Grid.SlotMinutes, cfg.Grid.SlotHeight)
	if err != nil {
		return nil, fmt.Errorf("grid config: %w", err)
	}
	steps := grid.StepRules{Default: cfg.Grid.DefaultStep, ByCycle: cfg.Grid.CycleSteps}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCalendar(reg)

	client, err := odoo.NewClient(odoo.Options{
		BaseURL:   cfg.Odoo.BaseURL,
		SessionID: cfg.Odoo.SessionID,
		Timeout:   cfg.OdooTimeout(),
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: reg, client: client}

	var backend availability.Backend
	if cfg.Availability.RedisAddr != "" {
		rdb, err := availability.DialRedis(ctx, cfg.Availability.RedisAddr, cfg.Availability.RedisPassword)
		if err != nil {
			// The in-process cache works on its own; Redis only shares it.
			appLog.Error("redis unavailable, using in-memory availability cache", err, "addr", cfg.Availability.RedisAddr)
		} else {
			a.redis = rdb
			backend = availability.NewRedisBackend(rdb)
		}
	}
	a.avail = availability.New(client, availability.Options{
		Backend: backend,
		TTL:     cfg.AvailabilityTTL(),
		Metrics: m,
	})

	weekStart := model.ParseWeekStart(cfg.WeekStart)
	a.store = store.New(store.Deps{
		Backend:      client,
		DemoFallback: cfg.DemoFallback,
		WeekStart:    weekStart,
		Metrics:      m,
	})
	a.board = dragdrop.NewBoard(dragdrop.Options{
		Geometry:     geom,
		Events:       a.store,
		Mover:        a.store,
		Availability: a.avail,
		FailOpen:     cfg.Availability.FailOpen,
		Metrics:      m,
	})
	a.booking = booking.NewController(client, a.store, geom, steps)
	a.layout = view.Options{
		Geometry:     geom,
		Steps:        steps,
		WeekStart:    weekStart,
		Availability: a.avail,
	}
	a.server = web.NewServer(web.Deps{
		Config:       cfg,
		Store:        a.store,
		Board:        a.board,
		Booking:      a.booking,
		Availability: a.avail,
		Layout:       a.layout,
		Gatherer:     reg,
	})
	return a, nil
}

// open loads the requested view. An empty date asks Odoo for its opening
// day. Load failures recorded in the store are logged, not returned.
func (a *app) open(ctx context.Context, v model.View, date string) (view.Layout, error) {
	var day time.Time
	if date == "" {
		day = a.store.DefaultDate(ctx)
	} else {
		d, err := model.ParseDay(date)
		if err != nil {
			return view.Layout{}, err
		}
		day = d
	}
	a.store.SetView(v)
	a.store.SetDate(day)

	var err error
	if v == model.ViewWeek {
		err = a.store.LoadWeek(ctx, day)
	} else {
		err = a.store.Load(ctx, day)
	}
	switch {
	case errors.Is(err, store.ErrLoadInFlight), errors.Is(err, store.ErrClosed):
		return view.Layout{}, err
	case err != nil:
		appLog.Warn("calendar load did not return live data", "date", model.FormatDay(day), "err", err)
	}
	return view.Compose(a.store.Snapshot(), a.layout), nil
}

func (a *app) Close() {
	_ = a.store.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			appLog.Error("redis close failed", err)
		}
	}
}
