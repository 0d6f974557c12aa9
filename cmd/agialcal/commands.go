package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"agialcal/internal/capture"
	"agialcal/internal/config"
	"agialcal/internal/ics"
	appLog "agialcal/internal/log"
	"agialcal/internal/model"
	"agialcal/internal/store"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar API and day sheet, refreshing on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var capturer capture.Capturer
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RefreshCron, func() { a.refresh(ctx, &capturer) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// Prime the store so the first request and capture see data.
	go a.refresh(ctx, &capturer)

	err = a.server.ListenAndServe(ctx)
	appLog.Info("agialcal exiting")
	return err
}

// refresh reloads the calendar from Odoo and, when enabled, recaptures the
// day sheet.
func (a *app) refresh(ctx context.Context, capturer *capture.Capturer) {
	if ctx.Err() != nil {
		return
	}
	a.avail.Invalidate(ctx)

	var err error
	if a.store.Snapshot().Loaded {
		err = a.store.Reload(ctx)
	} else {
		err = a.store.Load(ctx, a.store.DefaultDate(ctx))
	}
	switch {
	case errors.Is(err, store.ErrLoadInFlight):
		appLog.Debug("refresh skipped, load in flight")
		return
	case errors.Is(err, store.ErrClosed):
		return
	case err != nil:
		appLog.Warn("refresh did not return live data", "err", err)
	default:
		appLog.Info("calendar refreshed")
	}

	if !a.cfg.Capture.Enabled {
		return
	}
	if err := capturer.Capture(ctx, a.captureOptions(capture.SheetURL(a.cfg.Listen, ""))); err != nil {
		appLog.ErrorCtx(ctx, "scheduled capture failed", err)
	}
}

func (a *app) captureOptions(url string) capture.Options {
	opts := capture.Options{
		URL:        url,
		OutputPath: a.cfg.Capture.OutputPath,
		Width:      a.cfg.Capture.Width,
		Height:     a.cfg.Capture.Height,
	}
	if a.cfg.BasicAuth != nil {
		opts.Username = a.cfg.BasicAuth.Username
		opts.Password = a.cfg.BasicAuth.Password
	}
	return opts
}

func snapshotCmd(flags *rootFlags) *cobra.Command {
	var (
		date string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the day sheet once and write it as a PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if out != "" {
				cfg.Capture.OutputPath = out
			}
			return runSnapshot(cmd.Context(), cfg, date)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to render (YYYY-MM-DD); defaults to Odoo's opening day")
	cmd.Flags().StringVar(&out, "out", "", "PNG output path (overrides capture.output_path)")
	return cmd
}

// runSnapshot serves the sheet on a loopback port just long enough for
// Chromium to capture it.
func runSnapshot(ctx context.Context, cfg *config.Config, date string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.open(ctx, model.ViewDay, date); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("snapshot listener: %w", err)
	}
	srv := &http.Server{Handler: a.server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server failed", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var capturer capture.Capturer
	return capturer.Capture(ctx, a.captureOptions(capture.SheetURL(ln.Addr().String(), date)))
}

func exportCmd(flags *rootFlags) *cobra.Command {
	var (
		date     string
		viewName string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the visible appointments as an iCalendar feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return runExport(cmd.Context(), cfg, model.ParseView(viewName), date, w)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to export (YYYY-MM-DD); defaults to Odoo's opening day")
	cmd.Flags().StringVar(&viewName, "view", "day", "day or week")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	return cmd
}

func runExport(ctx context.Context, cfg *config.Config, v model.View, date string, w io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.open(ctx, v, date)
	if err != nil {
		return err
	}
	return ics.Write(w, l.VisibleEvents(), ics.Options{Name: "Agial " + l.Date})
}
