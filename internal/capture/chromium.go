// Package capture screenshots the calendar day sheet with headless Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	appLog "agialcal/internal/log"
)

// Default capture parameters. They match the day sheet served at /calendar.
const (
	DefaultWidth      = 1304
	DefaultHeight     = 984
	DefaultTimeoutSec = 30
)

// readySelector is set by the /calendar page once it has rendered.
const readySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar?date=2026-01-25".
	URL string

	// OutputPath is where the PNG is written, e.g.
	// "/var/lib/agialcal/preview.png". The write is atomic.
	OutputPath string

	// Width and Height are the viewport in pixels; zero uses the defaults.
	Width  int
	Height int

	// Timeout bounds the whole capture; zero uses DefaultTimeoutSec.
	Timeout time.Duration

	// BasicAuth credentials, when the server requires them.
	Username string
	Password string
}

func (o Options) normalized() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if o.Username != "" {
		u, err := url.Parse(o.URL)
		if err != nil {
			return o, fmt.Errorf("capture: bad URL: %w", err)
		}
		u.User = url.UserPassword(o.Username, o.Password)
		o.URL = u.String()
	}
	return o, nil
}

// SheetURL builds the /calendar URL for a server listening on listen.
// Wildcard hosts are replaced by loopback. An empty date lets the server
// pick the opening day.
func SheetURL(listen, date string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = listen, "80"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: "/calendar"}
	if date != "" {
		u.RawQuery = url.Values{"date": {date}}.Encode()
	}
	return u.String()
}

// Capturer serializes captures so a scheduled refresh and a manual snapshot
// never drive two browsers at once.
type Capturer struct {
	mu sync.Mutex
}

// Capture runs CalendarPNG under the capturer's lock.
func (c *Capturer) Capture(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CalendarPNG(ctx, opts)
}

// CalendarPNG launches a headless Chromium via chromedp, navigates to
// opts.URL, waits until the page marks itself ready and writes a full-page
// PNG screenshot.
func CalendarPNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.normalized()
	if err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeAtomic(opts.OutputPath, png); err != nil {
		return err
	}
	appLog.Info("capture: day sheet written",
		"path", opts.OutputPath,
		"bytes", len(png),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return fmt.Errorf("capture: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("capture: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("capture: rename: %w", err)
	}
	return nil
}
