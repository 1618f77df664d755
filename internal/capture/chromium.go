package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"drivecal/internal/model"
)

// Default capture parameters. They match the default grid viewport.
const (
	DefaultWidth      = 1600
	DefaultHeight     = 1200
	DefaultTimeoutSec = 30
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// BaseURL of the drivecal HTTP server, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// OutputPath is where the PNG is written. Empty means only return it.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Username and Password are sent as HTTP Basic Auth when set.
	Username string
	Password string

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

// LocalBaseURL turns a listen address into a URL this host can dial. An
// empty or wildcard host becomes the loopback address.
func LocalBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// PageURL is the static grid page of month.
func PageURL(base string, month model.MonthKey) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("capture: bad base URL: %w", err)
	}
	u.Path = "/calendar"
	q := url.Values{}
	q.Set("month", string(month))
	q.Set("static", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// MonthPNG launches a headless Chromium via chromedp, opens the grid of
// month, waits for the page to report `data-ready="true"` and captures a
// full-page PNG.
func MonthPNG(parentCtx context.Context, month model.MonthKey, opts Options) ([]byte, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("capture: BaseURL is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	target, err := PageURL(opts.BaseURL, month)
	if err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + token}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(target),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Let the last paint land.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if opts.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
			return nil, fmt.Errorf("capture: failed to create output dir: %w", err)
		}
		if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
			return nil, fmt.Errorf("capture: failed to write PNG: %w", err)
		}
	}
	return png, nil
}
