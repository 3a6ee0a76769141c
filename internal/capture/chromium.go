// Package capture renders the month page in headless Chromium and saves a
// PNG snapshot, served at /preview.png.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "intracal/internal/log"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// readySelector matches the calendar root once the grid is rendered.
	readySelector = `[data-ready="true"]`
)

// Options defines one capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendario/".
	URL string
	// OutputPath receives the PNG; it is replaced atomically.
	OutputPath string

	// Width and Height are the viewport in pixels; zero uses the defaults.
	Width  int
	Height int

	// Timeout bounds the whole capture; zero uses DefaultTimeout.
	Timeout time.Duration

	// Username and Password, if set, are sent as HTTP Basic credentials.
	Username string
	Password string

	// Cookies are set for URL before navigating, so the page's own backend
	// requests carry the session they name.
	Cookies map[string]string
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// headers returns the extra request headers for the page load.
func (o Options) headers() network.Headers {
	if o.Username == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(o.Username + ":" + o.Password))
	return network.Headers{"Authorization": "Basic " + token}
}

// cookieParams returns the cookies to set for the page URL, sorted by name.
func (o Options) cookieParams() []*network.CookieParam {
	if len(o.Cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(o.Cookies))
	for name, value := range o.Cookies {
		params = append(params, &network.CookieParam{Name: name, Value: value, URL: o.URL})
	}
	slices.SortFunc(params, func(a, b *network.CookieParam) int { return strings.Compare(a.Name, b.Name) })
	return params
}

// CapturePNG launches headless Chromium, loads opts.URL, waits for the
// calendar to report data-ready="true" and writes a full-page PNG.
func CapturePNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	tasks := chromedp.Tasks{chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height))}
	h, cookies := opts.headers(), opts.cookieParams()
	if h != nil || cookies != nil {
		tasks = append(tasks, network.Enable())
	}
	if h != nil {
		tasks = append(tasks, network.SetExtraHTTPHeaders(h))
	}
	if cookies != nil {
		tasks = append(tasks, network.SetCookies(cookies))
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let web fonts and the last paint settle.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	started := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("snapshot written",
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LocalURL builds the URL Chromium should load to reach this process's own
// HTTP listener at path. Wildcard hosts are replaced with loopback.
func LocalURL(listen, path string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + path
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}
