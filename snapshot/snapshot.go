// Package snapshot captures a PNG of every dashboard page with headless
// Chrome.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"campaign-spend/utils"
	"campaign-spend/views"
)

// Options configures a Capturer.
type Options struct {
	OutDir         string
	ChromeBin      string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	Width          int
	Height         int
	PageTimeout    time.Duration
}

// Page is one dashboard page to capture.
type Page struct {
	Slug string
	URL  string
	Path string
}

// Capturer drives a single headless browser and opens one tab per page.
type Capturer struct {
	opts   Options
	logger *utils.Logger
	pool   *utils.WorkerPool
	retry  *utils.RetryConfig
}

// New creates a ready-to-use Capturer.
func New(opts Options, logger *utils.Logger) *Capturer {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 900
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	return &Capturer{
		opts:   opts,
		logger: logger,
		pool:   utils.NewWorkerPool(opts.MaxConcurrency, opts.RateLimitMs),
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Pages lists every view page under baseURL with its output file.
func Pages(baseURL, outDir string) []Page {
	baseURL = strings.TrimRight(baseURL, "/")
	out := make([]Page, 0, len(views.All()))
	for i, id := range views.All() {
		out = append(out, Page{
			Slug: id.Slug(),
			URL:  baseURL + "/views/" + id.Slug(),
			Path: filepath.Join(outDir, fmt.Sprintf("%02d-%s.png", i+1, id.Slug())),
		})
	}
	return out
}

// Capture screenshots every page served at baseURL and returns the written
// files. Pages that fail are reported together after the rest finish.
func (c *Capturer) Capture(ctx context.Context, baseURL string) ([]string, error) {
	if err := os.MkdirAll(c.opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create output dir: %w", err)
	}

	chromeBin := findChromeBinary(c.opts.ChromeBin)
	c.logger.Info("[snapshot] Using browser binary: %s", displayBinary(chromeBin))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(c.opts.Width, c.opts.Height),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	// Start the browser once so tabs share it.
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("snapshot: start browser: %w", err)
	}

	var (
		mu      sync.Mutex
		written []string
		errs    []error
	)
	for _, page := range Pages(baseURL, c.opts.OutDir) {
		c.pool.Submit(func() {
			err := c.capturePage(browserCtx, page)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Error("[snapshot] %s: %v", page.Slug, err)
				errs = append(errs, fmt.Errorf("%s: %w", page.Slug, err))
				return
			}
			c.logger.Info("[snapshot] Saved %s", page.Path)
			written = append(written, page.Path)
		})
	}
	c.pool.Wait()

	sort.Strings(written)
	return written, errors.Join(errs...)
}

func (c *Capturer) capturePage(browserCtx context.Context, page Page) error {
	var (
		shot   []byte
		loaded bool
	)

	err := c.retry.Do(browserCtx, "capture "+page.Slug, func() error {
		ctx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, c.opts.PageTimeout)
		defer cancelTimeout()

		return chromedp.Run(ctx,
			chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height)),
			chromedp.Navigate(page.URL),
			chromedp.WaitReady("main", chromedp.ByQuery),
			chromedp.Evaluate(chartsLoadedJS, &loaded, awaitPromise),
			chromedp.FullScreenshot(&shot, 100),
		)
	})
	if err != nil {
		return err
	}

	return os.WriteFile(page.Path, shot, 0644)
}

// chartsLoadedJS resolves once every image on the page finished loading.
const chartsLoadedJS = `
	Promise.all(Array.from(document.images)
		.filter(function(img) { return !img.complete; })
		.map(function(img) {
			return new Promise(function(resolve) { img.onload = img.onerror = resolve; });
		}))
		.then(function() { return true; })
`

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func displayBinary(bin string) string {
	if bin == "" {
		return "(chromedp default)"
	}
	return bin
}

// findChromeBinary locates Chrome/Chromium. A configured path wins.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
