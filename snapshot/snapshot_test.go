package snapshot

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campaign-spend/utils"
	"campaign-spend/views"
)

func TestPages(t *testing.T) {
	pages := Pages("http://127.0.0.1:8501/", "/tmp/shots")

	if len(pages) != len(views.All()) {
		t.Fatalf("pages: got %d, want %d", len(pages), len(views.All()))
	}
	first := pages[0]
	if first.URL != "http://127.0.0.1:8501/views/total-spend-by-state" {
		t.Errorf("URL: got %q", first.URL)
	}
	if first.Path != filepath.Join("/tmp/shots", "01-total-spend-by-state.png") {
		t.Errorf("Path: got %q", first.Path)
	}
	last := pages[len(pages)-1]
	if !strings.HasPrefix(filepath.Base(last.Path), "06-") {
		t.Errorf("last page file should be numbered 06: %q", last.Path)
	}
}

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	t.Setenv("CHROME_BIN", "/from/env")

	if got := findChromeBinary("/opt/custom/chrome"); got != "/opt/custom/chrome" {
		t.Errorf("configured: got %q", got)
	}
	if got := findChromeBinary(""); got != "/from/env" {
		t.Errorf("env: got %q", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Options{OutDir: t.TempDir()}, utils.Discard())

	if c.opts.Width != 1280 || c.opts.Height != 900 {
		t.Errorf("viewport: got %dx%d", c.opts.Width, c.opts.Height)
	}
	if c.opts.PageTimeout != 60*time.Second {
		t.Errorf("PageTimeout: got %v", c.opts.PageTimeout)
	}
	if c.retry.MaxAttempts != 0 {
		t.Errorf("MaxAttempts: got %d", c.retry.MaxAttempts)
	}
}

func TestDisplayBinary(t *testing.T) {
	if got := displayBinary(""); got != "(chromedp default)" {
		t.Errorf("got %q", got)
	}
	if got := displayBinary("/usr/bin/chromium"); got != "/usr/bin/chromium" {
		t.Errorf("got %q", got)
	}
}
