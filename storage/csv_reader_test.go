package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"campaign-spend/models"
	"campaign-spend/utils"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestReader(client *http.Client) *DatasetReader {
	return NewDatasetReader(client, time.Second, 2, utils.Discard())
}

func TestLoadFileStripsBOMAndPadsRows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "results.csv", "\xEF\xBB\xBFState,Polled (%),Phase\nGoa,75.2,Phase 3\nKerala\n")

	table, err := newTestReader(nil).Load(context.Background(), models.DatasetResults, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Header[0] != "State" {
		t.Errorf("header[0]: got %q, want %q (BOM not stripped?)", table.Header[0], "State")
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(table.Rows))
	}
	if len(table.Rows[1]) != 3 || table.Rows[1][2] != "" {
		t.Errorf("short row not padded: %q", table.Rows[1])
	}
	if table.Index(models.ColPolled) != 2 || table.Index(models.ColSpend) != -1 {
		t.Errorf("unexpected column presence for header %v", table.Header)
	}
}

func TestLoadMissingFileIsLoadError(t *testing.T) {
	_, err := newTestReader(nil).Load(context.Background(), models.DatasetLocations, filepath.Join(t.TempDir(), "nope.csv"))

	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if loadErr.Dataset != models.DatasetLocations {
		t.Errorf("Dataset: got %q", loadErr.Dataset)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestLoadEmptyFileIsLoadError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.csv", "")
	_, err := newTestReader(nil).Load(context.Background(), models.DatasetResults, path)

	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
}

func TestLoadMalformedCSVIsLoadError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", "State,Phase\n\"Goa,1\n")
	_, err := newTestReader(nil).Load(context.Background(), models.DatasetResults, path)

	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
}

func TestLoadFromURL(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://data.example.test/locations.csv",
		httpmock.NewStringResponder(200, "Location name,Amount spent (INR)\nGoa,1200\n"))

	reader := newTestReader(&http.Client{Transport: transport})
	table, err := reader.Load(context.Background(), models.DatasetLocations, "https://data.example.test/locations.csv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0][0] != "Goa" {
		t.Errorf("unexpected rows: %v", table.Rows)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Errorf("calls: got %d, want 1", transport.GetTotalCallCount())
	}
}

func TestLoadFromURLRetriesThenFails(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://data.example.test/results.csv",
		httpmock.NewStringResponder(503, ""))

	reader := newTestReader(&http.Client{Transport: transport})
	reader.retry.BaseDelay = time.Millisecond

	_, err := reader.Load(context.Background(), models.DatasetResults, "https://data.example.test/results.csv")
	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if transport.GetTotalCallCount() != 2 {
		t.Errorf("calls: got %d, want 2", transport.GetTotalCallCount())
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	src := Sources{
		Results:     writeFile(t, dir, "results.csv", "State,Polled (%),Phase\nGoa,70,1\n"),
		Advertisers: writeFile(t, dir, "advertisers.csv", "Page name,Amount spent (INR)\nBJP,100\n"),
		Locations:   writeFile(t, dir, "locations.csv", "Location name\nGoa\n"),
	}

	raw, err := newTestReader(nil).LoadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if raw.Results.Dataset != models.DatasetResults || raw.Advertisers.Dataset != models.DatasetAdvertisers || raw.Locations.Dataset != models.DatasetLocations {
		t.Errorf("datasets mislabelled: %q %q %q", raw.Results.Dataset, raw.Advertisers.Dataset, raw.Locations.Dataset)
	}
}

func TestLoadAllFailsOnAnyMissing(t *testing.T) {
	dir := t.TempDir()
	src := Sources{
		Results:     writeFile(t, dir, "results.csv", "State\nGoa\n"),
		Advertisers: filepath.Join(dir, "missing.csv"),
		Locations:   writeFile(t, dir, "locations.csv", "Location name\nGoa\n"),
	}

	_, err := newTestReader(nil).LoadAll(context.Background(), src)
	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) || loadErr.Dataset != models.DatasetAdvertisers {
		t.Fatalf("expected advertisers LoadError, got %v", err)
	}
}
