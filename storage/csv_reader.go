package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"campaign-spend/models"
	"campaign-spend/utils"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sources names where each of the three datasets lives. Each value is a
// file path or an http(s) URL.
type Sources struct {
	Results     string
	Advertisers string
	Locations   string
}

// RawDatasets is the untyped content of the three input files.
type RawDatasets struct {
	Results     *models.RawTable
	Advertisers *models.RawTable
	Locations   *models.RawTable
}

// DatasetReader reads CSV datasets from disk or over HTTP.
type DatasetReader struct {
	client *http.Client
	retry  *utils.RetryConfig
	logger *utils.Logger
}

// NewDatasetReader creates a reader. A nil client gets a default one with
// the given timeout.
func NewDatasetReader(client *http.Client, timeout time.Duration, maxRetries int, logger *utils.Logger) *DatasetReader {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &DatasetReader{
		client: client,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   500 * time.Millisecond,
			Logger:      logger,
		},
		logger: logger,
	}
}

// LoadAll reads the three datasets concurrently. The first failure cancels
// the others and is returned as a *models.LoadError.
func (r *DatasetReader) LoadAll(ctx context.Context, src Sources) (*RawDatasets, error) {
	out := &RawDatasets{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		out.Results, err = r.Load(gctx, models.DatasetResults, src.Results)
		return err
	})
	g.Go(func() (err error) {
		out.Advertisers, err = r.Load(gctx, models.DatasetAdvertisers, src.Advertisers)
		return err
	})
	g.Go(func() (err error) {
		out.Locations, err = r.Load(gctx, models.DatasetLocations, src.Locations)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads one dataset. Column names are taken from the first row as-is.
func (r *DatasetReader) Load(ctx context.Context, dataset, source string) (*models.RawTable, error) {
	b, err := r.read(ctx, source)
	if err != nil {
		return nil, &models.LoadError{Dataset: dataset, Source: source, Err: err}
	}

	table, err := parseCSV(b)
	if err != nil {
		return nil, &models.LoadError{Dataset: dataset, Source: source, Err: err}
	}
	table.Dataset = dataset
	table.Source = source

	r.logger.Info("[loader] %s: %d rows, %d columns from %s", dataset, len(table.Rows), len(table.Header), source)
	return table, nil
}

func (r *DatasetReader) read(ctx context.Context, source string) ([]byte, error) {
	if !isURL(source) {
		return os.ReadFile(source)
	}

	var body []byte
	err := r.retry.Do(ctx, "fetch "+source, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

func parseCSV(b []byte) (*models.RawTable, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	cr := csv.NewReader(bytes.NewReader(b))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	table := &models.RawTable{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]string, len(header))
		copy(row, rec)
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func isURL(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
