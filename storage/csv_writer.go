package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"campaign-spend/models"
)

// CSVWriter writes each summary to <dir>/<view>.csv.
// It is safe for concurrent use.
type CSVWriter struct {
	mu    sync.Mutex
	dir   string
	paths []string
}

// NewCSVWriter creates the output directory if needed.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{dir: dir}, nil
}

// Write creates (or truncates) one file per summary.
func (c *CSVWriter) Write(summaries []Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range summaries {
		path := filepath.Join(c.dir, s.View+".csv")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("csv: create file %q: %w", path, err)
		}
		if err := WriteTableCSV(f, s.Table); err != nil {
			_ = f.Close()
			return fmt.Errorf("csv: write %s: %w", s.View, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("csv: close %q: %w", path, err)
		}
		c.paths = append(c.paths, path)
	}
	return nil
}

// Paths lists the files written so far.
func (c *CSVWriter) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func (c *CSVWriter) Close() error { return nil }

// WriteTableCSV writes the header row then every record of t.
func WriteTableCSV(w io.Writer, t models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return cw.Error()
}
