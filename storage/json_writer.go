package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SummaryDoc is the JSON shape of one exported view.
type SummaryDoc struct {
	View    string     `json:"view"`
	Title   string     `json:"title"`
	Header  []string   `json:"header"`
	Records [][]string `json:"records"`
}

// NewSummaryDoc flattens s for encoding.
func NewSummaryDoc(s Summary) SummaryDoc {
	records := s.Table.Records()
	if records == nil {
		records = [][]string{}
	}
	return SummaryDoc{View: s.View, Title: s.Title, Header: s.Table.Header(), Records: records}
}

// JSONWriter writes every summary into a single JSON document.
type JSONWriter struct {
	path string
}

func NewJSONWriter(path string) (*JSONWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("json: create output dir: %w", err)
	}
	return &JSONWriter{path: path}, nil
}

func (j *JSONWriter) Write(summaries []Summary) error {
	f, err := os.Create(j.path)
	if err != nil {
		return fmt.Errorf("json: create file %q: %w", j.path, err)
	}
	defer f.Close()

	docs := make([]SummaryDoc, 0, len(summaries))
	for _, s := range summaries {
		docs = append(docs, NewSummaryDoc(s))
	}
	if err := EncodeJSON(f, docs); err != nil {
		return fmt.Errorf("json: encode: %w", err)
	}
	return nil
}

func (j *JSONWriter) Close() error { return nil }

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
