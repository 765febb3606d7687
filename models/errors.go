package models

import (
	"errors"
	"fmt"
)

// LoadError indicates a dataset could not be read or parsed as CSV.
type LoadError struct {
	Dataset string
	Source  string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s from %q: %v", e.Dataset, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SchemaError indicates a required column is absent from a loaded table.
type SchemaError struct {
	Dataset string
	Column  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing column %q", e.Dataset, e.Column)
}

// AggregationError reports a view whose reducer could not run.
type AggregationError struct {
	View string
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate %s: %v", e.View, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short label for err, suitable for metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	var schema *SchemaError
	if errors.As(err, &schema) {
		return "schema"
	}
	var load *LoadError
	if errors.As(err, &load) {
		return "load"
	}
	var agg *AggregationError
	if errors.As(err, &agg) {
		return "aggregation"
	}
	return "other"
}
