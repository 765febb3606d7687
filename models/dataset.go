package models

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// Column names as they appear in the CSV headers. Matching is exact and
// case-sensitive.
const (
	ColState        = "State"
	ColSpend        = "Amount spent (INR)"
	ColPolled       = "Polled (%)"
	ColPhase        = "Phase"
	ColPageName     = "Page name"
	ColLocationName = "Location name"
)

// Dataset names used in logs, errors and metrics.
const (
	DatasetResults     = "results"
	DatasetAdvertisers = "advertisers"
	DatasetLocations   = "locations"
)

// RawTable is a CSV file as read from disk or HTTP, before any typing.
// Every row has exactly len(Header) cells.
type RawTable struct {
	Dataset string
	Source  string
	Header  []string
	Rows    [][]string
}

// Index returns the position of column in the header, or -1.
func (t *RawTable) Index(column string) int {
	for i, h := range t.Header {
		if h == column {
			return i
		}
	}
	return -1
}

// ResultsRow is one constituency result record.
type ResultsRow struct {
	State  sql.NullString
	Spend  decimal.NullDecimal
	Polled sql.NullFloat64
	Phase  sql.NullString
}

// AdvertiserRow is one advertiser page entry. Spend keeps the raw text until
// it is coerced for the party ranking.
type AdvertiserRow struct {
	PageName sql.NullString
	RawSpend sql.NullString
}

// CoercedAdvertiser is an AdvertiserRow whose spend parsed as a number.
type CoercedAdvertiser struct {
	PageName sql.NullString
	Spend    decimal.Decimal
}

// LocationRow is one known location. Spend is only set when the locations
// file carries an "Amount spent (INR)" column.
type LocationRow struct {
	Name  sql.NullString
	Spend decimal.NullDecimal
}

// ResultsTable holds the typed results rows and which optional columns the
// source carried.
type ResultsTable struct {
	Rows      []*ResultsRow
	HasState  bool
	HasSpend  bool
	HasPolled bool
	HasPhase  bool
}

// AdvertisersTable holds the typed advertiser rows.
type AdvertisersTable struct {
	Rows        []*AdvertiserRow
	HasPageName bool
	HasSpend    bool
}

// LocationsTable holds the typed location rows.
type LocationsTable struct {
	Rows     []*LocationRow
	HasName  bool
	HasSpend bool
}

// MergedRow is a results row joined to at most one location. Location is nil
// when no location matched the state.
type MergedRow struct {
	State    sql.NullString
	Spend    decimal.NullDecimal
	Polled   sql.NullFloat64
	Phase    sql.NullString
	Location *LocationRow
}

// LocationName returns the matched location's name, or a null string.
func (m *MergedRow) LocationName() sql.NullString {
	if m.Location == nil {
		return sql.NullString{}
	}
	return m.Location.Name
}

// MergedTable is the output of the left join. SpendSource names the table
// the Spend column was taken from ("results" or "locations"), empty when
// neither side carried one.
type MergedTable struct {
	Rows        []*MergedRow
	SpendSource string
	HasPolled   bool
	HasPhase    bool
	Unmatched   []string
}

// HasSpend reports whether merged rows carry a spend column.
func (t *MergedTable) HasSpend() bool {
	return t.SpendSource != ""
}
