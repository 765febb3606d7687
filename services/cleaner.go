package services

import (
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"campaign-spend/models"
	"campaign-spend/utils"
)

// Cleaner turns raw CSV tables into typed rows, normalises join keys and
// coerces advertiser spend.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// NormaliseKey trims surrounding whitespace and lowercases a join key. A
// null key stays null.
func NormaliseKey(key sql.NullString) sql.NullString {
	if !key.Valid {
		return key
	}
	return sql.NullString{String: strings.ToLower(strings.TrimSpace(key.String)), Valid: true}
}

// DecodeResults types the results table. Numeric cells that do not parse
// are treated as missing.
func (c *Cleaner) DecodeResults(raw *models.RawTable) *models.ResultsTable {
	stateIdx := raw.Index(models.ColState)
	spendIdx := raw.Index(models.ColSpend)
	polledIdx := raw.Index(models.ColPolled)
	phaseIdx := raw.Index(models.ColPhase)

	out := &models.ResultsTable{
		Rows:      make([]*models.ResultsRow, 0, len(raw.Rows)),
		HasState:  stateIdx >= 0,
		HasSpend:  spendIdx >= 0,
		HasPolled: polledIdx >= 0,
		HasPhase:  phaseIdx >= 0,
	}

	badSpend, badPolled := 0, 0
	for _, rec := range raw.Rows {
		row := &models.ResultsRow{
			State: cell(rec, stateIdx),
			Phase: cell(rec, phaseIdx),
		}
		if ok := parseDecimal(cell(rec, spendIdx), &row.Spend); !ok {
			badSpend++
		}
		if ok := parseFloat(cell(rec, polledIdx), &row.Polled); !ok {
			badPolled++
		}
		out.Rows = append(out.Rows, row)
	}

	if badSpend > 0 {
		c.logger.Warn("[cleaner] results: %d non-numeric %q values treated as missing", badSpend, models.ColSpend)
	}
	if badPolled > 0 {
		c.logger.Warn("[cleaner] results: %d non-numeric %q values treated as missing", badPolled, models.ColPolled)
	}
	return out
}

// DecodeAdvertisers types the advertisers table. Spend stays raw text until
// CoerceAdvertisers runs.
func (c *Cleaner) DecodeAdvertisers(raw *models.RawTable) *models.AdvertisersTable {
	nameIdx := raw.Index(models.ColPageName)
	spendIdx := raw.Index(models.ColSpend)

	out := &models.AdvertisersTable{
		Rows:        make([]*models.AdvertiserRow, 0, len(raw.Rows)),
		HasPageName: nameIdx >= 0,
		HasSpend:    spendIdx >= 0,
	}
	for _, rec := range raw.Rows {
		out.Rows = append(out.Rows, &models.AdvertiserRow{
			PageName: cell(rec, nameIdx),
			RawSpend: cell(rec, spendIdx),
		})
	}
	return out
}

// DecodeLocations types the locations table.
func (c *Cleaner) DecodeLocations(raw *models.RawTable) *models.LocationsTable {
	nameIdx := raw.Index(models.ColLocationName)
	spendIdx := raw.Index(models.ColSpend)

	out := &models.LocationsTable{
		Rows:     make([]*models.LocationRow, 0, len(raw.Rows)),
		HasName:  nameIdx >= 0,
		HasSpend: spendIdx >= 0,
	}

	bad := 0
	for _, rec := range raw.Rows {
		row := &models.LocationRow{Name: cell(rec, nameIdx)}
		if ok := parseDecimal(cell(rec, spendIdx), &row.Spend); !ok {
			bad++
		}
		out.Rows = append(out.Rows, row)
	}
	if bad > 0 {
		c.logger.Warn("[cleaner] locations: %d non-numeric %q values treated as missing", bad, models.ColSpend)
	}
	return out
}

// NormaliseResults normalises State on every results row in place.
func (c *Cleaner) NormaliseResults(t *models.ResultsTable) {
	for _, r := range t.Rows {
		r.State = NormaliseKey(r.State)
	}
}

// NormaliseLocations normalises Location name on every location row in place.
func (c *Cleaner) NormaliseLocations(t *models.LocationsTable) {
	for _, r := range t.Rows {
		r.Name = NormaliseKey(r.Name)
	}
}

// CoerceAdvertisers parses advertiser spend as a number and drops rows that
// fail. It returns the surviving rows and the number dropped.
func (c *Cleaner) CoerceAdvertisers(t *models.AdvertisersTable) ([]models.CoercedAdvertiser, int) {
	result := make([]models.CoercedAdvertiser, 0, len(t.Rows))
	for _, r := range t.Rows {
		var spend decimal.NullDecimal
		parseDecimal(r.RawSpend, &spend)
		if !spend.Valid {
			c.logger.Debug("[cleaner] Dropping advertiser %q with spend %q", r.PageName.String, r.RawSpend.String)
			continue
		}
		result = append(result, models.CoercedAdvertiser{PageName: r.PageName, Spend: spend.Decimal})
	}

	dropped := len(t.Rows) - len(result)
	c.logger.Info("[cleaner] Coerced advertiser spend %d → %d rows (dropped %d)",
		len(t.Rows), len(result), dropped)
	return result, dropped
}

// missingMarkers are cell values read as null, the same set common CSV
// tooling treats as not-available.
var missingMarkers = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// cell returns the value at idx, null when the column is absent or the cell
// holds a missing marker.
func cell(rec []string, idx int) sql.NullString {
	if idx < 0 || idx >= len(rec) {
		return sql.NullString{}
	}
	if _, missing := missingMarkers[rec[idx]]; missing {
		return sql.NullString{}
	}
	return sql.NullString{String: rec[idx], Valid: true}
}

// parseDecimal fills dst from s. It reports false only when s was present
// but not numeric.
func parseDecimal(s sql.NullString, dst *decimal.NullDecimal) bool {
	*dst = decimal.NullDecimal{}
	if !s.Valid {
		return true
	}
	v := strings.TrimSpace(s.String)
	if v == "" {
		return true
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return false
	}
	*dst = decimal.NullDecimal{Decimal: d, Valid: true}
	return true
}

func parseFloat(s sql.NullString, dst *sql.NullFloat64) bool {
	*dst = sql.NullFloat64{}
	if !s.Valid {
		return true
	}
	v := strings.TrimSpace(s.String)
	if v == "" {
		return true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	if math.IsNaN(f) {
		return true
	}
	*dst = sql.NullFloat64{Float64: f, Valid: true}
	return true
}
