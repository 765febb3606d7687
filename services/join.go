package services

import (
	"campaign-spend/models"
	"campaign-spend/utils"
)

// LeftJoin joins normalised results to normalised locations on State ==
// Location name. Every result row appears at least once: unmatched rows get
// a nil Location, and a state matching several locations is emitted once
// per match.
//
// Spend comes from the results table when it carries the column, otherwise
// from the matched location.
func LeftJoin(results *models.ResultsTable, locations *models.LocationsTable, logger *utils.Logger) (*models.MergedTable, error) {
	if !results.HasState {
		return nil, &models.SchemaError{Dataset: models.DatasetResults, Column: models.ColState}
	}
	if !locations.HasName {
		return nil, &models.SchemaError{Dataset: models.DatasetLocations, Column: models.ColLocationName}
	}

	index := make(map[string][]*models.LocationRow, len(locations.Rows))
	for _, loc := range locations.Rows {
		if !loc.Name.Valid {
			continue
		}
		index[loc.Name.String] = append(index[loc.Name.String], loc)
	}

	merged := &models.MergedTable{
		Rows:      make([]*models.MergedRow, 0, len(results.Rows)),
		HasPolled: results.HasPolled,
		HasPhase:  results.HasPhase,
	}
	switch {
	case results.HasSpend:
		merged.SpendSource = models.DatasetResults
	case locations.HasSpend:
		merged.SpendSource = models.DatasetLocations
	}

	unmatched := utils.NewKeySet()
	for _, r := range results.Rows {
		var matches []*models.LocationRow
		if r.State.Valid {
			matches = index[r.State.String]
		}

		if len(matches) == 0 {
			if r.State.Valid {
				unmatched.Add(r.State.String)
			}
			merged.Rows = append(merged.Rows, mergeRow(r, nil, results.HasSpend))
			continue
		}
		for _, loc := range matches {
			merged.Rows = append(merged.Rows, mergeRow(r, loc, results.HasSpend))
		}
	}

	merged.Unmatched = unmatched.Sorted()
	if logger != nil && unmatched.Size() > 0 {
		logger.Warn("[join] %d states without a matching location: %v", unmatched.Size(), merged.Unmatched)
	}
	return merged, nil
}

func mergeRow(r *models.ResultsRow, loc *models.LocationRow, spendFromResults bool) *models.MergedRow {
	m := &models.MergedRow{
		State:    r.State,
		Polled:   r.Polled,
		Phase:    r.Phase,
		Location: loc,
	}
	switch {
	case spendFromResults:
		m.Spend = r.Spend
	case loc != nil:
		m.Spend = loc.Spend
	}
	return m
}
