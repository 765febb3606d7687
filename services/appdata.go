package services

import (
	"campaign-spend/models"
	"campaign-spend/storage"
	"campaign-spend/utils"
)

// AppData is the immutable snapshot every view reads from. It is built once
// at startup and shared by reference; nothing mutates it afterwards.
type AppData struct {
	Results     *models.ResultsTable
	Advertisers *models.AdvertisersTable
	Locations   *models.LocationsTable
	Merged      *models.MergedTable

	// CoercedAdvertisers holds advertiser rows whose spend parsed as a
	// number; DroppedAdvertisers counts the rest.
	CoercedAdvertisers []models.CoercedAdvertiser
	DroppedAdvertisers int
}

// BuildAppData types, normalises and joins the raw datasets.
func BuildAppData(raw *storage.RawDatasets, logger *utils.Logger) (*AppData, error) {
	cleaner := NewCleaner(logger)

	results := cleaner.DecodeResults(raw.Results)
	advertisers := cleaner.DecodeAdvertisers(raw.Advertisers)
	locations := cleaner.DecodeLocations(raw.Locations)

	return NewAppData(results, advertisers, locations, logger)
}

// NewAppData normalises join keys, coerces advertiser spend and computes the
// merged table from already typed tables.
func NewAppData(results *models.ResultsTable, advertisers *models.AdvertisersTable, locations *models.LocationsTable, logger *utils.Logger) (*AppData, error) {
	cleaner := NewCleaner(logger)
	cleaner.NormaliseResults(results)
	cleaner.NormaliseLocations(locations)

	merged, err := LeftJoin(results, locations, logger)
	if err != nil {
		return nil, err
	}

	coerced, dropped := cleaner.CoerceAdvertisers(advertisers)

	logger.Info("[appdata] Merged %d results rows with %d locations → %d rows (spend from %s)",
		len(results.Rows), len(locations.Rows), len(merged.Rows), spendSourceLabel(merged))

	return &AppData{
		Results:            results,
		Advertisers:        advertisers,
		Locations:          locations,
		Merged:             merged,
		CoercedAdvertisers: coerced,
		DroppedAdvertisers: dropped,
	}, nil
}

func spendSourceLabel(m *models.MergedTable) string {
	if m.SpendSource == "" {
		return "nowhere"
	}
	return m.SpendSource
}
