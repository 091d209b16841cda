package river

import "context"

// StationListSource yields the station list of one agency.
type StationListSource interface {
	Kind() SourceKind
	FetchStations(ctx context.Context) ([]PartialRecord, error)
}

// FlowSource fetches the latest flow observation for a single station.
type FlowSource interface {
	Kind() SourceKind
	FetchFlow(ctx context.Context, rec StationRecord) (FlowObservation, error)
}

// CoordinateSource resolves coordinates keyed by USGS site number.
type CoordinateSource interface {
	FetchCoordinates(ctx context.Context) (map[string]Coordinates, error)
	LookupCoordinates(ctx context.Context, site string) (Coordinates, error)
}

// HistorySource returns daily [max, min] flow pairs, oldest first.
type HistorySource interface {
	FetchHistory(ctx context.Context, site string, days int) ([]FlowRange, error)
}

// ReservoirSource returns the storage series of one reservoir.
type ReservoirSource interface {
	FetchStorage(ctx context.Context, reservoirID int) ([]StorageData, error)
}

// SnowSource returns the latest snow-telemetry reading of one station.
type SnowSource interface {
	FetchSnowpack(ctx context.Context, stationID string) (SnowpackObservation, error)
}

// WeatherSource returns current conditions plus the truncated forecast.
type WeatherSource interface {
	FetchOutlook(ctx context.Context, at Coordinates) (WeatherOutlook, error)
}

// Geocoder resolves a free-form place query to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Coordinates, error)
}

// Forecaster is the opaque flow prediction capability.
type Forecaster interface {
	Predict(ctx context.Context, features ForecastFeatures) ([]ForecastPoint, error)
}

// ForecastSiteSource lists the USGS site numbers that have a forecast model.
type ForecastSiteSource interface {
	FetchForecastSites(ctx context.Context) ([]string, error)
}

// FavoritesStore persists the user's favorite station set.
type FavoritesStore interface {
	Get(ctx context.Context) (KeySet, error)
	Set(ctx context.Context, ids KeySet) error
}
