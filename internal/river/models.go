package river

import (
	"slices"
	"time"
)

// Agency identifies the publisher of a station record. It is half of the
// canonical identifier and decides which identifier space PrimaryID lives in.
type Agency string

const (
	AgencyUSGS    Agency = "USGS"
	AgencyState   Agency = "DWR"
	AgencyUnknown Agency = "UNKNOWN"
)

// SourceKind names the external feed a partial record or observation came from.
type SourceKind string

const (
	SourceUSGSCurrent   SourceKind = "usgs_current"
	SourceUSGSInstant   SourceKind = "usgs_iv"
	SourceUSGSDaily     SourceKind = "usgs_dv"
	SourceCoordinates   SourceKind = "usgs_inventory"
	SourceStateStations SourceKind = "dwr_stations"
	SourceStateFlow     SourceKind = "dwr_flow"
	SourceReservoir     SourceKind = "usbr_reservoir"
	SourceSnowTelemetry SourceKind = "nrcs_snotel"
	SourceWeather       SourceKind = "openweather"
	SourceGeocoder      SourceKind = "geocoder"
	SourceForecast      SourceKind = "forecast"
	SourceForecastSites SourceKind = "forecast_sites"
)

// Agency returns the agency whose namespace a list source populates.
func (k SourceKind) Agency() Agency {
	switch k {
	case SourceUSGSCurrent, SourceUSGSInstant, SourceUSGSDaily, SourceCoordinates:
		return AgencyUSGS
	case SourceStateStations, SourceStateFlow:
		return AgencyState
	default:
		return AgencyUnknown
	}
}

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FlowObservation is a single discharge reading in cubic feet per second.
type FlowObservation struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
}

// StationRecord is the canonical, reconciled view of one station.
type StationRecord struct {
	Agency      Agency `json:"agency"`
	PrimaryID   string `json:"primaryId"`
	SecondaryID *int   `json:"secondaryId,omitempty"`

	// LinkedSiteNumber is the USGS site number a state-agency station reports
	// for itself. It drives the alias table and never merges identities.
	LinkedSiteNumber string `json:"linkedSiteNumber,omitempty"`

	DisplayName     string           `json:"displayName"`
	Coordinates     *Coordinates     `json:"coordinates,omitempty"`
	LatestFlow      *FlowObservation `json:"latestFlow,omitempty"`
	ReservoirIDs    []int            `json:"reservoirIds"`
	SnowStationID   string           `json:"snowStationId,omitempty"`
	LastRefreshedAt time.Time        `json:"lastRefreshedAt"`
	IsFavorite      bool             `json:"isFavorite"`

	// Source is the list feed that created the record.
	Source SourceKind `json:"source"`
}

// Key returns the canonical identifier of the record.
func (r StationRecord) Key() StationKey {
	return StationKey{Agency: r.Agency, ID: r.PrimaryID}
}

// Clone returns a deep copy so snapshots never share mutable state.
func (r StationRecord) Clone() StationRecord {
	out := r
	if r.SecondaryID != nil {
		v := *r.SecondaryID
		out.SecondaryID = &v
	}
	if r.Coordinates != nil {
		c := *r.Coordinates
		out.Coordinates = &c
	}
	if r.LatestFlow != nil {
		f := *r.LatestFlow
		out.LatestFlow = &f
	}
	out.ReservoirIDs = slices.Clone(r.ReservoirIDs)
	if out.ReservoirIDs == nil {
		out.ReservoirIDs = []int{}
	}
	return out
}

// NeedsFlow reports whether the record only carries a placeholder flow and
// should be refreshed by the per-station flow cycle.
func (r StationRecord) NeedsFlow() bool {
	return r.LatestFlow == nil || r.LatestFlow.Value == 0
}

// PartialRecord is what a source parser yields: a subset of station fields
// tagged with the feed it came from.
type PartialRecord struct {
	Source           SourceKind
	Agency           Agency
	PrimaryID        string
	SecondaryID      *int
	LinkedSiteNumber string
	DisplayName      string
	Coordinates      *Coordinates
	Flow             *FlowObservation
}

// Key returns the canonical identifier the partial record targets.
func (p PartialRecord) Key() StationKey {
	return StationKey{Agency: p.Agency, ID: p.PrimaryID}
}

// StorageData is one reservoir storage reading in acre-feet.
type StorageData struct {
	Date    time.Time `json:"date"`
	Storage float64   `json:"storage"`
}

// ReservoirInfo is the resolved state of one reservoir.
type ReservoirInfo struct {
	ID            int           `json:"id"`
	Name          string        `json:"name"`
	Capacity      float64       `json:"capacity"`
	Latest        StorageData   `json:"latest"`
	PercentFilled float64       `json:"percentFilled"`
	Series        []StorageData `json:"series,omitempty"`
}

// SnowpackObservation is the most recent snow-telemetry reading for a station.
type SnowpackObservation struct {
	StationName         string    `json:"stationName"`
	Date                time.Time `json:"date"`
	SnowWaterEquivalent float64   `json:"snowWaterEquivalent"`
	PercentOfAverage    float64   `json:"percentOfAverage"`
}

// TempRange is a [max, min] temperature pair in degrees Fahrenheit.
type TempRange struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// WeatherOutlook combines current conditions with the truncated forecast list.
type WeatherOutlook struct {
	Current  TempRange   `json:"current"`
	Forecast []TempRange `json:"forecast"`
}

// FlowRange is a daily [max, min] discharge pair.
type FlowRange struct {
	Date time.Time `json:"date"`
	Max  float64   `json:"max"`
	Min  float64   `json:"min"`
}

// ForecastPoint is one predicted daily flow value.
type ForecastPoint struct {
	Date time.Time `json:"date"`
	Flow float64   `json:"flow"`
}

// StationLink binds a station to its snow-telemetry station and reservoirs.
type StationLink struct {
	Key           StationKey
	SnowStationID string
	ReservoirIDs  []int
}
