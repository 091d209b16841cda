package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/observability"
	"github.com/i474232898/river-flow-aggregation/internal/refresh"
	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var observed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	ds        *store.DatasetStore
	favorites map[river.StationKey]bool
	cycleErr  error
	forecast  error
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	ds := store.New(clockwork.NewFakeClockAt(observed))
	_, err := ds.Update(func(b *store.Batch) error {
		b.Upsert(river.StationRecord{
			Agency: river.AgencyUSGS, PrimaryID: "09058000", DisplayName: "COLORADO RIVER NEAR KREMMLING, CO",
			Coordinates: &river.Coordinates{Latitude: 40.03, Longitude: -106.44},
			LatestFlow:  &river.FlowObservation{Value: 1220, ObservedAt: observed},
			IsFavorite:  true,
		})
		b.Upsert(river.StationRecord{Agency: river.AgencyUSGS, PrimaryID: "09057500", DisplayName: "BLUE RIVER BELOW GREEN MOUNTAIN RESERVOIR"})
		b.Upsert(river.StationRecord{
			Agency: river.AgencyState, PrimaryID: "ARKGRACO", DisplayName: "ARKANSAS RIVER AT GRANITE",
			Coordinates: &river.Coordinates{Latitude: 39.04, Longitude: -106.26},
			LatestFlow:  &river.FlowObservation{Value: 300, ObservedAt: observed},
		})
		b.SetCycleID("cycle-1")
		return nil
	})
	require.NoError(t, err)
	return &fakeService{ds: ds, favorites: map[river.StationKey]bool{}}
}

func (f *fakeService) Snapshot() *store.Snapshot { return f.ds.Snapshot() }
func (f *fakeService) Status() refresh.Status {
	return refresh.Status{State: refresh.StatePublished, CycleID: "cycle-1", Outcome: refresh.OutcomeComplete}
}
func (f *fakeService) RunCycle(context.Context) (refresh.Status, error) {
	return f.Status(), f.cycleErr
}
func (f *fakeService) Station(_ context.Context, key river.StationKey) (refresh.StationView, error) {
	rec, err := f.ds.Snapshot().Find(key)
	if err != nil {
		return refresh.StationView{}, err
	}
	status := refresh.FlowAvailable
	if rec.NeedsFlow() {
		status = refresh.FlowFetching
	}
	return refresh.StationView{Record: rec, FlowStatus: status, Aliases: []river.StationKey{}}, nil
}
func (f *fakeService) Detail(_ context.Context, key river.StationKey) (refresh.Detail, error) {
	rec, err := f.ds.Snapshot().Find(key)
	if err != nil {
		return refresh.Detail{}, err
	}
	return refresh.Detail{Station: rec, Reservoirs: []river.ReservoirInfo{}, WeatherError: "network_failure"}, nil
}
func (f *fakeService) Forecast(_ context.Context, key river.StationKey) ([]river.ForecastPoint, error) {
	if f.forecast != nil {
		return nil, f.forecast
	}
	if key.ID != "09058000" {
		return nil, eris.Wrapf(river.ErrNoData, "%s has no forecast model", key)
	}
	return river.DatePredictions(observed, []float64{1200, 1180}), nil
}
func (f *fakeService) SetFavorite(_ context.Context, key river.StationKey, favorite bool) error {
	if _, err := f.ds.Snapshot().Find(key); err != nil {
		return eris.Wrapf(err, "favorite %s", key)
	}
	f.favorites[key] = favorite
	return nil
}
func (f *fakeService) FlowInFlight(key river.StationKey) bool { return key.ID == "09057500" }
func (f *fakeService) Forecastable(rec river.StationRecord) bool {
	return river.SiteNumber(rec) == "09058000"
}

func doRequest(t *testing.T, svc Service, method, target string) (int, []byte) {
	t.Helper()
	app := NewApp(svc, promhttp.Handler())
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","service":"river-flow-aggregation"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	m, reg := observability.NewMetricsForTesting()
	m.FlowUpdate("applied")
	app := NewApp(newFakeService(t), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `riverflow_flow_updates_total{result="applied"} 1`)
}

func TestStatus(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		Version  uint64         `json:"version"`
		CycleID  string         `json:"cycleId"`
		Stations map[string]int `json:"stations"`
		Cycle    refresh.Status `json:"cycle"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, "cycle-1", got.CycleID)
	assert.Equal(t, map[string]int{"USGS": 2, "DWR": 1}, got.Stations)
	assert.Equal(t, refresh.StatePublished, got.Cycle.State)
}

type listResponse struct {
	Count    int `json:"count"`
	Stations []struct {
		Agency     string `json:"agency"`
		PrimaryID  string `json:"primaryId"`
		FlowStatus string `json:"flowStatus"`
	} `json:"stations"`
}

func TestListStations(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ids   []string
	}{
		{"all", "", []string{"ARKGRACO", "09057500", "09058000"}},
		{"usgs", "?agency=USGS", []string{"09057500", "09058000"}},
		{"state alias", "?agency=state", []string{"ARKGRACO"}},
		{"favorites", "?favorites=true", []string{"09058000"}},
		{"favorite dwr", "?favorites=1&agency=dwr", []string{}},
		{"forecastable", "?forecastable=true", []string{"09058000"}},
		{"forecastable dwr", "?forecastable=1&agency=dwr", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations"+tc.query)
			require.Equal(t, http.StatusOK, code, string(body))
			var got listResponse
			require.NoError(t, json.Unmarshal(body, &got))
			ids := []string{}
			for _, s := range got.Stations {
				ids = append(ids, s.PrimaryID)
			}
			assert.Equal(t, tc.ids, ids)
			assert.Equal(t, len(tc.ids), got.Count)
		})
	}
}

func TestListStationsFlowStatus(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations?agency=usgs")
	require.Equal(t, http.StatusOK, code)
	var got listResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Stations, 2)
	assert.Equal(t, "fetching", got.Stations[0].FlowStatus)
	assert.Equal(t, "available", got.Stations[1].FlowStatus)
}

func TestListStationsValidation(t *testing.T) {
	for _, q := range []string{"?agency=nasa", "?favorites=maybe", "?forecastable=yes"} {
		code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations"+q)
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.Contains(t, string(body), `"error":true`)
	}
}

func TestGeoJSON(t *testing.T) {
	app := NewApp(newFakeService(t), promhttp.Handler())
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/stations/geojson", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2, "stations without coordinates are excluded")
	assert.Equal(t, "DWR ARKGRACO", fc.Features[0].ID)
	assert.Equal(t, "Point", fc.Features[1].Geometry.Type)
	assert.Equal(t, []float64{-106.44, 40.03}, fc.Features[1].Geometry.Coordinates)
	assert.Equal(t, 1220.0, fc.Features[1].Properties["flow"])
}

func TestGetStation(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations/usgs/09058000")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		Station      river.StationRecord `json:"station"`
		FlowStatus   string              `json:"flowStatus"`
		Name         river.StationName   `json:"name"`
		Forecastable bool                `json:"forecastable"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "09058000", got.Station.PrimaryID)
	assert.True(t, got.Forecastable)
	assert.Equal(t, 1220.0, got.Station.LatestFlow.Value)
	assert.Equal(t, "available", got.FlowStatus)
	assert.Equal(t, "COLORADO RIVER", got.Name.MainStem)
	assert.Equal(t, "KREMMLING, CO", got.Name.Relation)
}

func TestGetStationErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"unknown agency", "/api/v1/stations/nasa/1", http.StatusBadRequest},
		{"malformed usgs id", "/api/v1/stations/usgs/123", http.StatusBadRequest},
		{"not found", "/api/v1/stations/usgs/01010101", http.StatusNotFound},
		{"detail not found", "/api/v1/stations/dwr/NOPE/detail", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doRequest(t, newFakeService(t), http.MethodGet, tc.target)
			assert.Equal(t, tc.code, code, string(body))
		})
	}
}

func TestDetail(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations/dwr/ARKGRACO/detail")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"weatherError":"network_failure"`)
	assert.Contains(t, string(body), `"reservoirs":[]`)
}

func TestForecastEndpoint(t *testing.T) {
	code, body := doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations/usgs/09058000/forecast")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"flow":1180`)

	code, _ = doRequest(t, newFakeService(t), http.MethodGet, "/api/v1/stations/usgs/09057500/forecast")
	assert.Equal(t, http.StatusNotFound, code, "station without a model")

	svc := newFakeService(t)
	svc.forecast = eris.Wrap(refresh.ErrDisabled, "forecast")
	code, _ = doRequest(t, svc, http.MethodGet, "/api/v1/stations/usgs/09058000/forecast")
	assert.Equal(t, http.StatusNotImplemented, code)

	svc.forecast = eris.Wrap(river.ErrNetworkFailure, "usgs daily values")
	code, _ = doRequest(t, svc, http.MethodGet, "/api/v1/stations/usgs/09058000/forecast")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestFavoriteEndpoints(t *testing.T) {
	svc := newFakeService(t)
	key := river.StationKey{Agency: river.AgencyState, ID: "ARKGRACO"}

	code, body := doRequest(t, svc, http.MethodPut, "/api/v1/stations/dwr/ARKGRACO/favorite")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.True(t, svc.favorites[key])
	assert.True(t, strings.Contains(string(body), `"isFavorite":true`))

	code, _ = doRequest(t, svc, http.MethodDelete, "/api/v1/stations/dwr/ARKGRACO/favorite")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, svc.favorites[key])

	code, _ = doRequest(t, svc, http.MethodPut, "/api/v1/stations/usgs/01010101/favorite")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRefreshEndpoint(t *testing.T) {
	svc := newFakeService(t)
	code, body := doRequest(t, svc, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"outcome":"complete"`)

	svc.cycleErr = eris.Wrap(refresh.ErrAllSourcesFailed, "network failure")
	code, _ = doRequest(t, svc, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusBadGateway, code)
}
