package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

func forecastPayload(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"main": {"temp_max": %d, "temp_min": %d}}`, 60+i, 30+i)
	}
	return `{"list": [` + strings.Join(items, ",") + `]}`
}

func TestOpenWeatherOutlook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "imperial", r.URL.Query().Get("units"))
		assert.Equal(t, "key", r.URL.Query().Get("appid"))
		switch r.URL.Path {
		case "/weather":
			_, _ = w.Write([]byte(`{"main": {"temp": 50, "temp_max": 55.5, "temp_min": 40.1}}`))
		case "/forecast":
			_, _ = w.Write([]byte(forecastPayload(40)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOpenWeatherClient("key", srv.URL, testHTTPConfig(t))
	out, err := c.FetchOutlook(context.Background(), river.Coordinates{Latitude: 39.2, Longitude: -106.3})
	require.NoError(t, err)

	assert.Equal(t, river.TempRange{High: 55.5, Low: 40.1}, out.Current)
	require.Len(t, out.Forecast, river.TemperatureWindowDays)
	assert.Equal(t, river.TempRange{High: 60, Low: 30}, out.Forecast[0])
	assert.Equal(t, river.TempRange{High: 73, Low: 43}, out.Forecast[13])
}

func TestOpenWeatherEitherCallFailingFailsOutlook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forecast" {
			_, _ = w.Write([]byte(`{"cod": "200"}`))
			return
		}
		_, _ = w.Write([]byte(`{"main": {"temp_max": 1, "temp_min": 0}}`))
	}))
	defer srv.Close()

	_, err := NewOpenWeatherClient("key", srv.URL, testHTTPConfig(t)).FetchOutlook(context.Background(), river.Coordinates{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, river.ErrDecoding))
}

func TestOpenWeatherRequiresKey(t *testing.T) {
	_, err := NewOpenWeatherClient("", "", testHTTPConfig(t)).FetchOutlook(context.Background(), river.Coordinates{})
	assert.Error(t, err)
}

func TestParseForecastTempsShortList(t *testing.T) {
	temps, err := ParseForecastTemps([]byte(forecastPayload(3)), river.TemperatureWindowDays)
	require.NoError(t, err)
	assert.Len(t, temps, 3)

	_, err = ParseForecastTemps([]byte(`{"list": []}`), river.TemperatureWindowDays)
	assert.True(t, errors.Is(err, river.ErrNoData))
}
