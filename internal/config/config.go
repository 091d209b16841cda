package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SourceURLs overrides upstream endpoints. Empty fields use the client defaults.
type SourceURLs struct {
	USGSCurrent       string
	USGSInstant       string
	USGSDaily         string
	USGSInventory     string
	StateStations     string
	StateFlow         string
	ReservoirTemplate string
	SnotelTemplate    string
	OpenWeatherBase   string
}

type AppConfig struct {
	Port      string
	LogLevel  string
	LogFormat string

	HTTPTimeout     time.Duration
	FetchMaxRetries int
	FetchRatePerSec float64

	// RefreshInterval drives the scheduler unless RefreshCron is set.
	RefreshInterval time.Duration
	RefreshCron     string

	ReservoirJoinTimeout time.Duration
	FlowFetchTimeout     time.Duration
	TombstoneTTL         time.Duration

	StateCode         string
	OpenWeatherAPIKey string
	GeocoderAPIKey    string

	FavoritesDSN     string
	ForecastURL      string
	ForecastSitesURL string
	StationLinksFile string

	URLs SourceURLs
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("no .env file loaded", zap.Error(err))
	}
	cfg := &AppConfig{
		Port:              getenvDefault("PORT", "8080"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("LOG_FORMAT", "json"),
		FetchMaxRetries:   getenvInt("FETCH_MAX_RETRIES", 3),
		FetchRatePerSec:   getenvFloat("FETCH_RATE_PER_SEC", 5),
		RefreshCron:       strings.TrimSpace(os.Getenv("REFRESH_CRON")),
		StateCode:         strings.ToUpper(getenvDefault("STATE_CODE", "CO")),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),
		FavoritesDSN:      getenvDefault("FAVORITES_DSN", "file:favorites.db"),
		ForecastURL:       os.Getenv("FORECAST_URL"),
		ForecastSitesURL:  os.Getenv("FORECAST_SITES_URL"),
		StationLinksFile:  os.Getenv("STATION_LINKS_FILE"),
		URLs: SourceURLs{
			USGSCurrent:       os.Getenv("USGS_CURRENT_URL"),
			USGSInstant:       os.Getenv("USGS_IV_URL"),
			USGSDaily:         os.Getenv("USGS_DV_URL"),
			USGSInventory:     os.Getenv("USGS_INVENTORY_URL"),
			StateStations:     os.Getenv("DWR_STATIONS_URL"),
			StateFlow:         os.Getenv("DWR_FLOW_URL"),
			ReservoirTemplate: os.Getenv("RESERVOIR_URL_TEMPLATE"),
			SnotelTemplate:    os.Getenv("SNOTEL_URL_TEMPLATE"),
			OpenWeatherBase:   os.Getenv("OPENWEATHER_BASE_URL"),
		},
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "15s", &cfg.HTTPTimeout},
		{"REFRESH_INTERVAL", "30m", &cfg.RefreshInterval},
		{"RESERVOIR_JOIN_TIMEOUT", "10s", &cfg.ReservoirJoinTimeout},
		{"FLOW_FETCH_TIMEOUT", "20s", &cfg.FlowFetchTimeout},
		{"TOMBSTONE_TTL", "24h", &cfg.TombstoneTTL},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return eris.Wrapf(err, "invalid REFRESH_CRON %q", c.RefreshCron)
		}
	}
	if c.RefreshCron == "" && c.RefreshInterval < time.Minute {
		return eris.Errorf("invalid REFRESH_INTERVAL %s: must be at least 1m", c.RefreshInterval)
	}
	if c.FetchMaxRetries < 0 {
		return eris.Errorf("invalid FETCH_MAX_RETRIES %d", c.FetchMaxRetries)
	}
	if c.FetchRatePerSec <= 0 {
		return eris.Errorf("invalid FETCH_RATE_PER_SEC %v", c.FetchRatePerSec)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	raw := getenvDefault(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
