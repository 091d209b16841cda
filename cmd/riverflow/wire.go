package main

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/config"
	"github.com/i474232898/river-flow-aggregation/internal/favorites"
	"github.com/i474232898/river-flow-aggregation/internal/observability"
	"github.com/i474232898/river-flow-aggregation/internal/reconcile"
	"github.com/i474232898/river-flow-aggregation/internal/refresh"
	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/river/sources"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

const geocodeCacheEntries = 1024

// pipeline is everything a command needs once wiring is done.
type pipeline struct {
	orchestrator *refresh.Orchestrator
	metrics      *observability.Metrics
	favorites    favorites.Store
}

func (p *pipeline) Close() error {
	return p.favorites.Close()
}

func buildPipeline(ctx context.Context, cfg *config.AppConfig) (*pipeline, error) {
	links, err := config.LoadLinks(cfg.StationLinksFile)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	httpCfg := sources.DefaultHTTPConfig(&http.Client{Timeout: cfg.HTTPTimeout})
	httpCfg.Backoff.MaxRetries = cfg.FetchMaxRetries
	httpCfg.RatePerSec = cfg.FetchRatePerSec
	httpCfg.Recorder = metrics

	var geocoder river.Geocoder
	if cfg.GeocoderAPIKey != "" {
		geocoder = sources.NewPlaceGeocoder(cfg.GeocoderAPIKey, cfg.FetchRatePerSec, geocodeCacheEntries)
	}
	inventory := sources.NewUSGSInventory(cfg.URLs.USGSInventory, cfg.StateCode, httpCfg)

	src := refresh.Sources{
		Lists: []river.StationListSource{
			sources.NewUSGSStations(cfg.URLs.USGSCurrent, httpCfg),
			sources.NewStateStations(cfg.URLs.StateStations, httpCfg),
		},
		Flows: map[river.Agency]river.FlowSource{
			river.AgencyUSGS:  sources.NewUSGSInstantFlow(cfg.URLs.USGSInstant, httpCfg, clock),
			river.AgencyState: sources.NewStateFlow(cfg.URLs.StateFlow, httpCfg),
		},
		Resolver:   river.NewResolver(inventory, geocoder, cfg.StateCode),
		History:    sources.NewUSGSDailyHistory(cfg.URLs.USGSDaily, httpCfg, clock),
		Reservoirs: sources.NewReservoirClient(cfg.URLs.ReservoirTemplate, httpCfg),
		Catalog:    links.Reservoirs,
		Snow:       sources.NewSnotelClient(cfg.URLs.SnotelTemplate, httpCfg),
	}
	if cfg.OpenWeatherAPIKey != "" {
		src.Weather = sources.NewOpenWeatherClient(cfg.OpenWeatherAPIKey, cfg.URLs.OpenWeatherBase, httpCfg)
	} else {
		zap.L().Info("weather outlook disabled: OPENWEATHER_API_KEY not set")
	}
	if cfg.ForecastURL != "" {
		src.Forecaster = sources.NewHTTPForecaster(cfg.ForecastURL, httpCfg)
		src.ForecastSites = sources.NewForecastSites(cfg.ForecastSitesURL, httpCfg)
	}

	favs, err := favorites.Open(ctx, cfg.FavoritesDSN)
	if err != nil {
		return nil, eris.Wrap(err, "open favorites store")
	}
	src.Favorites = favs

	ds := store.New(clock, metrics.ObserveSnapshot)
	rec := reconcile.New(ds, clock,
		reconcile.WithLinks(links.Stations),
		reconcile.WithRecorder(metrics),
		reconcile.WithTombstoneTTL(cfg.TombstoneTTL),
	)
	orch := refresh.New(rec, src, refresh.Config{
		ReservoirJoinTimeout: cfg.ReservoirJoinTimeout,
		FlowFetchTimeout:     cfg.FlowFetchTimeout,
	}, clock, metrics)

	if err := orch.RestoreFavorites(ctx); err != nil {
		zap.L().Warn("restore favorites failed", zap.Error(err))
	}

	return &pipeline{orchestrator: orch, metrics: metrics, favorites: favs}, nil
}
