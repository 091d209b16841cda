package refresh

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// Detail is the per-station fan-out result. Each part carries its own error
// so that one failed source never hides the others.
type Detail struct {
	Station         river.StationRecord        `json:"station"`
	Snowpack        *river.SnowpackObservation `json:"snowpack,omitempty"`
	SnowpackError   string                     `json:"snowpackError,omitempty"`
	Reservoirs      []river.ReservoirInfo      `json:"reservoirs"`
	ReservoirErrors map[int]string             `json:"reservoirErrors,omitempty"`
	Weather         *river.WeatherOutlook      `json:"weather,omitempty"`
	WeatherError    string                     `json:"weatherError,omitempty"`
}

// Detail fetches snowpack, reservoir storage and weather for one station in
// parallel.
func (o *Orchestrator) Detail(ctx context.Context, key river.StationKey) (Detail, error) {
	rec, err := o.Snapshot().Find(key)
	if err != nil {
		return Detail{}, eris.Wrapf(err, "station %s", key)
	}
	d := Detail{Station: rec, Reservoirs: []river.ReservoirInfo{}}

	var g errgroup.Group
	g.Go(func() error {
		d.Snowpack, d.SnowpackError = o.snowpack(ctx, rec)
		return nil
	})
	g.Go(func() error {
		d.Reservoirs, d.ReservoirErrors = o.JoinReservoirs(ctx, rec.ReservoirIDs)
		return nil
	})
	g.Go(func() error {
		d.Weather, d.WeatherError = o.weather(ctx, rec)
		return nil
	})
	_ = g.Wait()
	return d, nil
}

func (o *Orchestrator) snowpack(ctx context.Context, rec river.StationRecord) (*river.SnowpackObservation, string) {
	if rec.SnowStationID == "" {
		return nil, ""
	}
	if o.src.Snow == nil {
		return nil, outcomeDisabled
	}
	obs, err := o.src.Snow.FetchSnowpack(ctx, rec.SnowStationID)
	if err != nil {
		zap.L().Warn("snowpack fetch failed",
			zap.String("component", "refresh"),
			zap.String("station", rec.Key().String()),
			zap.Error(err))
		return nil, river.Outcome(err)
	}
	return &obs, ""
}

func (o *Orchestrator) weather(ctx context.Context, rec river.StationRecord) (*river.WeatherOutlook, string) {
	if o.src.Weather == nil {
		return nil, outcomeDisabled
	}
	at, err := o.coordinates(ctx, rec)
	if err != nil {
		return nil, river.Outcome(err)
	}
	w, err := o.src.Weather.FetchOutlook(ctx, at)
	if err != nil {
		zap.L().Warn("weather fetch failed",
			zap.String("component", "refresh"),
			zap.String("station", rec.Key().String()),
			zap.Error(err))
		return nil, river.Outcome(err)
	}
	return &w, ""
}

// coordinates returns the record's coordinates, resolving and storing them
// first when unknown.
func (o *Orchestrator) coordinates(ctx context.Context, rec river.StationRecord) (river.Coordinates, error) {
	if rec.Coordinates != nil {
		return *rec.Coordinates, nil
	}
	if o.src.Resolver == nil {
		return river.Coordinates{}, eris.Wrapf(river.ErrNoData, "%s has no coordinates", rec.Key())
	}
	c, err := o.src.Resolver.ResolveOne(ctx, rec)
	if err != nil {
		return river.Coordinates{}, err
	}
	if _, err := o.rec.ApplyCoordinates(map[river.StationKey]river.Coordinates{rec.Key(): c}); err != nil {
		zap.L().Warn("store resolved coordinates", zap.String("component", "refresh"), zap.Error(err))
	}
	return c, nil
}

const (
	outcomeDisabled = "disabled"
	outcomeTimeout  = "timeout"
)

type reservoirResult struct {
	id   int
	info river.ReservoirInfo
	err  error
}

// JoinReservoirs fetches every reservoir concurrently and returns when all
// fetches finished or the join timeout elapsed, whichever comes first.
// Reservoirs that failed or did not finish are reported in the error map.
func (o *Orchestrator) JoinReservoirs(ctx context.Context, ids []int) ([]river.ReservoirInfo, map[int]string) {
	infos := []river.ReservoirInfo{}
	if len(ids) == 0 {
		return infos, nil
	}
	errs := make(map[int]string)
	if o.src.Reservoirs == nil {
		for _, id := range ids {
			errs[id] = outcomeDisabled
		}
		return infos, errs
	}

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan reservoirResult, len(ids))
	for _, id := range ids {
		go func() {
			results <- o.reservoir(jctx, id)
		}()
	}

	pending := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	timeout := o.clock.After(o.cfg.ReservoirJoinTimeout)
collect:
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.id)
			if o.onReservoirResult != nil {
				o.onReservoirResult(r.id)
			}
			if r.err != nil {
				errs[r.id] = river.Outcome(r.err)
				continue
			}
			infos = append(infos, r.info)
		case <-timeout:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	for id := range pending {
		errs[id] = outcomeTimeout
	}
	if len(pending) > 0 {
		zap.L().Warn("reservoir join timed out",
			zap.String("component", "refresh"),
			zap.Int("pending", len(pending)),
			zap.Int("completed", len(infos)))
	}

	order := make(map[int]int, len(ids))
	for i, id := range ids {
		order[id] = i
	}
	sort.Slice(infos, func(i, j int) bool { return order[infos[i].ID] < order[infos[j].ID] })
	if len(errs) == 0 {
		errs = nil
	}
	return infos, errs
}

func (o *Orchestrator) reservoir(ctx context.Context, id int) reservoirResult {
	ref, err := o.src.Catalog.Lookup(id)
	if err != nil {
		return reservoirResult{id: id, err: err}
	}
	rows, err := o.src.Reservoirs.FetchStorage(ctx, id)
	if err != nil {
		return reservoirResult{id: id, err: err}
	}
	info, err := river.BuildReservoirInfo(ref, rows)
	return reservoirResult{id: id, info: info, err: err}
}

// Forecast predicts daily flow for one station from its recent history and
// the temperature forecast at its location.
func (o *Orchestrator) Forecast(ctx context.Context, key river.StationKey) ([]river.ForecastPoint, error) {
	if o.src.Forecaster == nil || o.src.History == nil || o.src.Weather == nil {
		return nil, eris.Wrap(ErrDisabled, "forecast")
	}
	rec, err := o.Snapshot().Find(key)
	if err != nil {
		return nil, eris.Wrapf(err, "station %s", key)
	}
	site := river.SiteNumber(rec)
	if site == "" {
		return nil, eris.Wrapf(river.ErrInvalidIdentifier, "%s has no usgs site number", key)
	}
	if !o.Forecastable(rec) {
		return nil, eris.Wrapf(river.ErrNoData, "%s has no forecast model", key)
	}

	var (
		history []river.FlowRange
		outlook river.WeatherOutlook
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = o.src.History.FetchHistory(gctx, site, river.HistoryWindowDays)
		return err
	})
	g.Go(func() error {
		at, err := o.coordinates(gctx, rec)
		if err != nil {
			return err
		}
		outlook, err = o.src.Weather.FetchOutlook(gctx, at)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "forecast inputs for %s", key)
	}

	features, err := river.BuildFeatures(site, o.clock.Now(), history, outlook.Forecast)
	if err != nil {
		return nil, err
	}
	points, err := o.src.Forecaster.Predict(ctx, features)
	if err != nil {
		return nil, eris.Wrapf(err, "predict %s", key)
	}
	return points, nil
}
