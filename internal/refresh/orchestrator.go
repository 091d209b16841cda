package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/river-flow-aggregation/internal/reconcile"
	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

// State is the phase of the full refresh cycle.
type State string

const (
	StateIdle                 State = "idle"
	StateFetchingStationLists State = "fetching_station_lists"
	StateResolvingCoordinates State = "resolving_coordinates"
	StatePublished            State = "published"
)

const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

var (
	// ErrAllSourcesFailed is returned when no station list could be fetched.
	ErrAllSourcesFailed = errors.New("all station list sources failed")
	// ErrDisabled is returned for features that are not configured.
	ErrDisabled = errors.New("feature not configured")
)

// Status describes the most recent full refresh cycle.
type Status struct {
	State      State             `json:"state"`
	CycleID    string            `json:"cycleId,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Outcome    string            `json:"outcome,omitempty"`
	Sources    map[string]string `json:"sources,omitempty"`
	Added      int               `json:"added"`
	Dropped    int               `json:"dropped"`
	Resolved   int               `json:"resolved"`
}

// Recorder receives cycle outcomes.
type Recorder interface {
	RefreshCycle(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RefreshCycle(string) {}

// Config holds the orchestrator timeouts.
type Config struct {
	ReservoirJoinTimeout time.Duration
	FlowFetchTimeout     time.Duration
}

// Sources bundles the collaborators the orchestrator drives. Any optional
// source left nil disables the feature that needs it.
type Sources struct {
	Lists      []river.StationListSource
	Flows      map[river.Agency]river.FlowSource
	Resolver   *river.Resolver
	History    river.HistorySource
	Reservoirs river.ReservoirSource
	Catalog    river.ReservoirCatalog
	Snow       river.SnowSource
	Weather    river.WeatherSource
	Forecaster river.Forecaster
	// ForecastSites lists the site numbers that have a forecast model. Nil
	// leaves every station with a site number forecastable.
	ForecastSites river.ForecastSiteSource
	Favorites     river.FavoritesStore
}

// Orchestrator runs refresh cycles and routes every result through the
// reconciler.
type Orchestrator struct {
	rec      *reconcile.Reconciler
	src      Sources
	cfg      Config
	clock    clockwork.Clock
	recorder Recorder
	newID    func() string

	cycles  singleflight.Group
	flights singleflight.Group

	// favMu serializes every read-modify-write of the persisted favorite set
	// with the rebuild that applies it.
	favMu sync.Mutex

	// onReservoirResult, when set, observes every reservoir result the join
	// collects.
	onReservoirResult func(id int)

	mu            sync.Mutex
	status        Status
	inflight      map[river.StationKey]struct{}
	forecastSites map[string]struct{}
}

func New(rec *reconcile.Reconciler, src Sources, cfg Config, clock clockwork.Clock, recorder Recorder) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.ReservoirJoinTimeout <= 0 {
		cfg.ReservoirJoinTimeout = 10 * time.Second
	}
	if cfg.FlowFetchTimeout <= 0 {
		cfg.FlowFetchTimeout = 20 * time.Second
	}
	if src.Catalog == nil {
		src.Catalog = river.DefaultReservoirs()
	}
	return &Orchestrator{
		rec:      rec,
		src:      src,
		cfg:      cfg,
		clock:    clock,
		recorder: recorder,
		newID:    uuid.NewString,
		status:   Status{State: StateIdle},
		inflight: make(map[river.StationKey]struct{}),
	}
}

// Snapshot returns the current published dataset.
func (o *Orchestrator) Snapshot() *store.Snapshot {
	return o.rec.Store().Snapshot()
}

// Status returns a copy of the current cycle status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	if s.Sources != nil {
		s.Sources = make(map[string]string, len(o.status.Sources))
		for k, v := range o.status.Sources {
			s.Sources[k] = v
		}
	}
	return s
}

func (o *Orchestrator) setState(st State) {
	o.mu.Lock()
	o.status.State = st
	o.mu.Unlock()
}

// RestoreFavorites applies the persisted favorite set to the current dataset.
func (o *Orchestrator) RestoreFavorites(ctx context.Context) error {
	if o.src.Favorites == nil {
		return nil
	}
	o.favMu.Lock()
	defer o.favMu.Unlock()
	ids, err := o.src.Favorites.Get(ctx)
	if err != nil {
		return eris.Wrap(err, "load favorites")
	}
	_, err = o.rec.ApplyFavoriteSnapshot(ids)
	return err
}

// SetFavorite adds or removes one key in the persisted favorite set and then
// flags the record. Persisted keys whose records are absent from the current
// dataset are left untouched. Removing a favorite from a station that is not
// in the dataset only edits the persisted set.
func (o *Orchestrator) SetFavorite(ctx context.Context, key river.StationKey, favorite bool) error {
	o.favMu.Lock()
	defer o.favMu.Unlock()

	_, err := o.Snapshot().Find(key)
	missing := errors.Is(err, store.ErrNotFound)
	if err != nil && (favorite || o.src.Favorites == nil) {
		return eris.Wrapf(err, "favorite %s", key)
	}

	if o.src.Favorites != nil {
		ids, err := o.src.Favorites.Get(ctx)
		if err != nil {
			return eris.Wrap(err, "load favorites")
		}
		ids = ids.Clone()
		if favorite {
			ids.Add(key)
		} else {
			ids.Remove(key)
		}
		if err := o.src.Favorites.Set(ctx, ids); err != nil {
			return eris.Wrap(err, "persist favorites")
		}
	}
	if missing {
		return nil
	}
	return o.rec.SetFavorite(key, favorite)
}

// RunCycle performs one full refresh: all station lists are fetched in
// parallel, the dataset is rebuilt and published, then missing coordinates
// are resolved and published as a second batch. Concurrent callers share
// the running cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (Status, error) {
	v, err, _ := o.cycles.Do("cycle", func() (any, error) {
		return o.runCycle(ctx)
	})
	st, _ := v.(Status)
	return st, err
}

func (o *Orchestrator) runCycle(ctx context.Context) (Status, error) {
	cycleID := o.newID()
	o.mu.Lock()
	o.status = Status{
		State:     StateFetchingStationLists,
		CycleID:   cycleID,
		StartedAt: o.clock.Now(),
		Sources:   map[string]string{},
	}
	o.mu.Unlock()
	log := zap.L().With(zap.String("component", "refresh"), zap.String("cycle_id", cycleID))
	log.Info("refresh cycle started", zap.Int("sources", len(o.src.Lists)))

	batches := o.fetchLists(ctx)

	succeeded := 0
	var firstErr error
	sources := make(map[string]string, len(batches))
	for _, b := range batches {
		sources[string(b.Source)] = river.Outcome(b.Err)
		if b.Err == nil {
			succeeded++
			continue
		}
		if firstErr == nil {
			firstErr = b.Err
		}
		log.Warn("station list fetch failed", zap.String("source", string(b.Source)), zap.Error(b.Err))
	}

	if succeeded == 0 && len(batches) > 0 {
		return o.finish(OutcomeFailed, sources, reconcile.MergeStats{}, 0), eris.Wrapf(ErrAllSourcesFailed, "%v", firstErr)
	}

	o.favMu.Lock()
	var persisted river.KeySet
	if o.src.Favorites != nil {
		ids, err := o.src.Favorites.Get(ctx)
		if err != nil {
			log.Warn("favorites unavailable, keeping snapshot favorites", zap.Error(err))
			ids = nil
		} else if ids == nil {
			ids = river.KeySet{}
		}
		persisted = ids
	}
	stats, err := o.rec.Rebuild(cycleID, batches, persisted)
	o.favMu.Unlock()
	if err != nil {
		return o.finish(OutcomeFailed, sources, stats, 0), eris.Wrap(err, "publish station lists")
	}

	o.setState(StateResolvingCoordinates)
	resolved, resolveErr := o.resolveCoordinates(ctx)
	if resolveErr != nil {
		sources[string(river.SourceCoordinates)] = river.Outcome(resolveErr)
		log.Warn("coordinate resolution incomplete", zap.Error(resolveErr))
	}

	sitesErr := o.loadForecastSites(ctx)
	if sitesErr != nil {
		sources[string(river.SourceForecastSites)] = river.Outcome(sitesErr)
		log.Warn("forecast site list unavailable, keeping previous list", zap.Error(sitesErr))
	}

	outcome := OutcomeComplete
	if succeeded < len(batches) || resolveErr != nil || sitesErr != nil {
		outcome = OutcomePartial
	}
	st := o.finish(outcome, sources, stats, resolved)
	log.Info("refresh cycle finished",
		zap.String("outcome", outcome),
		zap.Int("added", stats.Added),
		zap.Int("dropped", stats.Dropped),
		zap.Int("resolved", resolved))
	return st, nil
}

func (o *Orchestrator) fetchLists(ctx context.Context) []reconcile.ListBatch {
	batches := make([]reconcile.ListBatch, len(o.src.Lists))
	var g errgroup.Group
	for i, s := range o.src.Lists {
		g.Go(func() error {
			records, err := s.FetchStations(ctx)
			batches[i] = reconcile.ListBatch{Source: s.Kind(), Records: records, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return batches
}

func (o *Orchestrator) resolveCoordinates(ctx context.Context) (int, error) {
	if o.src.Resolver == nil {
		return 0, nil
	}
	coords, feedErr := o.src.Resolver.ResolveAll(ctx, o.Snapshot().All())
	n, err := o.rec.ApplyCoordinates(coords)
	if err != nil {
		return n, err
	}
	return n, feedErr
}

// loadForecastSites replaces the forecastable site set. On failure the
// previous set stays in place.
func (o *Orchestrator) loadForecastSites(ctx context.Context) error {
	if o.src.ForecastSites == nil || o.src.Forecaster == nil {
		return nil
	}
	sites, err := o.src.ForecastSites.FetchForecastSites(ctx)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(sites))
	for _, site := range sites {
		set[site] = struct{}{}
	}
	o.mu.Lock()
	o.forecastSites = set
	o.mu.Unlock()
	return nil
}

// Forecastable reports whether Forecast can serve rec: forecasting is
// configured, the record carries a USGS site number, and that site is on the
// model site list when one is configured.
func (o *Orchestrator) Forecastable(rec river.StationRecord) bool {
	if o.src.Forecaster == nil || o.src.History == nil || o.src.Weather == nil {
		return false
	}
	site := river.SiteNumber(rec)
	if site == "" {
		return false
	}
	if o.src.ForecastSites == nil {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.forecastSites[site]
	return ok
}

func (o *Orchestrator) finish(outcome string, sources map[string]string, stats reconcile.MergeStats, resolved int) Status {
	o.recorder.RefreshCycle(outcome)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.State = StatePublished
	if outcome == OutcomeFailed {
		o.status.State = StateIdle
	}
	o.status.FinishedAt = o.clock.Now()
	o.status.Outcome = outcome
	o.status.Sources = sources
	o.status.Added = stats.Added
	o.status.Dropped = stats.Dropped
	o.status.Resolved = resolved
	out := o.status
	return out
}
