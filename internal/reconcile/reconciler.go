package reconcile

import (
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

// FlowResult is the outcome of one flow update.
type FlowResult string

const (
	FlowApplied   FlowResult = "applied"
	FlowStale     FlowResult = "stale"
	FlowUnchanged FlowResult = "unchanged"
)

// DefaultTombstoneTTL is used when no TTL is configured.
const DefaultTombstoneTTL = 24 * time.Hour

// Recorder receives flow-update outcomes.
type Recorder interface {
	FlowUpdate(result string)
}

type nopRecorder struct{}

func (nopRecorder) FlowUpdate(string) {}

// ListBatch is the result of one station-list fetch.
type ListBatch struct {
	Source  river.SourceKind
	Records []river.PartialRecord
	Err     error
}

// MergeStats summarizes a merge or rebuild.
type MergeStats struct {
	Added     int
	Updated   int
	Dropped   int
	Invalid   int
	Favorites int
	Rebuilt   []river.Agency
}

// Reconciler is the only writer of the Dataset Store. Every exported method
// runs as a single store batch: it is applied completely or not at all.
type Reconciler struct {
	store        *store.DatasetStore
	clock        clockwork.Clock
	tombstoneTTL time.Duration
	links        map[river.StationKey]river.StationLink
	recorder     Recorder
}

type Option func(*Reconciler)

// WithLinks sets the station links applied to matching records.
func WithLinks(links []river.StationLink) Option {
	return func(r *Reconciler) {
		for _, l := range links {
			r.links[l.Key] = l
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithTombstoneTTL(ttl time.Duration) Option {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.tombstoneTTL = ttl
		}
	}
}

func New(ds *store.DatasetStore, clock clockwork.Clock, opts ...Option) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Reconciler{
		store:        ds,
		clock:        clock,
		tombstoneTTL: DefaultTombstoneTTL,
		links:        make(map[river.StationKey]river.StationLink),
		recorder:     nopRecorder{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the dataset store the reconciler writes to.
func (r *Reconciler) Store() *store.DatasetStore { return r.store }

// MergeStationList is the incremental list entry point: it adds unseen
// stations from one list batch and refreshes the list-owned fields of known
// ones, never dropping a record. Cross-source fields (reservoirs, snow
// station, favorite flag) are never touched. An empty batch is a no-op.
// Full cycles use Rebuild, which shares the same per-record merge.
func (r *Reconciler) MergeStationList(source river.SourceKind, partials []river.PartialRecord) (MergeStats, error) {
	var stats MergeStats
	if len(partials) == 0 {
		return stats, nil
	}
	_, err := r.store.Update(func(b *store.Batch) error {
		r.mergeList(b, source, partials, &stats)
		return nil
	})
	if err != nil {
		return MergeStats{}, eris.Wrapf(err, "merge %s", source)
	}
	zap.L().Debug("station list merged",
		zap.String("component", "reconciler"),
		zap.String("source", string(source)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("invalid", stats.Invalid))
	return stats, nil
}

// mergeList merges every partial of one batch and returns the valid keys seen.
func (r *Reconciler) mergeList(b *store.Batch, source river.SourceKind, partials []river.PartialRecord, stats *MergeStats) river.KeySet {
	seen := river.KeySet{}
	for _, p := range partials {
		if k := r.mergeOne(b, source, p, stats); k != (river.StationKey{}) {
			seen.Add(k)
		}
	}
	return seen
}

func (r *Reconciler) mergeOne(b *store.Batch, source river.SourceKind, p river.PartialRecord, stats *MergeStats) river.StationKey {
	if p.Agency == "" {
		p.Agency = source.Agency()
	}
	if p.Source == "" {
		p.Source = source
	}
	key := p.Key()
	if err := key.Validate(); err != nil {
		stats.Invalid++
		zap.L().Debug("partial record rejected",
			zap.String("component", "reconciler"),
			zap.String("source", string(source)),
			zap.Error(err))
		return river.StationKey{}
	}

	now := b.Now()
	rec, ok := b.Get(key)
	if !ok {
		rec = river.StationRecord{
			Agency:       key.Agency,
			PrimaryID:    key.ID,
			ReservoirIDs: []int{},
			Source:       p.Source,
		}
		_, flow := mergeFields(&rec, p)
		r.recordListFlow(key, flow, p.Flow)
		r.applyLink(&rec)
		rec.LastRefreshedAt = now
		b.Upsert(rec)
		stats.Added++
		return key
	}

	changed, flow := mergeFields(&rec, p)
	r.recordListFlow(key, flow, p.Flow)
	if changed {
		rec.LastRefreshedAt = now
		b.Upsert(rec)
		stats.Updated++
	}
	return key
}

// recordListFlow reports the flow outcome of a list row the same way
// ApplyFlowUpdate does. Rows without a flow report nothing.
func (r *Reconciler) recordListFlow(key river.StationKey, result FlowResult, obs *river.FlowObservation) {
	if obs == nil {
		return
	}
	r.recorder.FlowUpdate(string(result))
	if result == FlowStale {
		zap.L().Info("stale flow update discarded",
			zap.String("component", "reconciler"),
			zap.String("station", key.String()),
			zap.String("origin", "station_list"),
			zap.Time("observed_at", obs.ObservedAt))
	}
}

// mergeFields applies the list-owned fields of p. Coordinates are only ever
// replaced by a known value; the flow follows the monotonic rule and its
// result is returned alongside the change flag.
func mergeFields(rec *river.StationRecord, p river.PartialRecord) (bool, FlowResult) {
	changed := false
	if p.DisplayName != "" && p.DisplayName != rec.DisplayName {
		rec.DisplayName = p.DisplayName
		changed = true
	}
	if p.SecondaryID != nil && (rec.SecondaryID == nil || *rec.SecondaryID != *p.SecondaryID) {
		v := *p.SecondaryID
		rec.SecondaryID = &v
		changed = true
	}
	if p.LinkedSiteNumber != "" && p.LinkedSiteNumber != rec.LinkedSiteNumber {
		rec.LinkedSiteNumber = p.LinkedSiteNumber
		changed = true
	}
	if p.Coordinates != nil && (rec.Coordinates == nil || *rec.Coordinates != *p.Coordinates) {
		c := *p.Coordinates
		rec.Coordinates = &c
		changed = true
	}
	var flow FlowResult
	if p.Flow != nil {
		flow = mergeFlow(rec, *p.Flow)
		if flow == FlowApplied {
			changed = true
		}
	}
	return changed, flow
}

// mergeFlow applies obs if it is newer than the current flow. Equal
// timestamps keep the larger value so any application order converges.
func mergeFlow(rec *river.StationRecord, obs river.FlowObservation) FlowResult {
	cur := rec.LatestFlow
	switch {
	case cur == nil:
	case obs.ObservedAt.Before(cur.ObservedAt):
		return FlowStale
	case obs.ObservedAt.Equal(cur.ObservedAt):
		if obs.Value <= cur.Value {
			return FlowUnchanged
		}
	}
	rec.LatestFlow = &river.FlowObservation{Value: obs.Value, ObservedAt: obs.ObservedAt}
	return FlowApplied
}

func (r *Reconciler) applyLink(rec *river.StationRecord) bool {
	l, ok := r.links[rec.Key()]
	if !ok {
		return false
	}
	changed := false
	if l.SnowStationID != "" && l.SnowStationID != rec.SnowStationID {
		rec.SnowStationID = l.SnowStationID
		changed = true
	}
	if len(l.ReservoirIDs) > 0 && !slices.Equal(l.ReservoirIDs, rec.ReservoirIDs) {
		rec.ReservoirIDs = slices.Clone(l.ReservoirIDs)
		changed = true
	}
	return changed
}

// Rebuild replaces the namespaces whose list fetch succeeded with a non-empty
// result. Records missing from a rebuilt namespace are dropped and tombstoned.
// Namespaces whose fetch failed keep their previous records.
//
// persisted is the authoritative favorite set; nil means it is unavailable
// and the previous snapshot's favorites are carried over instead. Favorites
// are reapplied to surviving keys, except keys carrying an unexpired
// tombstone.
func (r *Reconciler) Rebuild(cycleID string, batches []ListBatch, persisted river.KeySet) (MergeStats, error) {
	var stats MergeStats
	snap, err := r.store.Update(func(b *store.Batch) error {
		favorites := persisted.Clone()
		if persisted == nil {
			for _, rec := range b.Records() {
				if rec.IsFavorite {
					favorites.Add(rec.Key())
				}
			}
		}

		for _, batch := range batches {
			agency := batch.Source.Agency()
			if batch.Err != nil || len(batch.Records) == 0 {
				zap.L().Warn("namespace kept from previous cycle",
					zap.String("component", "reconciler"),
					zap.String("source", string(batch.Source)),
					zap.Error(batch.Err))
				continue
			}

			seen := r.mergeList(b, batch.Source, batch.Records, &stats)
			if len(seen) == 0 {
				continue
			}
			for _, k := range b.Keys(agency) {
				if seen.Has(k) {
					continue
				}
				b.Delete(k)
				b.Tombstone(k, b.Now().Add(r.tombstoneTTL))
				stats.Dropped++
			}
			stats.Rebuilt = append(stats.Rebuilt, agency)
		}

		now := b.Now()
		for _, k := range b.Keys("") {
			_ = b.ApplyPartial(k, func(rec *river.StationRecord) bool {
				if !r.applyLink(rec) {
					return false
				}
				rec.LastRefreshedAt = now
				return true
			})
		}
		stats.Favorites = applyFavorites(b, favorites)
		b.SetAliases(river.LinkAliases(b.Records()))
		b.SetCycleID(cycleID)
		return nil
	})
	if err != nil {
		return MergeStats{}, eris.Wrap(err, "rebuild dataset")
	}
	zap.L().Info("dataset rebuilt",
		zap.String("component", "reconciler"),
		zap.String("cycle_id", cycleID),
		zap.Uint64("version", snap.Version()),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("dropped", stats.Dropped),
		zap.Int("favorites", stats.Favorites))
	return stats, nil
}

// applyFavorites sets IsFavorite to membership in ids for every record.
// Tombstoned keys are never favorited.
func applyFavorites(b *store.Batch, ids river.KeySet) int {
	n := 0
	for _, k := range b.Keys("") {
		want := ids.Has(k) && !b.IsTombstoned(k)
		if want {
			n++
		}
		_ = b.ApplyPartial(k, func(rec *river.StationRecord) bool {
			if rec.IsFavorite == want {
				return false
			}
			rec.IsFavorite = want
			return true
		})
	}
	return n
}

// ApplyFavoriteSnapshot reapplies a favorite set to the current records and
// returns how many records are favorited afterwards.
func (r *Reconciler) ApplyFavoriteSnapshot(ids river.KeySet) (int, error) {
	var n int
	_, err := r.store.Update(func(b *store.Batch) error {
		n = applyFavorites(b, ids)
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "apply favorites")
	}
	return n, nil
}

// SetFavorite flags or unflags one record. An explicit favorite clears any
// tombstone on the key.
func (r *Reconciler) SetFavorite(key river.StationKey, favorite bool) error {
	_, err := r.store.Update(func(b *store.Batch) error {
		if err := b.ApplyPartial(key, func(rec *river.StationRecord) bool {
			if rec.IsFavorite == favorite {
				return false
			}
			rec.IsFavorite = favorite
			return true
		}); err != nil {
			return err
		}
		if favorite {
			b.ClearTombstone(key)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "favorite %s", key)
	}
	return nil
}

// ApplyFlowUpdate merges one observation into the record under key.
func (r *Reconciler) ApplyFlowUpdate(key river.StationKey, obs river.FlowObservation) (FlowResult, error) {
	var result FlowResult
	_, err := r.store.Update(func(b *store.Batch) error {
		now := b.Now()
		return b.ApplyPartial(key, func(rec *river.StationRecord) bool {
			result = mergeFlow(rec, obs)
			if result != FlowApplied {
				return false
			}
			rec.LastRefreshedAt = now
			return true
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "flow update %s", key)
	}

	r.recorder.FlowUpdate(string(result))
	if result == FlowStale {
		zap.L().Info("stale flow update discarded",
			zap.String("component", "reconciler"),
			zap.String("station", key.String()),
			zap.Time("observed_at", obs.ObservedAt))
	}
	return result, nil
}

// ApplyCoordinates sets coordinates on the records that exist under the given
// keys and returns how many changed.
func (r *Reconciler) ApplyCoordinates(coords map[river.StationKey]river.Coordinates) (int, error) {
	if len(coords) == 0 {
		return 0, nil
	}
	n := 0
	_, err := r.store.Update(func(b *store.Batch) error {
		now := b.Now()
		for k, c := range coords {
			_ = b.ApplyPartial(k, func(rec *river.StationRecord) bool {
				if rec.Coordinates != nil && *rec.Coordinates == c {
					return false
				}
				rec.Coordinates = &river.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
				rec.LastRefreshedAt = now
				n++
				return true
			})
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "apply coordinates")
	}
	return n, nil
}
