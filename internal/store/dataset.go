package store

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

var (
	// ErrNotFound is returned when no record exists for a station key.
	ErrNotFound = errors.New("no station record for key")
)

// Snapshot is an immutable, point-in-time view of the dataset. Every accessor
// returns copies, so callers may hold a snapshot indefinitely.
type Snapshot struct {
	version     uint64
	cycleID     string
	publishedAt time.Time

	records    map[river.StationKey]river.StationRecord
	aliases    map[river.StationKey][]river.StationKey
	tombstones map[river.StationKey]time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		records:    map[river.StationKey]river.StationRecord{},
		aliases:    map[river.StationKey][]river.StationKey{},
		tombstones: map[river.StationKey]time.Time{},
	}
}

func (s *Snapshot) Version() uint64        { return s.version }
func (s *Snapshot) CycleID() string        { return s.cycleID }
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }
func (s *Snapshot) Len() int               { return len(s.records) }

// Find returns the record stored under key.
func (s *Snapshot) Find(key river.StationKey) (river.StationRecord, error) {
	rec, ok := s.records[key]
	if !ok {
		return river.StationRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// All returns every record ordered by key.
func (s *Snapshot) All() []river.StationRecord {
	return s.filter(func(river.StationRecord) bool { return true })
}

// FilterByAgency returns the records of one agency ordered by key.
func (s *Snapshot) FilterByAgency(agency river.Agency) []river.StationRecord {
	return s.filter(func(r river.StationRecord) bool { return r.Agency == agency })
}

// FilterFavorites returns the favorited records ordered by key.
func (s *Snapshot) FilterFavorites() []river.StationRecord {
	return s.filter(func(r river.StationRecord) bool { return r.IsFavorite })
}

// FavoriteKeys returns the key set of favorited records.
func (s *Snapshot) FavoriteKeys() river.KeySet {
	out := river.KeySet{}
	for k, r := range s.records {
		if r.IsFavorite {
			out.Add(k)
		}
	}
	return out
}

// CountByAgency returns the number of records per agency.
func (s *Snapshot) CountByAgency() map[river.Agency]int {
	out := make(map[river.Agency]int)
	for k := range s.records {
		out[k.Agency]++
	}
	return out
}

func (s *Snapshot) filter(keep func(river.StationRecord) bool) []river.StationRecord {
	out := make([]river.StationRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return river.LessKey(out[i].Key(), out[j].Key()) })
	return out
}

// Aliases returns the keys linked to key in other agencies.
func (s *Snapshot) Aliases(key river.StationKey) []river.StationKey {
	linked := s.aliases[key]
	out := make([]river.StationKey, len(linked))
	copy(out, linked)
	return out
}

// IsTombstoned reports whether key was dropped by a rebuild and its tombstone
// has not expired at now.
func (s *Snapshot) IsTombstoned(key river.StationKey, now time.Time) bool {
	until, ok := s.tombstones[key]
	return ok && now.Before(until)
}

// PublishHook is called with every newly published snapshot while the writer
// lock is held. Hooks must not call Update.
type PublishHook func(*Snapshot)

// DatasetStore is the single shared collection of station records. Readers
// load the current snapshot without locking; writers are serialized through
// Update, which publishes a new snapshot only if its batch succeeds.
type DatasetStore struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	clock   clockwork.Clock
	hooks   []PublishHook
}

// New creates an empty DatasetStore.
func New(clock clockwork.Clock, hooks ...PublishHook) *DatasetStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &DatasetStore{clock: clock, hooks: hooks}
	s.current.Store(emptySnapshot())
	return s
}

// Snapshot returns the current published snapshot.
func (s *DatasetStore) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update runs fn against a private working copy of the current snapshot. If
// fn returns an error nothing is published. If fn changes nothing the current
// snapshot is returned unchanged.
func (s *DatasetStore) Update(fn func(b *Batch) error) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.current.Load()
	b := newBatch(base, s.clock.Now())
	if err := fn(b); err != nil {
		return base, err
	}
	if !b.changed {
		return base, nil
	}

	next := b.build(base.version + 1)
	s.current.Store(next)
	for _, h := range s.hooks {
		h(next)
	}
	return next, nil
}

// Batch is the working copy handed to Update callbacks. It is not safe for
// use outside the callback.
type Batch struct {
	now        time.Time
	cycleID    string
	records    map[river.StationKey]river.StationRecord
	aliases    map[river.StationKey][]river.StationKey
	tombstones map[river.StationKey]time.Time
	changed    bool
}

func newBatch(base *Snapshot, now time.Time) *Batch {
	b := &Batch{
		now:        now,
		cycleID:    base.cycleID,
		records:    make(map[river.StationKey]river.StationRecord, len(base.records)),
		aliases:    base.aliases,
		tombstones: make(map[river.StationKey]time.Time, len(base.tombstones)),
	}
	for k, r := range base.records {
		b.records[k] = r
	}
	for k, until := range base.tombstones {
		if now.Before(until) {
			b.tombstones[k] = until
		} else {
			b.changed = true
		}
	}
	return b
}

func (b *Batch) build(version uint64) *Snapshot {
	return &Snapshot{
		version:     version,
		cycleID:     b.cycleID,
		publishedAt: b.now,
		records:     b.records,
		aliases:     b.aliases,
		tombstones:  b.tombstones,
	}
}

// Now is the time the batch was opened.
func (b *Batch) Now() time.Time { return b.now }

// SetCycleID tags the snapshot with the refresh cycle that produced it.
func (b *Batch) SetCycleID(id string) {
	if id != b.cycleID {
		b.cycleID = id
		b.changed = true
	}
}

// Get returns a copy of the record under key.
func (b *Batch) Get(key river.StationKey) (river.StationRecord, bool) {
	r, ok := b.records[key]
	if !ok {
		return river.StationRecord{}, false
	}
	return r.Clone(), true
}

// Keys returns every key in the batch, optionally limited to one agency.
func (b *Batch) Keys(agency river.Agency) []river.StationKey {
	out := make([]river.StationKey, 0, len(b.records))
	for k := range b.records {
		if agency == "" || k.Agency == agency {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return river.LessKey(out[i], out[j]) })
	return out
}

// Records returns copies of every record in the batch.
func (b *Batch) Records() []river.StationRecord {
	out := make([]river.StationRecord, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return river.LessKey(out[i].Key(), out[j].Key()) })
	return out
}

// Upsert stores rec under its key.
func (b *Batch) Upsert(rec river.StationRecord) {
	b.records[rec.Key()] = rec.Clone()
	b.changed = true
}

// ApplyPartial mutates the record under key in place. The patch reports
// whether it changed anything.
func (b *Batch) ApplyPartial(key river.StationKey, patch func(*river.StationRecord) bool) error {
	r, ok := b.records[key]
	if !ok {
		return ErrNotFound
	}
	r = r.Clone()
	if patch(&r) {
		b.records[key] = r
		b.changed = true
	}
	return nil
}

// Delete removes the record under key.
func (b *Batch) Delete(key river.StationKey) {
	if _, ok := b.records[key]; ok {
		delete(b.records, key)
		b.changed = true
	}
}

// Tombstone marks key as recently dropped until the given time.
func (b *Batch) Tombstone(key river.StationKey, until time.Time) {
	b.tombstones[key] = until
	b.changed = true
}

// ClearTombstone removes a tombstone.
func (b *Batch) ClearTombstone(key river.StationKey) {
	if _, ok := b.tombstones[key]; ok {
		delete(b.tombstones, key)
		b.changed = true
	}
}

// IsTombstoned reports whether key carries an unexpired tombstone.
func (b *Batch) IsTombstoned(key river.StationKey) bool {
	until, ok := b.tombstones[key]
	return ok && b.now.Before(until)
}

// SetAliases replaces the alias table. Links are stored in both directions
// and only between keys present in the batch.
func (b *Batch) SetAliases(links []river.Alias) {
	table := make(map[river.StationKey][]river.StationKey)
	for _, l := range links {
		if _, ok := b.records[l.From]; !ok {
			continue
		}
		if _, ok := b.records[l.To]; !ok {
			continue
		}
		table[l.From] = appendUnique(table[l.From], l.To)
		table[l.To] = appendUnique(table[l.To], l.From)
	}
	for k := range table {
		sort.Slice(table[k], func(i, j int) bool { return river.LessKey(table[k][i], table[k][j]) })
	}
	b.aliases = table
	b.changed = true
}

func appendUnique(keys []river.StationKey, k river.StationKey) []river.StationKey {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}
