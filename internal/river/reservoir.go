package river

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// MaxPercentFilled caps reported fill; surcharge storage can exceed nominal capacity.
const MaxPercentFilled = 125.0

// ReservoirRef is static reference data for one reservoir.
type ReservoirRef struct {
	ID       int     `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Capacity float64 `json:"capacity" yaml:"capacity"`
}

// ReservoirCatalog indexes reservoir reference data by id.
type ReservoirCatalog map[int]ReservoirRef

// DefaultReservoirs returns the built-in reference table.
func DefaultReservoirs() ReservoirCatalog {
	return ReservoirCatalog{
		100163: {ID: 100163, Name: "Turquoise Lake Reservoir", Capacity: 129440},
		100275: {ID: 100275, Name: "Twin Lakes Reservoir", Capacity: 141000},
		2000:   {ID: 2000, Name: "Green Mountain Reservoir", Capacity: 154600},
		2005:   {ID: 2005, Name: "Williams Fork Reservoir", Capacity: 97000},
		1999:   {ID: 1999, Name: "Granby Lake", Capacity: 539758},
	}
}

// Merge overlays other on a copy of c.
func (c ReservoirCatalog) Merge(other ReservoirCatalog) ReservoirCatalog {
	out := make(ReservoirCatalog, len(c)+len(other))
	for id, r := range c {
		out[id] = r
	}
	for id, r := range other {
		out[id] = r
	}
	return out
}

// Lookup returns the reference data for id or ErrInvalidIdentifier.
func (c ReservoirCatalog) Lookup(id int) (ReservoirRef, error) {
	r, ok := c[id]
	if !ok {
		return ReservoirRef{}, eris.Wrapf(ErrInvalidIdentifier, "reservoir %d", id)
	}
	return r, nil
}

// PercentFilled returns storage as a percentage of capacity, capped at
// MaxPercentFilled. A non-positive capacity yields 0.
func PercentFilled(storage, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Min(MaxPercentFilled, storage/capacity*100)
}

// LatestStorage picks the row with the greatest date. Rows need not be sorted.
func LatestStorage(rows []StorageData) (StorageData, error) {
	if len(rows) == 0 {
		return StorageData{}, eris.Wrap(ErrNoData, "empty storage series")
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.Date.After(latest.Date) {
			latest = r
		}
	}
	return latest, nil
}

// BuildReservoirInfo resolves a storage series against reference data.
func BuildReservoirInfo(ref ReservoirRef, rows []StorageData) (ReservoirInfo, error) {
	latest, err := LatestStorage(rows)
	if err != nil {
		return ReservoirInfo{}, eris.Wrapf(err, "reservoir %d", ref.ID)
	}
	series := make([]StorageData, len(rows))
	copy(series, rows)
	sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	return ReservoirInfo{
		ID:            ref.ID,
		Name:          ref.Name,
		Capacity:      ref.Capacity,
		Latest:        latest,
		PercentFilled: PercentFilled(latest.Storage, ref.Capacity),
		Series:        series,
	}, nil
}
