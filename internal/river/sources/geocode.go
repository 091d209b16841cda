package sources

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// geocodeFunc matches geocoder.Geocoding so tests can stub the remote call.
type geocodeFunc func(geocoder.Address) (geocoder.Location, error)

// PlaceGeocoder resolves place names through the Google geocoding API.
type PlaceGeocoder struct {
	lookup  geocodeFunc
	country string
	limiter *rate.Limiter
	cache   *lruCache
}

var apiKeyOnce sync.Once

// NewPlaceGeocoder configures the package-level API key of the geocoding
// library on first use; later keys are ignored.
func NewPlaceGeocoder(apiKey string, ratePerSec float64, cacheEntries int) *PlaceGeocoder {
	apiKeyOnce.Do(func() { geocoder.ApiKey = apiKey })
	return newPlaceGeocoder(geocoder.Geocoding, ratePerSec, cacheEntries)
}

func newPlaceGeocoder(fn geocodeFunc, ratePerSec float64, cacheEntries int) *PlaceGeocoder {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &PlaceGeocoder{
		lookup:  fn,
		country: "United States",
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		cache:   newLRUCache(cacheEntries),
	}
}

// Geocode resolves query. The library call does not take a context, so a
// cancelled context abandons the call rather than aborting it.
func (g *PlaceGeocoder) Geocode(ctx context.Context, query string) (river.Coordinates, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return river.Coordinates{}, eris.Wrap(river.ErrInvalidIdentifier, "empty geocode query")
	}
	key := strings.ToUpper(query)
	if c, ok := g.cache.get(key); ok {
		return c, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return river.Coordinates{}, err
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: query, Country: g.country})
		done <- result{loc: loc, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return river.Coordinates{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return river.Coordinates{}, eris.Wrapf(river.ErrNoData, "geocode %q: %v", query, res.err)
	}
	if res.loc.Latitude == 0 && res.loc.Longitude == 0 {
		return river.Coordinates{}, eris.Wrapf(river.ErrNoData, "geocode %q: no result", query)
	}

	c := river.Coordinates{Latitude: res.loc.Latitude, Longitude: res.loc.Longitude}
	g.cache.put(key, c)
	return c, nil
}

// lruCache is a small thread-safe LRU cache of geocoding results.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	entries    map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value river.Coordinates
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &lruCache{maxEntries: maxEntries, order: list.New(), entries: make(map[string]*list.Element)}
}

func (c *lruCache) get(key string) (river.Coordinates, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return river.Coordinates{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *lruCache) put(key string, value river.Coordinates) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
