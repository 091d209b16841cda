package river

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeCoords struct {
	feed    map[string]Coordinates
	feedErr error
	lookups []string
}

func (f *fakeCoords) FetchCoordinates(context.Context) (map[string]Coordinates, error) {
	return f.feed, f.feedErr
}

func (f *fakeCoords) LookupCoordinates(_ context.Context, site string) (Coordinates, error) {
	f.lookups = append(f.lookups, site)
	if c, ok := f.feed[site]; ok {
		return c, nil
	}
	return Coordinates{}, ErrNoData
}

type fakeGeocoder struct {
	queries []string
	result  map[string]Coordinates
}

func (g *fakeGeocoder) Geocode(_ context.Context, q string) (Coordinates, error) {
	g.queries = append(g.queries, q)
	if c, ok := g.result[q]; ok {
		return c, nil
	}
	return Coordinates{}, ErrNoData
}

func TestResolveAllUsesFeedThenGeocoder(t *testing.T) {
	coords := &fakeCoords{feed: map[string]Coordinates{
		"07083710": {Latitude: 39.25, Longitude: -106.35},
		"09058000": {Latitude: 40.05, Longitude: -106.40},
	}}
	geo := &fakeGeocoder{result: map[string]Coordinates{
		"SALIDA, CO": {Latitude: 38.53, Longitude: -106.0},
	}}
	r := NewResolver(coords, geo, "CO")

	known := &Coordinates{Latitude: 1, Longitude: 1}
	records := []StationRecord{
		{Agency: AgencyUSGS, PrimaryID: "07083710"},
		{Agency: AgencyState, PrimaryID: "COLKREMCO", LinkedSiteNumber: "09058000"},
		{Agency: AgencyState, PrimaryID: "ARKSALCO", DisplayName: "ARKANSAS RIVER AT SALIDA, CO"},
		{Agency: AgencyUSGS, PrimaryID: "11111111", DisplayName: "NOWHERE CREEK", Coordinates: known},
		{Agency: AgencyUSGS, PrimaryID: "22222222", DisplayName: "LOST CREEK"},
	}

	got, err := r.ResolveAll(context.Background(), records)
	require.NoError(t, err)

	assert.Len(t, got, 3)
	assert.Equal(t, 39.25, got[StationKey{AgencyUSGS, "07083710"}].Latitude)
	assert.Equal(t, 40.05, got[StationKey{AgencyState, "COLKREMCO"}].Latitude)
	assert.Equal(t, 38.53, got[StationKey{AgencyState, "ARKSALCO"}].Latitude)
	assert.NotContains(t, got, StationKey{AgencyUSGS, "11111111"})
	assert.ElementsMatch(t, []string{"SALIDA, CO", "LOST CREEK, CO"}, geo.queries)
}

func TestResolveAllFeedFailureKeepsPartialResult(t *testing.T) {
	coords := &fakeCoords{feedErr: ErrNetworkFailure}
	r := NewResolver(coords, nil, "CO")

	got, err := r.ResolveAll(context.Background(), []StationRecord{{Agency: AgencyUSGS, PrimaryID: "07083710"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.Empty(t, got)
}

func TestResolveOne(t *testing.T) {
	coords := &fakeCoords{feed: map[string]Coordinates{"07083710": {Latitude: 39.25}}}
	r := NewResolver(coords, nil, "CO")

	c, err := r.ResolveOne(context.Background(), StationRecord{Agency: AgencyUSGS, PrimaryID: "07083710"})
	require.NoError(t, err)
	assert.Equal(t, 39.25, c.Latitude)
	assert.Equal(t, []string{"07083710"}, coords.lookups)

	_, err = r.ResolveOne(context.Background(), StationRecord{Agency: AgencyState, PrimaryID: "X"})
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	_, err = r.ResolveOne(context.Background(), StationRecord{Agency: AgencyUSGS, PrimaryID: "99999999"})
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestLinkAliases(t *testing.T) {
	records := []StationRecord{
		{Agency: AgencyUSGS, PrimaryID: "09058000"},
		{Agency: AgencyState, PrimaryID: "COLKREMCO", LinkedSiteNumber: "09058000"},
		{Agency: AgencyState, PrimaryID: "ORPHAN", LinkedSiteNumber: "00000001"},
		{Agency: AgencyState, PrimaryID: "PLAIN"},
	}
	assert.Equal(t, []Alias{{
		From: StationKey{AgencyState, "COLKREMCO"},
		To:   StationKey{AgencyUSGS, "09058000"},
	}}, LinkAliases(records))
}
