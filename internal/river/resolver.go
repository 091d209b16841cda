package river

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Alias links two records that describe the same physical station under
// different agencies. Linked records keep separate identities and flows.
type Alias struct {
	From StationKey `json:"from"`
	To   StationKey `json:"to"`
}

// Resolver maps between identifier schemes and fills in missing coordinates.
type Resolver struct {
	coords    CoordinateSource
	geocoder  Geocoder
	stateCode string
}

// NewResolver creates a Resolver. geocoder may be nil to disable the
// place-name fallback.
func NewResolver(coords CoordinateSource, geocoder Geocoder, stateCode string) *Resolver {
	return &Resolver{coords: coords, geocoder: geocoder, stateCode: stateCode}
}

// SiteNumber returns the USGS site number a record can be looked up by in the
// coordinate feed, or "" when it has none.
func SiteNumber(r StationRecord) string {
	switch r.Agency {
	case AgencyUSGS:
		return r.PrimaryID
	case AgencyState:
		return r.LinkedSiteNumber
	default:
		return ""
	}
}

// ResolveAll resolves coordinates for every record that lacks them. The result
// holds whatever was resolved; a non-nil error reports a failed bulk feed and
// never invalidates the partial result.
func (r *Resolver) ResolveAll(ctx context.Context, records []StationRecord) (map[StationKey]Coordinates, error) {
	out := make(map[StationKey]Coordinates)

	var missing []StationRecord
	for _, rec := range records {
		if rec.Coordinates == nil {
			missing = append(missing, rec)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var feedErr error
	feed, err := r.coords.FetchCoordinates(ctx)
	if err != nil {
		feedErr = eris.Wrap(err, "coordinate feed")
		zap.L().Warn("coordinate feed unavailable", zap.String("component", "resolver"), zap.Error(err))
	}

	var unresolved []StationRecord
	for _, rec := range missing {
		site := SiteNumber(rec)
		if c, ok := feed[site]; ok && site != "" {
			out[rec.Key()] = c
			continue
		}
		unresolved = append(unresolved, rec)
	}

	if r.geocoder != nil {
		for _, rec := range unresolved {
			if ctx.Err() != nil {
				break
			}
			c, err := r.geocode(ctx, rec)
			if err != nil {
				zap.L().Debug("geocode fallback failed",
					zap.String("component", "resolver"),
					zap.String("station", rec.Key().String()),
					zap.Error(err))
				continue
			}
			out[rec.Key()] = c
		}
	}

	zap.L().Info("coordinates resolved",
		zap.String("component", "resolver"),
		zap.Int("missing", len(missing)),
		zap.Int("resolved", len(out)))
	return out, feedErr
}

// ResolveOne resolves a single record by an exact site-number scan of the
// coordinate feed, falling back to the geocoder when the feed has no entry.
func (r *Resolver) ResolveOne(ctx context.Context, rec StationRecord) (Coordinates, error) {
	if rec.Coordinates != nil {
		return *rec.Coordinates, nil
	}
	site := SiteNumber(rec)
	if site == "" {
		if r.geocoder != nil {
			return r.geocode(ctx, rec)
		}
		return Coordinates{}, eris.Wrapf(ErrInvalidIdentifier, "%s has no usgs site number", rec.Key())
	}

	c, err := r.coords.LookupCoordinates(ctx, site)
	if err == nil {
		return c, nil
	}
	if r.geocoder != nil && errors.Is(err, ErrNoData) {
		return r.geocode(ctx, rec)
	}
	return Coordinates{}, err
}

func (r *Resolver) geocode(ctx context.Context, rec StationRecord) (Coordinates, error) {
	name := SplitStationName(rec.DisplayName)
	place := name.Relation
	if name.Tributary != "" {
		place = name.Tributary
	}
	if place == "" {
		place = rec.DisplayName
	}
	if strings.TrimSpace(place) == "" {
		return Coordinates{}, eris.Wrapf(ErrInvalidIdentifier, "%s has no name to geocode", rec.Key())
	}
	query := place
	if r.stateCode != "" && !strings.Contains(strings.ToUpper(place), ", "+strings.ToUpper(r.stateCode)) {
		query = place + ", " + r.stateCode
	}
	return r.geocoder.Geocode(ctx, query)
}

// LinkAliases pairs state-agency records with the USGS record whose site
// number they report.
func LinkAliases(records []StationRecord) []Alias {
	usgs := make(map[string]struct{})
	for _, rec := range records {
		if rec.Agency == AgencyUSGS {
			usgs[rec.PrimaryID] = struct{}{}
		}
	}

	var out []Alias
	for _, rec := range records {
		if rec.Agency != AgencyState || rec.LinkedSiteNumber == "" {
			continue
		}
		if _, ok := usgs[rec.LinkedSiteNumber]; !ok {
			continue
		}
		out = append(out, Alias{
			From: rec.Key(),
			To:   StationKey{Agency: AgencyUSGS, ID: rec.LinkedSiteNumber},
		})
	}
	return out
}
