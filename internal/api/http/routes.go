package httpapi

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/i474232898/river-flow-aggregation/internal/refresh"
	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

var validate = validator.New()

// Service is what the routes need from the refresh orchestrator.
type Service interface {
	Snapshot() *store.Snapshot
	Status() refresh.Status
	RunCycle(ctx context.Context) (refresh.Status, error)
	Station(ctx context.Context, key river.StationKey) (refresh.StationView, error)
	Detail(ctx context.Context, key river.StationKey) (refresh.Detail, error)
	Forecast(ctx context.Context, key river.StationKey) ([]river.ForecastPoint, error)
	SetFavorite(ctx context.Context, key river.StationKey, favorite bool) error
	FlowInFlight(key river.StationKey) bool
	Forecastable(rec river.StationRecord) bool
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		snap := svc.Snapshot()
		return c.JSON(fiber.Map{
			"cycle":       svc.Status(),
			"version":     snap.Version(),
			"cycleId":     snap.CycleID(),
			"publishedAt": snap.PublishedAt(),
			"stations":    snap.CountByAgency(),
		})
	})

	v1.Post("/refresh", func(c *fiber.Ctx) error {
		st, err := svc.RunCycle(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(st)
	})

	v1.Get("/stations", func(c *fiber.Ctx) error {
		var q listQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		snap := svc.Snapshot()
		records := q.apply(snap, svc.Forecastable)
		out := make([]stationSummary, 0, len(records))
		for _, rec := range records {
			out = append(out, summarize(rec, svc.FlowInFlight(rec.Key()), svc.Forecastable(rec)))
		}
		return c.JSON(fiber.Map{
			"version":  snap.Version(),
			"count":    len(out),
			"stations": out,
		})
	})

	v1.Get("/stations/geojson", func(c *fiber.Ctx) error {
		var q listQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		body, err := json.Marshal(featureCollection(q.apply(svc.Snapshot(), svc.Forecastable)))
		if err != nil {
			return eris.Wrap(err, "encode geojson")
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	})

	v1.Get("/stations/:agency/:id", func(c *fiber.Ctx) error {
		key, err := stationKey(c)
		if err != nil {
			return err
		}
		view, err := svc.Station(c.UserContext(), key)
		if err != nil {
			return err
		}
		return c.JSON(stationResponse{
			StationView:  view,
			Name:         river.SplitStationName(view.Record.DisplayName),
			Forecastable: svc.Forecastable(view.Record),
		})
	})

	v1.Get("/stations/:agency/:id/detail", func(c *fiber.Ctx) error {
		key, err := stationKey(c)
		if err != nil {
			return err
		}
		d, err := svc.Detail(c.UserContext(), key)
		if err != nil {
			return err
		}
		return c.JSON(d)
	})

	v1.Get("/stations/:agency/:id/forecast", func(c *fiber.Ctx) error {
		key, err := stationKey(c)
		if err != nil {
			return err
		}
		points, err := svc.Forecast(c.UserContext(), key)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"station":  key,
			"forecast": points,
		})
	})

	v1.Put("/stations/:agency/:id/favorite", favoriteHandler(svc, true))
	v1.Delete("/stations/:agency/:id/favorite", favoriteHandler(svc, false))
}

func favoriteHandler(svc Service, favorite bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := stationKey(c)
		if err != nil {
			return err
		}
		if err := svc.SetFavorite(c.UserContext(), key, favorite); err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"station":    key,
			"isFavorite": favorite,
		})
	}
}

// listQuery holds query parameters for the listing endpoints.
type listQuery struct {
	Agency       string `query:"agency" validate:"omitempty,oneof=usgs dwr state"`
	Favorites    string `query:"favorites" validate:"omitempty,oneof=true false 1 0"`
	Forecastable string `query:"forecastable" validate:"omitempty,oneof=true false 1 0"`
}

func (q *listQuery) bind(c *fiber.Ctx) error {
	if err := c.QueryParser(q); err != nil {
		return err
	}
	q.Agency = strings.ToLower(strings.TrimSpace(q.Agency))
	return validate.Struct(q)
}

func (q listQuery) apply(snap *store.Snapshot, forecastable func(river.StationRecord) bool) []river.StationRecord {
	var records []river.StationRecord
	if truthy(q.Favorites) {
		records = snap.FilterFavorites()
	} else {
		records = snap.All()
	}
	onlyForecastable := truthy(q.Forecastable)
	if q.Agency == "" && !onlyForecastable {
		return records
	}
	agency := river.ParseAgency(q.Agency)
	out := records[:0]
	for _, r := range records {
		if q.Agency != "" && r.Agency != agency {
			continue
		}
		if onlyForecastable && !forecastable(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func truthy(v string) bool { return v == "true" || v == "1" }

// keyParams holds the path parameters that identify a station.
type keyParams struct {
	Agency string `validate:"required,oneof=usgs dwr state"`
	ID     string `validate:"required,max=32"`
}

func stationKey(c *fiber.Ctx) (river.StationKey, error) {
	p := keyParams{
		Agency: strings.ToLower(c.Params("agency")),
		ID:     strings.TrimSpace(c.Params("id")),
	}
	if err := validate.Struct(p); err != nil {
		return river.StationKey{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	key := river.StationKey{Agency: river.ParseAgency(p.Agency), ID: p.ID}
	if err := key.Validate(); err != nil {
		return river.StationKey{}, err
	}
	return key, nil
}

type stationSummary struct {
	river.StationRecord
	FlowStatus   refresh.FlowStatus `json:"flowStatus"`
	Forecastable bool               `json:"forecastable"`
}

func summarize(rec river.StationRecord, inFlight, forecastable bool) stationSummary {
	status := refresh.FlowAvailable
	if rec.NeedsFlow() {
		status = refresh.FlowUnavailable
		if inFlight {
			status = refresh.FlowFetching
		}
	}
	return stationSummary{StationRecord: rec, FlowStatus: status, Forecastable: forecastable}
}

type stationResponse struct {
	refresh.StationView
	Name         river.StationName `json:"name"`
	Forecastable bool              `json:"forecastable"`
}

// featureCollection renders the records that have coordinates as GeoJSON
// points.
func featureCollection(records []river.StationRecord) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, rec := range records {
		if rec.Coordinates == nil {
			continue
		}
		props := map[string]any{
			"agency":      string(rec.Agency),
			"id":          rec.PrimaryID,
			"name":        rec.DisplayName,
			"isFavorite":  rec.IsFavorite,
			"hasSnowpack": rec.SnowStationID != "",
		}
		if rec.LatestFlow != nil {
			props["flow"] = rec.LatestFlow.Value
			props["observedAt"] = rec.LatestFlow.ObservedAt
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         rec.Key().String(),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{rec.Coordinates.Longitude, rec.Coordinates.Latitude}),
			Properties: props,
		})
	}
	return fc
}
