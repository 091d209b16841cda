package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/common"
	"github.com/i474232898/river-flow-aggregation/internal/river"
)

const (
	DefaultDWRStationsURL = "https://dwr.state.co.us/rest/get/api/v2/surfacewater/surfacewaterstations"
	DefaultDWRFlowURL     = "https://dwr.state.co.us/rest/get/api/v2/surfacewater/surfacewatertsday"

	// stateAgencyMarker must appear in a station's dataSource for it to be
	// accepted into the pipeline.
	stateAgencyMarker = "dwr"
)

var measDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// ParseStateStations decodes a surfacewaterstations payload. Every field is
// optional; only entries whose dataSource mentions the state agency and that
// carry some identifier are returned. The second value counts rejected
// entries.
func ParseStateStations(data []byte) ([]river.PartialRecord, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, eris.Wrap(river.ErrDecoding, "state stations: invalid json")
	}
	list := gjson.GetBytes(data, "ResultList")
	if !list.Exists() {
		return nil, 0, nil
	}
	if !list.IsArray() {
		return nil, 0, eris.Wrap(river.ErrDecoding, "state stations: ResultList is not an array")
	}

	var (
		out      []river.PartialRecord
		rejected int
	)
	list.ForEach(func(_, entry gjson.Result) bool {
		if !common.ContainsFold(entry.Get("dataSource").String(), stateAgencyMarker) {
			rejected++
			return true
		}

		stationNum := int(entry.Get("stationNum").Int())
		id := strings.TrimSpace(entry.Get("abbrev").String())
		if id == "" && stationNum > 0 {
			id = strconv.Itoa(stationNum)
		}
		if id == "" {
			rejected++
			return true
		}

		p := river.PartialRecord{
			Source:           river.SourceStateStations,
			Agency:           river.AgencyState,
			PrimaryID:        id,
			LinkedSiteNumber: river.NormalizeUSGSSite(entry.Get("usgsSiteId").String()),
			DisplayName:      strings.TrimSpace(entry.Get("stationName").String()),
		}
		if stationNum > 0 {
			p.SecondaryID = &stationNum
		}
		lat, lon := entry.Get("latitude"), entry.Get("longitude")
		if lat.Type == gjson.Number && lon.Type == gjson.Number {
			p.Coordinates = &river.Coordinates{Latitude: lat.Float(), Longitude: lon.Float()}
		}
		out = append(out, p)
		return true
	})
	return out, rejected, nil
}

// ParseStateFlow decodes a surfacewatertsday payload and returns the last
// entry's value and measurement date.
func ParseStateFlow(data []byte) (river.FlowObservation, error) {
	if !gjson.ValidBytes(data) {
		return river.FlowObservation{}, eris.Wrap(river.ErrDecoding, "state flow: invalid json")
	}
	list := gjson.GetBytes(data, "ResultList").Array()
	if len(list) == 0 {
		return river.FlowObservation{}, eris.Wrap(river.ErrNoData, "state flow: empty ResultList")
	}

	last := list[len(list)-1]
	value, measDate := last.Get("value"), last.Get("measDate")
	if value.Type != gjson.Number || measDate.Type != gjson.String {
		return river.FlowObservation{}, eris.Wrap(river.ErrNoData, "state flow: latest entry has no value")
	}
	ts, err := parseMeasDate(measDate.String())
	if err != nil {
		return river.FlowObservation{}, err
	}
	return river.FlowObservation{Value: value.Float(), ObservedAt: ts}, nil
}

func parseMeasDate(s string) (time.Time, error) {
	for _, layout := range measDateLayouts {
		if t, err := time.ParseInLocation(layout, s, USGSZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Wrapf(river.ErrDecoding, "state flow: measDate %q", s)
}

// StateStations fetches the state-agency surface-water station list.
type StateStations struct {
	url string
	req *requester
}

func NewStateStations(stationsURL string, httpCfg HTTPClientConfig) *StateStations {
	if stationsURL == "" {
		stationsURL = DefaultDWRStationsURL
	}
	return &StateStations{url: stationsURL, req: newRequester(river.SourceStateStations, httpCfg)}
}

func (s *StateStations) Kind() river.SourceKind { return river.SourceStateStations }

func (s *StateStations) FetchStations(ctx context.Context) ([]river.PartialRecord, error) {
	data, err := s.req.get(ctx, s.url)
	if err != nil {
		return nil, eris.Wrap(err, "state stations")
	}
	records, rejected, err := ParseStateStations(data)
	if err != nil {
		return nil, err
	}
	if rejected > 0 {
		s.req.recorder.RowsSkipped(river.SourceStateStations, rejected)
		zap.L().Debug("state stations rejected",
			zap.String("source", string(river.SourceStateStations)),
			zap.Int("rejected", rejected))
	}
	if len(records) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "state stations: no accepted stations")
	}
	return records, nil
}

// StateFlow fetches the latest daily flow of one state-agency station.
type StateFlow struct {
	baseURL string
	req     *requester
}

func NewStateFlow(baseURL string, httpCfg HTTPClientConfig) *StateFlow {
	if baseURL == "" {
		baseURL = DefaultDWRFlowURL
	}
	return &StateFlow{baseURL: baseURL, req: newRequester(river.SourceStateFlow, httpCfg)}
}

func (s *StateFlow) Kind() river.SourceKind { return river.SourceStateFlow }

// FetchFlow queries by the linked USGS site when the station reports one,
// otherwise by station number.
func (s *StateFlow) FetchFlow(ctx context.Context, rec river.StationRecord) (river.FlowObservation, error) {
	q := url.Values{}
	q.Set("format", "json")
	switch {
	case rec.LinkedSiteNumber != "":
		q.Set("usgsSiteId", rec.LinkedSiteNumber)
	case rec.SecondaryID != nil && *rec.SecondaryID > 0:
		q.Set("stationNum", strconv.Itoa(*rec.SecondaryID))
	default:
		return river.FlowObservation{}, eris.Wrapf(river.ErrInvalidIdentifier, "%s has no usgs site or station number", rec.Key())
	}

	data, err := s.req.get(ctx, s.baseURL+"?"+q.Encode())
	if err != nil {
		return river.FlowObservation{}, eris.Wrapf(err, "state flow for %s", rec.Key())
	}
	obs, err := ParseStateFlow(data)
	if err != nil {
		return river.FlowObservation{}, eris.Wrapf(err, "%s", rec.Key())
	}
	return obs, nil
}
