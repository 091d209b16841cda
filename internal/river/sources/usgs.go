package sources

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

const (
	DefaultUSGSCurrentURL = "https://waterdata.usgs.gov/co/nwis/current?index_pmcode_STATION_NM=1&index_pmcode_DATETIME=2&index_pmcode_00060=3&group_key=NONE&sitefile_output_format=html_table&column_name=agency_cd&column_name=site_no&column_name=station_nm&sort_key_2=site_no&html_table_group_key=NONE&format=rdb&rdb_compression=value&list_of_search_criteria=realtime_parameter_selection"
	DefaultUSGSInstantURL = "https://waterdata.usgs.gov/nwis/uv"
	DefaultUSGSDailyURL   = "https://waterdata.usgs.gov/nwis/dv"

	// usgsRowPrefix starts every data row of the per-site RDB feeds.
	usgsRowPrefix = "USGS"

	rdbHeaderLines     = 2
	currentMinFields   = 9
	instantTimeLayout  = "2006-01-02 15:04"
	dailyDateLayout    = "2006-01-02"
	queryDateLayout    = "2006-01-02"
	mountainDaylightTZ = -6 * 60 * 60
)

// USGSZone is the fixed zone the per-site feeds report local times in.
var USGSZone = time.FixedZone("MDT", mountainDaylightTZ)

var currentTimeLayouts = []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02"}

func rdbLines(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// ParseCurrentConditions parses the statewide current-conditions RDB feed.
// Comment lines are dropped and the first two remaining lines (column names
// and type declarations) are skipped unconditionally. Rows with fewer than
// nine fields are skipped and counted; an unparsable flow becomes 0.
func ParseCurrentConditions(data []byte) ([]river.PartialRecord, int) {
	var (
		out     []river.PartialRecord
		skipped int
		header  = rdbHeaderLines
	)

	for _, line := range rdbLines(data) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if header > 0 {
			header--
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < currentMinFields {
			skipped++
			continue
		}
		site := strings.TrimSpace(fields[1])
		if site == "" {
			skipped++
			continue
		}

		flow, err := strconv.ParseFloat(strings.TrimSpace(fields[7]), 64)
		if err != nil {
			flow = 0
		}

		out = append(out, river.PartialRecord{
			Source:      river.SourceUSGSCurrent,
			Agency:      river.AgencyUSGS,
			PrimaryID:   site,
			DisplayName: strings.TrimSpace(fields[2]),
			Flow: &river.FlowObservation{
				Value:      flow,
				ObservedAt: parseCurrentTime(strings.TrimSpace(fields[5])),
			},
		})
	}
	return out, skipped
}

// parseCurrentTime returns the zero time for unparsable dates so the value
// never outranks a dated observation.
func parseCurrentTime(s string) time.Time {
	for _, layout := range currentTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, USGSZone); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseInstantValues scans a per-site instantaneous-values RDB payload and
// returns the observation with the latest timestamp. Only rows that carry
// both a valid timestamp and a numeric flow compete.
func ParseInstantValues(data []byte) (river.FlowObservation, error) {
	var (
		latest river.FlowObservation
		found  bool
	)

	for _, line := range rdbLines(data) {
		if !strings.HasPrefix(line, usgsRowPrefix) {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 5 {
			continue
		}
		ts, err := time.ParseInLocation(instantTimeLayout, strings.TrimSpace(cols[2]), USGSZone)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cols[4]), 64)
		if err != nil {
			continue
		}
		if !found || ts.After(latest.ObservedAt) {
			latest = river.FlowObservation{Value: v, ObservedAt: ts}
			found = true
		}
	}

	if !found {
		return river.FlowObservation{}, eris.Wrap(river.ErrNoData, "no instantaneous flow rows")
	}
	return latest, nil
}

// ParseDailyValues parses daily-values RDB rows into [max, min] pairs sorted
// oldest first. Rows without a date or either statistic are skipped.
func ParseDailyValues(data []byte) ([]river.FlowRange, int) {
	var (
		out     []river.FlowRange
		skipped int
	)
	for _, line := range rdbLines(data) {
		if !strings.HasPrefix(line, usgsRowPrefix) {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 6 {
			skipped++
			continue
		}
		d, err := time.ParseInLocation(dailyDateLayout, strings.TrimSpace(cols[2]), USGSZone)
		if err != nil {
			skipped++
			continue
		}
		maxV, errMax := strconv.ParseFloat(strings.TrimSpace(cols[3]), 64)
		minV, errMin := strconv.ParseFloat(strings.TrimSpace(cols[5]), 64)
		if errMax != nil || errMin != nil {
			skipped++
			continue
		}
		out = append(out, river.FlowRange{Date: d, Max: maxV, Min: minV})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, skipped
}

// USGSStations fetches the statewide USGS station list.
type USGSStations struct {
	url string
	req *requester
}

func NewUSGSStations(currentURL string, httpCfg HTTPClientConfig) *USGSStations {
	if currentURL == "" {
		currentURL = DefaultUSGSCurrentURL
	}
	return &USGSStations{url: currentURL, req: newRequester(river.SourceUSGSCurrent, httpCfg)}
}

func (s *USGSStations) Kind() river.SourceKind { return river.SourceUSGSCurrent }

func (s *USGSStations) FetchStations(ctx context.Context) ([]river.PartialRecord, error) {
	data, err := s.req.get(ctx, s.url)
	if err != nil {
		return nil, eris.Wrap(err, "usgs current conditions")
	}
	records, skipped := ParseCurrentConditions(data)
	if skipped > 0 {
		s.req.recorder.RowsSkipped(river.SourceUSGSCurrent, skipped)
		zap.L().Info("skipped malformed rows",
			zap.String("source", string(river.SourceUSGSCurrent)),
			zap.Int("skipped", skipped))
	}
	if len(records) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "usgs current conditions: no rows")
	}
	return records, nil
}

// USGSInstantFlow fetches the latest instantaneous flow of one USGS site.
type USGSInstantFlow struct {
	baseURL string
	req     *requester
	clock   clockwork.Clock
}

func NewUSGSInstantFlow(baseURL string, httpCfg HTTPClientConfig, clock clockwork.Clock) *USGSInstantFlow {
	if baseURL == "" {
		baseURL = DefaultUSGSInstantURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &USGSInstantFlow{baseURL: baseURL, req: newRequester(river.SourceUSGSInstant, httpCfg), clock: clock}
}

func (s *USGSInstantFlow) Kind() river.SourceKind { return river.SourceUSGSInstant }

func (s *USGSInstantFlow) FetchFlow(ctx context.Context, rec river.StationRecord) (river.FlowObservation, error) {
	site := river.SiteNumber(rec)
	if site == "" {
		return river.FlowObservation{}, eris.Wrapf(river.ErrInvalidIdentifier, "%s has no usgs site number", rec.Key())
	}

	today := s.clock.Now().In(USGSZone)
	values := url.Values{}
	values.Set("cb_00060", "on")
	values.Set("cb_00065", "on")
	values.Set("format", "rdb")
	values.Set("site_no", site)
	values.Set("legacy", "1")
	values.Set("period", "")
	values.Set("begin_date", today.AddDate(0, 0, -1).Format(queryDateLayout))
	values.Set("end_date", today.Format(queryDateLayout))

	data, err := s.req.get(ctx, s.baseURL+"?"+values.Encode())
	if err != nil {
		return river.FlowObservation{}, eris.Wrapf(err, "usgs instantaneous values for %s", site)
	}
	obs, err := ParseInstantValues(data)
	if err != nil {
		return river.FlowObservation{}, eris.Wrapf(err, "usgs site %s", site)
	}
	return obs, nil
}

// USGSDailyHistory fetches daily max/min discharge for one site.
type USGSDailyHistory struct {
	baseURL string
	req     *requester
	clock   clockwork.Clock
}

func NewUSGSDailyHistory(baseURL string, httpCfg HTTPClientConfig, clock clockwork.Clock) *USGSDailyHistory {
	if baseURL == "" {
		baseURL = DefaultUSGSDailyURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &USGSDailyHistory{baseURL: baseURL, req: newRequester(river.SourceUSGSDaily, httpCfg), clock: clock}
}

func (s *USGSDailyHistory) FetchHistory(ctx context.Context, site string, days int) ([]river.FlowRange, error) {
	if site == "" {
		return nil, eris.Wrap(river.ErrInvalidIdentifier, "empty usgs site number")
	}
	if days <= 0 {
		days = river.HistoryWindowDays
	}

	today := s.clock.Now().In(USGSZone)
	values := url.Values{}
	values.Set("cb_00060", "on")
	values.Set("format", "rdb")
	values.Set("site_no", site)
	values.Set("legacy", "1")
	values.Set("referred_module", "sw")
	values.Set("period", "")
	values.Set("begin_date", today.AddDate(0, 0, -days).Format(queryDateLayout))
	values.Set("end_date", today.Format(queryDateLayout))

	data, err := s.req.get(ctx, s.baseURL+"?"+values.Encode())
	if err != nil {
		return nil, eris.Wrapf(err, "usgs daily values for %s", site)
	}
	rows, skipped := ParseDailyValues(data)
	if skipped > 0 {
		s.req.recorder.RowsSkipped(river.SourceUSGSDaily, skipped)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(river.ErrNoData, "usgs daily values for %s: no rows", site)
	}
	if len(rows) > days {
		rows = rows[len(rows)-days:]
	}
	return rows, nil
}
