package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// DefaultSnotelURLTemplate is expanded with the station id in place of {id}.
const DefaultSnotelURLTemplate = "https://wcc.sc.egov.usda.gov/reportGenerator/view_csv/customSingleStationReport/daily/{id}:CO:SNTL%7Cid=%22%22%7Cname/0,0/WTEQ::value,WTEQ::pctOfAverage_1991"

var snowRowPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

var snowStationRe = regexp.MustCompile(`^\d{1,6}$`)

// ParseSnowReport reads a snow-telemetry CSV report. The last data row (by
// file position) whose first cell looks like a date is selected; the report
// is assumed to be chronological. Column 1 is SWE and column 2 percent of
// average; either failing to parse is reported as no data.
func ParseSnowReport(data []byte, stationID string) (river.SnowpackObservation, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var (
		latest    []string
		seenFirst bool
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return river.SnowpackObservation{}, eris.Wrapf(river.ErrDecoding, "snow report: %v", err)
		}
		if !seenFirst {
			seenFirst = true
			continue
		}
		if len(row) > 0 && snowRowPrefix.MatchString(row[0]) {
			latest = row
		}
	}

	if latest == nil {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrNoData, "snow station %s: no data rows", stationID)
	}
	if len(latest) < 3 {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrNoData, "snow station %s: short row", stationID)
	}

	date, err := time.Parse("2006-01-02", latest[0][:10])
	if err != nil {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrDecoding, "snow station %s: date %q", stationID, latest[0])
	}
	swe, err := strconv.ParseFloat(strings.TrimSpace(latest[1]), 64)
	if err != nil {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrNoData, "snow station %s: swe %q", stationID, latest[1])
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(latest[2]), 64)
	if err != nil {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrNoData, "snow station %s: percent of average %q", stationID, latest[2])
	}

	return river.SnowpackObservation{
		StationName:         "Station " + stationID,
		Date:                date,
		SnowWaterEquivalent: swe,
		PercentOfAverage:    pct,
	}, nil
}

// SnotelClient fetches snow-telemetry station reports.
type SnotelClient struct {
	template string
	req      *requester
}

func NewSnotelClient(urlTemplate string, httpCfg HTTPClientConfig) *SnotelClient {
	if urlTemplate == "" {
		urlTemplate = DefaultSnotelURLTemplate
	}
	return &SnotelClient{template: urlTemplate, req: newRequester(river.SourceSnowTelemetry, httpCfg)}
}

func (c *SnotelClient) FetchSnowpack(ctx context.Context, stationID string) (river.SnowpackObservation, error) {
	stationID = strings.TrimSpace(stationID)
	if !snowStationRe.MatchString(stationID) {
		return river.SnowpackObservation{}, eris.Wrapf(river.ErrInvalidIdentifier, "snow station %q", stationID)
	}
	u := strings.ReplaceAll(c.template, "{id}", stationID)

	data, err := c.req.get(ctx, u)
	if err != nil {
		return river.SnowpackObservation{}, eris.Wrapf(err, "snow station %s", stationID)
	}
	return ParseSnowReport(data, stationID)
}
