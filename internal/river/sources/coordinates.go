package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

const (
	DefaultUSGSInventoryURL = "https://waterdata.usgs.gov/nwis/inventory"

	bulkInventoryMinFields   = 6
	singleInventoryMinFields = 5
)

// ParseInventory parses the statewide site inventory (agency, site, name,
// site type, latitude, longitude) into a site-number keyed map. Rows without
// numeric coordinates are ignored.
func ParseInventory(data []byte) map[string]river.Coordinates {
	out := make(map[string]river.Coordinates)
	for _, line := range rdbLines(data) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < bulkInventoryMinFields {
			continue
		}
		c, ok := parseLatLon(fields[4], fields[5])
		if !ok {
			continue
		}
		out[strings.TrimSpace(fields[1])] = c
	}
	return out
}

// ParseSiteInventory scans a single-site inventory (agency, site, name,
// latitude, longitude) for an exact site-number match.
func ParseSiteInventory(data []byte, site string) (river.Coordinates, error) {
	for _, line := range rdbLines(data) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < singleInventoryMinFields || strings.TrimSpace(fields[1]) != site {
			continue
		}
		if c, ok := parseLatLon(fields[3], fields[4]); ok {
			return c, nil
		}
	}
	return river.Coordinates{}, eris.Wrapf(river.ErrNoData, "no coordinates for site %s", site)
}

func parseLatLon(latS, lonS string) (river.Coordinates, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return river.Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return river.Coordinates{}, false
	}
	return river.Coordinates{Latitude: lat, Longitude: lon}, true
}

// USGSInventory resolves coordinates from the USGS site inventory service.
type USGSInventory struct {
	baseURL   string
	stateCode string
	req       *requester
}

func NewUSGSInventory(baseURL, stateCode string, httpCfg HTTPClientConfig) *USGSInventory {
	if baseURL == "" {
		baseURL = DefaultUSGSInventoryURL
	}
	if stateCode == "" {
		stateCode = "CO"
	}
	return &USGSInventory{
		baseURL:   baseURL,
		stateCode: strings.ToLower(stateCode),
		req:       newRequester(river.SourceCoordinates, httpCfg),
	}
}

func (s *USGSInventory) FetchCoordinates(ctx context.Context) (map[string]river.Coordinates, error) {
	q := url.Values{}
	q.Set("state_cd", s.stateCode)
	q.Set("group_key", "NONE")
	q.Set("format", "sitefile_output")
	q.Set("sitefile_output_format", "rdb")
	q["column_name"] = []string{"agency_cd", "site_no", "station_nm", "site_tp_cd", "dec_lat_va", "dec_long_va"}
	q.Set("list_of_search_criteria", "state_cd")

	data, err := s.req.get(ctx, s.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "usgs site inventory")
	}
	coords := ParseInventory(data)
	if len(coords) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "usgs site inventory: no coordinates")
	}
	return coords, nil
}

func (s *USGSInventory) LookupCoordinates(ctx context.Context, site string) (river.Coordinates, error) {
	site = river.NormalizeUSGSSite(site)
	if site == "" {
		return river.Coordinates{}, eris.Wrap(river.ErrInvalidIdentifier, "empty usgs site number")
	}

	q := url.Values{}
	q.Set("search_site_no", site)
	q.Set("search_site_no_match_type", "exact")
	q.Set("group_key", "NONE")
	q.Set("format", "sitefile_output")
	q.Set("sitefile_output_format", "rdb")
	q["column_name"] = []string{"agency_cd", "site_no", "station_nm", "dec_lat_va", "dec_long_va"}
	q.Set("list_of_search_criteria", "search_site_no")

	data, err := s.req.get(ctx, s.baseURL+"?"+q.Encode())
	if err != nil {
		return river.Coordinates{}, eris.Wrapf(err, "usgs site inventory for %s", site)
	}
	return ParseSiteInventory(data, site)
}
