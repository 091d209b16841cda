package sources

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// HTTPForecaster posts forecast features to a prediction service that
// answers {"predictedFlow": [..]}.
type HTTPForecaster struct {
	url string
	req *requester
}

func NewHTTPForecaster(endpoint string, httpCfg HTTPClientConfig) *HTTPForecaster {
	return &HTTPForecaster{url: endpoint, req: newRequester(river.SourceForecast, httpCfg)}
}

func (f *HTTPForecaster) Predict(ctx context.Context, features river.ForecastFeatures) ([]river.ForecastPoint, error) {
	if f.url == "" {
		return nil, eris.New("forecast endpoint is not configured")
	}
	body, err := json.Marshal(features)
	if err != nil {
		return nil, eris.Wrap(err, "encode forecast features")
	}

	data, err := f.req.postJSON(ctx, f.url, body)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast for %s", features.StationID)
	}
	values, err := ParsePrediction(data)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast for %s", features.StationID)
	}
	return river.DatePredictions(features.StartDate, values), nil
}

// ParsePrediction extracts the predictedFlow array.
func ParsePrediction(data []byte) ([]float64, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.Wrap(river.ErrDecoding, "prediction: invalid json")
	}
	pred := gjson.GetBytes(data, "predictedFlow")
	if !pred.IsArray() {
		return nil, eris.Wrap(river.ErrDecoding, "prediction: predictedFlow is not an array")
	}
	items := pred.Array()
	out := make([]float64, 0, len(items))
	for i, v := range items {
		if v.Type != gjson.Number {
			return nil, eris.Wrapf(river.ErrDecoding, "prediction: entry %d is not a number", i)
		}
		out = append(out, v.Float())
	}
	if len(out) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "prediction: empty")
	}
	return out, nil
}

// DefaultForecastSitesURL is the published list of sites with a trained model.
const DefaultForecastSitesURL = "https://raw.githubusercontent.com/tmart234/OpenFlowColorado/main/.github/site_ids.txt"

// ForecastSites fetches the newline-separated list of forecastable USGS
// site numbers.
type ForecastSites struct {
	url string
	req *requester
}

func NewForecastSites(listURL string, httpCfg HTTPClientConfig) *ForecastSites {
	if listURL == "" {
		listURL = DefaultForecastSitesURL
	}
	return &ForecastSites{url: listURL, req: newRequester(river.SourceForecastSites, httpCfg)}
}

func (s *ForecastSites) FetchForecastSites(ctx context.Context) ([]string, error) {
	data, err := s.req.get(ctx, s.url)
	if err != nil {
		return nil, eris.Wrap(err, "forecast sites")
	}
	sites, skipped := ParseSiteList(data)
	if skipped > 0 {
		s.req.recorder.RowsSkipped(river.SourceForecastSites, skipped)
		zap.L().Debug("forecast site entries skipped",
			zap.String("source", string(river.SourceForecastSites)),
			zap.Int("skipped", skipped))
	}
	if len(sites) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "forecast sites: empty list")
	}
	return sites, nil
}

// ParseSiteList splits data into lines and returns the distinct well-formed
// USGS site numbers in file order, with the count of rejected non-blank lines.
func ParseSiteList(data []byte) ([]string, int) {
	var (
		out     []string
		skipped int
	)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		site := river.NormalizeUSGSSite(line)
		if site == "" {
			continue
		}
		if err := (river.StationKey{Agency: river.AgencyUSGS, ID: site}).Validate(); err != nil {
			skipped++
			continue
		}
		if _, dup := seen[site]; dup {
			continue
		}
		seen[site] = struct{}{}
		out = append(out, site)
	}
	return out, skipped
}
