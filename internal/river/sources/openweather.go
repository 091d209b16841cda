package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

const DefaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherClient fetches imperial-unit current conditions and forecast
// temperatures from OpenWeatherMap.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	req     *requester
}

func NewOpenWeatherClient(apiKey, baseURL string, httpCfg HTTPClientConfig) *OpenWeatherClient {
	if baseURL == "" {
		baseURL = DefaultOpenWeatherBaseURL
	}
	return &OpenWeatherClient{apiKey: apiKey, baseURL: baseURL, req: newRequester(river.SourceWeather, httpCfg)}
}

// FetchOutlook issues the current and forecast calls concurrently; either
// failing fails the outlook.
func (c *OpenWeatherClient) FetchOutlook(ctx context.Context, at river.Coordinates) (river.WeatherOutlook, error) {
	if c.apiKey == "" {
		return river.WeatherOutlook{}, eris.New("openweather api key is not configured")
	}

	var out river.WeatherOutlook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := c.req.get(gctx, c.endpoint("weather", at))
		if err != nil {
			return eris.Wrap(err, "openweather current")
		}
		cur, err := ParseCurrentWeather(data)
		if err != nil {
			return err
		}
		out.Current = cur
		return nil
	})
	g.Go(func() error {
		data, err := c.req.get(gctx, c.endpoint("forecast", at))
		if err != nil {
			return eris.Wrap(err, "openweather forecast")
		}
		fc, err := ParseForecastTemps(data, river.TemperatureWindowDays)
		if err != nil {
			return err
		}
		out.Forecast = fc
		return nil
	})
	if err := g.Wait(); err != nil {
		return river.WeatherOutlook{}, err
	}
	return out, nil
}

func (c *OpenWeatherClient) endpoint(path string, at river.Coordinates) string {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", at.Latitude))
	values.Set("lon", fmt.Sprintf("%f", at.Longitude))
	values.Set("units", "imperial")
	values.Set("appid", c.apiKey)
	return fmt.Sprintf("%s/%s?%s", c.baseURL, path, values.Encode())
}

// ParseCurrentWeather reads main.temp_max and main.temp_min.
func ParseCurrentWeather(data []byte) (river.TempRange, error) {
	if !gjson.ValidBytes(data) {
		return river.TempRange{}, eris.Wrap(river.ErrDecoding, "openweather current: invalid json")
	}
	hi := gjson.GetBytes(data, "main.temp_max")
	lo := gjson.GetBytes(data, "main.temp_min")
	if hi.Type != gjson.Number || lo.Type != gjson.Number {
		return river.TempRange{}, eris.Wrap(river.ErrDecoding, "openweather current: missing main.temp_max/temp_min")
	}
	return river.TempRange{High: hi.Float(), Low: lo.Float()}, nil
}

// ParseForecastTemps reads the first limit entries of list[].main as
// [max, min] pairs.
func ParseForecastTemps(data []byte, limit int) ([]river.TempRange, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.Wrap(river.ErrDecoding, "openweather forecast: invalid json")
	}
	list := gjson.GetBytes(data, "list")
	if !list.IsArray() {
		return nil, eris.Wrap(river.ErrDecoding, "openweather forecast: list is not an array")
	}

	items := list.Array()
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]river.TempRange, 0, len(items))
	for i, item := range items {
		hi, lo := item.Get("main.temp_max"), item.Get("main.temp_min")
		if hi.Type != gjson.Number || lo.Type != gjson.Number {
			return nil, eris.Wrapf(river.ErrDecoding, "openweather forecast: entry %d has no temperatures", i)
		}
		out = append(out, river.TempRange{High: hi.Float(), Low: lo.Float()})
	}
	if len(out) == 0 {
		return nil, eris.Wrap(river.ErrNoData, "openweather forecast: empty list")
	}
	return out, nil
}
