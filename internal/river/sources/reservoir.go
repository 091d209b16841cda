package sources

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// DefaultReservoirURLTemplate is expanded with the reservoir id in place of {id}.
const DefaultReservoirURLTemplate = "https://www.usbr.gov/uc/water/hydrodata/reservoir_data/{id}/json/17.json"

const reservoirDateLayout = "2006-01-02"

// ParseReservoirSeries decodes {"data": [[date, storage], ...]}. A malformed
// date anywhere fails the whole payload; a non-numeric storage slot only
// drops that row. The second value counts dropped rows.
func ParseReservoirSeries(data []byte) ([]river.StorageData, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, eris.Wrap(river.ErrDecoding, "reservoir: invalid json")
	}
	series := gjson.GetBytes(data, "data")
	if !series.Exists() {
		return nil, 0, nil
	}
	if !series.IsArray() {
		return nil, 0, eris.Wrap(river.ErrDecoding, "reservoir: data is not an array")
	}

	var (
		out     []river.StorageData
		skipped int
	)
	for i, element := range series.Array() {
		slots := element.Array()
		if !element.IsArray() || len(slots) < 2 {
			return nil, 0, eris.Wrapf(river.ErrDecoding, "reservoir: element %d is not a pair", i)
		}
		if slots[0].Type != gjson.String {
			return nil, 0, eris.Wrapf(river.ErrDecoding, "reservoir: element %d has no date", i)
		}
		d, err := time.Parse(reservoirDateLayout, slots[0].String())
		if err != nil {
			return nil, 0, eris.Wrapf(river.ErrDecoding, "reservoir: element %d date %q", i, slots[0].String())
		}
		if slots[1].Type != gjson.Number {
			skipped++
			continue
		}
		out = append(out, river.StorageData{Date: d, Storage: slots[1].Float()})
	}
	return out, skipped, nil
}

// ReservoirClient fetches reservoir storage series.
type ReservoirClient struct {
	template string
	req      *requester
}

func NewReservoirClient(urlTemplate string, httpCfg HTTPClientConfig) *ReservoirClient {
	if urlTemplate == "" {
		urlTemplate = DefaultReservoirURLTemplate
	}
	return &ReservoirClient{template: urlTemplate, req: newRequester(river.SourceReservoir, httpCfg)}
}

func (c *ReservoirClient) FetchStorage(ctx context.Context, reservoirID int) ([]river.StorageData, error) {
	if reservoirID <= 0 {
		return nil, eris.Wrapf(river.ErrInvalidIdentifier, "reservoir %d", reservoirID)
	}
	u := strings.ReplaceAll(c.template, "{id}", strconv.Itoa(reservoirID))

	data, err := c.req.get(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "reservoir %d", reservoirID)
	}
	rows, skipped, err := ParseReservoirSeries(data)
	if err != nil {
		return nil, eris.Wrapf(err, "reservoir %d", reservoirID)
	}
	if skipped > 0 {
		c.req.recorder.RowsSkipped(river.SourceReservoir, skipped)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(river.ErrNoData, "reservoir %d: no storage rows", reservoirID)
	}
	return rows, nil
}
