package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

const currentFeed = `# US Geological Survey
# retrieved: 2024-03-18
agency_cd	site_no	station_nm	site_tp_cd	dec_lat_va	result_dt	result_tz	result_va	result_cd
5s	15s	50s	7s	16s	16d	6s	12s	3s
USGS	07083710	LAKE FORK BELOW SUGARLOAF DAM NEAR LEADVILLE, CO	ST	39.25	2024-03-18 10:15	MDT	62.3	P
USGS	07086000	ARKANSAS RIVER AT GRANITE, CO	ST	39.04	2024-03-18 10:00	MDT	Ice	P
USGS	07087050	SHORT ROW
# trailing comment
USGS	09058000	COLORADO RIVER NEAR KREMMLING, CO	ST	40.03	2024-03-18 09:45	MDT	805	P
`

func TestParseCurrentConditions(t *testing.T) {
	records, skipped := ParseCurrentConditions([]byte(currentFeed))

	require.Len(t, records, 3)
	assert.Equal(t, 1, skipped)

	first := records[0]
	assert.Equal(t, river.AgencyUSGS, first.Agency)
	assert.Equal(t, river.SourceUSGSCurrent, first.Source)
	assert.Equal(t, "07083710", first.PrimaryID)
	assert.Equal(t, "LAKE FORK BELOW SUGARLOAF DAM NEAR LEADVILLE, CO", first.DisplayName)
	assert.Equal(t, 62.3, first.Flow.Value)
	assert.Equal(t, time.Date(2024, 3, 18, 10, 15, 0, 0, USGSZone), first.Flow.ObservedAt)

	assert.Equal(t, 0.0, records[1].Flow.Value, "unparsable flow defaults to zero")
	assert.Equal(t, "09058000", records[2].PrimaryID)
}

func TestParseCurrentConditionsHeaderSkippedRegardlessOfContent(t *testing.T) {
	var b strings.Builder
	b.WriteString("USGS\t1\t2\t3\t4\t5\t6\t7\t8\n")
	b.WriteString("USGS\t1\t2\t3\t4\t5\t6\t7\t8\n")
	for i := 0; i < 5; i++ {
		b.WriteString("USGS\t1234567" + string(rune('0'+i)) + "\tNAME\tST\t0\t2024-01-01 00:00\tMDT\t1.5\tA\n")
	}
	records, skipped := ParseCurrentConditions([]byte(b.String()))
	assert.Len(t, records, 5)
	assert.Zero(t, skipped)
}

const instantFeed = `# comment
agency_cd	site_no	datetime	tz_cd	00060	00060_cd
5s	15s	20d	6s	14n	10s
USGS	07083710	2024-03-18 09:45	MDT	61.0	P
USGS	07083710	2024-03-18 10:15	MDT	62.3	P
USGS	07083710	2024-03-18 10:30	MDT	Eqp	P
USGS	07083710	2024-03-18 10:00	MDT	61.8	P
USGS	07083710	not-a-date	MDT	99.9	P
`

func TestParseInstantValuesKeepsLatest(t *testing.T) {
	obs, err := ParseInstantValues([]byte(instantFeed))
	require.NoError(t, err)
	assert.Equal(t, 62.3, obs.Value)
	assert.Equal(t, time.Date(2024, 3, 18, 10, 15, 0, 0, USGSZone), obs.ObservedAt)
}

func TestParseInstantValuesNoData(t *testing.T) {
	_, err := ParseInstantValues([]byte("# nothing\nagency_cd\tsite_no\n"))
	assert.True(t, errors.Is(err, river.ErrNoData))
}

func TestParseDailyValues(t *testing.T) {
	feed := "agency_cd\tsite_no\tdatetime\tmax\tmax_cd\tmin\tmin_cd\n" +
		"USGS\t07083710\t2024-03-02\t70\tA\t60\tA\n" +
		"USGS\t07083710\t2024-03-01\t65\tA\t55\tA\n" +
		"USGS\t07083710\t2024-03-03\t\tA\t58\tA\n"
	rows, skipped := ParseDailyValues([]byte(feed))

	require.Len(t, rows, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 65.0, rows[0].Max)
	assert.Equal(t, 60.0, rows[1].Min)
}

func TestUSGSStationsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(currentFeed))
	}))
	defer srv.Close()

	rec := &recordingRecorder{}
	cfg := testHTTPConfig(t)
	cfg.Recorder = rec

	src := NewUSGSStations(srv.URL, cfg)
	records, err := src.FetchStations(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 1, rec.skipped[river.SourceUSGSCurrent])
	assert.Equal(t, river.SourceUSGSCurrent, src.Kind())
}

func TestUSGSStationsEmptyIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# nothing\n"))
	}))
	defer srv.Close()

	_, err := NewUSGSStations(srv.URL, testHTTPConfig(t)).FetchStations(context.Background())
	assert.True(t, errors.Is(err, river.ErrNoData))
}

func TestUSGSInstantFlowQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "07083710", q.Get("site_no"))
		assert.Equal(t, "rdb", q.Get("format"))
		assert.Equal(t, "2024-03-17", q.Get("begin_date"))
		assert.Equal(t, "2024-03-18", q.Get("end_date"))
		_, _ = w.Write([]byte(instantFeed))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 18, 18, 0, 0, 0, time.UTC))
	src := NewUSGSInstantFlow(srv.URL, testHTTPConfig(t), clock)

	obs, err := src.FetchFlow(context.Background(), river.StationRecord{Agency: river.AgencyUSGS, PrimaryID: "07083710"})
	require.NoError(t, err)
	assert.Equal(t, 62.3, obs.Value)

	_, err = src.FetchFlow(context.Background(), river.StationRecord{Agency: river.AgencyState, PrimaryID: "X"})
	assert.True(t, errors.Is(err, river.ErrInvalidIdentifier))
}

func TestUSGSDailyHistoryTrimsToWindow(t *testing.T) {
	var b strings.Builder
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		b.WriteString("USGS\t07083710\t" + start.AddDate(0, 0, i).Format("2006-01-02") + "\t10\tA\t5\tA\n")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(b.String()))
	}))
	defer srv.Close()

	src := NewUSGSDailyHistory(srv.URL, testHTTPConfig(t), clockwork.NewFakeClock())
	rows, err := src.FetchHistory(context.Background(), "07083710", 4)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "2024-01-07", rows[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2024-01-10", rows[3].Date.Format("2006-01-02"))
}
