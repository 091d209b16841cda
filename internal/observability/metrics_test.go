package observability

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

func TestFetchMetrics(t *testing.T) {
	m, _ := NewMetricsForTesting()

	m.ObserveFetch(river.SourceUSGSCurrent, "success", 120*time.Millisecond)
	m.ObserveFetch(river.SourceUSGSCurrent, "success", 80*time.Millisecond)
	m.ObserveFetch(river.SourceStateStations, "network_failure", time.Second)
	m.RowsSkipped(river.SourceUSGSCurrent, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourceFetches.WithLabelValues("usgs_current", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFetches.WithLabelValues("dwr_stations", "network_failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsSkippedTotal.WithLabelValues("usgs_current")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SourceFetchDuration))
}

func TestCycleAndFlowMetrics(t *testing.T) {
	m, _ := NewMetricsForTesting()
	m.FlowUpdate("applied")
	m.FlowUpdate("stale")
	m.FlowUpdate("applied")
	m.RefreshCycle("partial")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlowUpdates.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowUpdates.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshCycles.WithLabelValues("partial")))
}

func TestObserveSnapshotHook(t *testing.T) {
	m, reg := NewMetricsForTesting()
	ds := store.New(clockwork.NewFakeClock(), m.ObserveSnapshot)

	_, err := ds.Update(func(b *store.Batch) error {
		b.Upsert(river.StationRecord{Agency: river.AgencyUSGS, PrimaryID: "09058000"})
		b.Upsert(river.StationRecord{Agency: river.AgencyUSGS, PrimaryID: "09057500"})
		b.Upsert(river.StationRecord{Agency: river.AgencyState, PrimaryID: "ARKGRACO"})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotVersion))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Stations.WithLabelValues("USGS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stations.WithLabelValues("DWR")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "riverflow_snapshot_version")
	assert.Contains(t, names, "riverflow_stations")
}
