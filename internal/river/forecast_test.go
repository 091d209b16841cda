package river

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedDayOfYear(t *testing.T) {
	assert.Equal(t, 0.0, NormalizedDayOfYear(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 364.0/365.0, NormalizedDayOfYear(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)), 1e-12)
	assert.InDelta(t, 365.0/366.0, NormalizedDayOfYear(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)), 1e-12)
	assert.InDelta(t, 59.0/366.0, NormalizedDayOfYear(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)), 1e-12)
	assert.InDelta(t, 59.0/365.0, NormalizedDayOfYear(time.Date(2100, 3, 1, 0, 0, 0, 0, time.UTC)), 1e-12)
}

func TestBuildFeatures(t *testing.T) {
	today := time.Date(2024, 3, 18, 15, 4, 0, 0, time.UTC)

	var history []FlowRange
	for i := 0; i < 70; i++ {
		history = append(history, FlowRange{Max: float64(i), Min: float64(-i)})
	}
	temps := make([]TempRange, 20)
	for i := range temps {
		temps[i] = TempRange{High: float64(50 + i), Low: float64(30 + i)}
	}

	f, err := BuildFeatures("07083710", today, history, temps)
	require.NoError(t, err)

	assert.Equal(t, "07083710", f.StationID)
	assert.Equal(t, [2]float64{10, -10}, f.HistoricalFlow[0])
	assert.Equal(t, [2]float64{69, -69}, f.HistoricalFlow[HistoryWindowDays-1])
	assert.Equal(t, [2]float64{50, 30}, f.FutureTemp[0])
	assert.Equal(t, [2]float64{63, 43}, f.FutureTemp[TemperatureWindowDays-1])
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), f.StartDate)
}

func TestBuildFeaturesShortHistoryIsRightAligned(t *testing.T) {
	f, err := BuildFeatures("1", time.Now(), []FlowRange{{Max: 5, Min: 1}}, []TempRange{{High: 1, Low: 0}})
	require.NoError(t, err)

	assert.Equal(t, [2]float64{}, f.HistoricalFlow[0])
	assert.Equal(t, [2]float64{5, 1}, f.HistoricalFlow[HistoryWindowDays-1])
	assert.Equal(t, [2]float64{}, f.FutureTemp[1])
}

func TestBuildFeaturesErrors(t *testing.T) {
	_, err := BuildFeatures("", time.Now(), nil, []TempRange{{}})
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	_, err = BuildFeatures("1", time.Now(), nil, nil)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestDatePredictions(t *testing.T) {
	start := time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC)
	got := DatePredictions(start, []float64{100, 110, 120})

	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), got[0].Date)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got[2].Date)
	assert.Equal(t, 120.0, got[2].Flow)
}
