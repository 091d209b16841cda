package river

import (
	"time"

	"github.com/rotisserie/eris"
)

const (
	// HistoryWindowDays is the number of daily flow pairs a forecast consumes.
	HistoryWindowDays = 60
	// TemperatureWindowDays is the number of forecast temperature pairs consumed.
	TemperatureWindowDays = 14
)

// ForecastFeatures is the input handed to a Forecaster. Windows are fixed
// size and zero-filled where history is short.
type ForecastFeatures struct {
	StationID      string                            `json:"station_id"`
	DateNormalized float64                           `json:"date_normalized"`
	HistoricalFlow [HistoryWindowDays][2]float64     `json:"historical_flow_data"`
	FutureTemp     [TemperatureWindowDays][2]float64 `json:"future_temp_data"`
	StartDate      time.Time                         `json:"-"`
}

// NormalizedDayOfYear maps t to [0, 1): (dayOfYear-1) / daysInYear.
func NormalizedDayOfYear(t time.Time) float64 {
	days := 365.0
	if isLeap(t.Year()) {
		days = 366.0
	}
	return float64(t.YearDay()-1) / days
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// BuildFeatures assembles forecast inputs. History must be oldest first; the
// most recent HistoryWindowDays entries are used and right-aligned so the
// newest day is always the last row. Temperatures beyond the window are dropped.
func BuildFeatures(stationID string, today time.Time, history []FlowRange, temps []TempRange) (ForecastFeatures, error) {
	if stationID == "" {
		return ForecastFeatures{}, eris.Wrap(ErrInvalidIdentifier, "empty station id")
	}
	if len(temps) == 0 {
		return ForecastFeatures{}, eris.Wrap(ErrNoData, "no temperature forecast")
	}

	f := ForecastFeatures{
		StationID:      stationID,
		DateNormalized: NormalizedDayOfYear(today),
		StartDate:      truncateDay(today),
	}

	if len(history) > HistoryWindowDays {
		history = history[len(history)-HistoryWindowDays:]
	}
	offset := HistoryWindowDays - len(history)
	for i, h := range history {
		f.HistoricalFlow[offset+i] = [2]float64{h.Max, h.Min}
	}

	for i, t := range temps {
		if i >= TemperatureWindowDays {
			break
		}
		f.FutureTemp[i] = [2]float64{t.High, t.Low}
	}
	return f, nil
}

// DatePredictions dates predicted values consecutively from start.
func DatePredictions(start time.Time, values []float64) []ForecastPoint {
	start = truncateDay(start)
	out := make([]ForecastPoint, len(values))
	for i, v := range values {
		out[i] = ForecastPoint{Date: start.AddDate(0, 0, i), Flow: v}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
