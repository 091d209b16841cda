package river

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStationName(t *testing.T) {
	tests := []struct {
		in   string
		want StationName
	}{
		{"ARKANSAS RIVER AT CANON CITY, CO", StationName{"ARKANSAS RIVER", "CANON CITY, CO", ""}},
		{"LAKE FORK BELOW SUGARLOAF DAM NEAR LEADVILLE, CO", StationName{"LAKE FORK", "SUGARLOAF DAM", "LEADVILLE, CO"}},
		{"COLORADO RIVER NR GRANBY, CO", StationName{"COLORADO RIVER", "GRANBY, CO", ""}},
		{"SOUTH PLATTE RIVER", StationName{"SOUTH PLATTE RIVER", "", ""}},
		{"", StationName{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStationName(tt.in))
		})
	}
}
