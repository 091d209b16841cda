package river

import (
	"strings"

	"github.com/i474232898/river-flow-aggregation/internal/common"
)

// stationNameKeywords are tried in order; the first one present wins even if a
// later keyword appears earlier in the name.
var stationNameKeywords = []string{" NEAR ", " AT ", " ABOVE ", " ABV ", " BELOW ", " BLW ", " NR ", " AB ", " BL "}

// StationName is a display decomposition of a raw station name.
type StationName struct {
	MainStem  string `json:"mainStem"`
	Relation  string `json:"relation"`
	Tributary string `json:"tributary"`
}

// SplitStationName decomposes names such as "ARKANSAS RIVER AT CANON CITY, CO"
// for display. The stored name is never rewritten.
func SplitStationName(name string) StationName {
	parts := splitOnKeyword(name)
	if len(parts) > 1 && common.HasAny(parts[0], stationNameKeywords...) {
		parts = append(splitOnKeyword(parts[0]), parts[1])
	}

	var out StationName
	if len(parts) > 0 {
		out.MainStem = parts[0]
	}
	if len(parts) > 1 {
		out.Relation = parts[1]
	}
	if len(parts) > 2 {
		out.Tributary = parts[2]
	}
	return out
}

func splitOnKeyword(s string) []string {
	for _, kw := range stationNameKeywords {
		if before, after, ok := strings.Cut(s, kw); ok {
			return []string{strings.TrimSpace(before), strings.TrimSpace(after)}
		}
	}
	return []string{s}
}
