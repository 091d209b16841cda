package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// Links is the reference data binding stations to snow-telemetry stations
// and reservoirs.
type Links struct {
	Stations   []river.StationLink
	Reservoirs river.ReservoirCatalog
}

type linksFile struct {
	Stations []struct {
		Key           string `yaml:"key"`
		SnowStationID string `yaml:"snow_station_id"`
		ReservoirIDs  []int  `yaml:"reservoir_ids"`
	} `yaml:"stations"`
	Reservoirs []river.ReservoirRef `yaml:"reservoirs"`
}

// LoadLinks reads the station-link file at path. An empty path yields the
// built-in reservoir table and no station links.
func LoadLinks(path string) (Links, error) {
	out := Links{Reservoirs: river.DefaultReservoirs()}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Links{}, eris.Wrapf(err, "read station links %s", path)
	}
	return ParseLinks(data)
}

// ParseLinks decodes station-link YAML. Reservoir entries override the
// built-in table by id.
func ParseLinks(data []byte) (Links, error) {
	var f linksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Links{}, eris.Wrap(err, "decode station links")
	}

	out := Links{Reservoirs: river.DefaultReservoirs()}
	for i, s := range f.Stations {
		key, err := river.ParseStationKey(s.Key)
		if err != nil {
			return Links{}, eris.Wrapf(err, "stations[%d]", i)
		}
		out.Stations = append(out.Stations, river.StationLink{
			Key:           key,
			SnowStationID: s.SnowStationID,
			ReservoirIDs:  s.ReservoirIDs,
		})
	}

	extra := make(river.ReservoirCatalog, len(f.Reservoirs))
	for i, r := range f.Reservoirs {
		if r.ID <= 0 {
			return Links{}, eris.Wrapf(river.ErrInvalidIdentifier, "reservoirs[%d]: id %d", i, r.ID)
		}
		extra[r.ID] = r
	}
	out.Reservoirs = out.Reservoirs.Merge(extra)
	return out, nil
}
