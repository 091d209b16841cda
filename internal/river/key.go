package river

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// usgsSiteRe matches USGS site numbers: 8 to 15 digits.
var usgsSiteRe = regexp.MustCompile(`^\d{8,15}$`)

// StationKey is the canonical identifier (agency, primary id) used as the
// Dataset Store key.
type StationKey struct {
	Agency Agency `json:"agency"`
	ID     string `json:"id"`
}

// String renders the key as "<agency> <id>", e.g. "USGS 09058000".
func (k StationKey) String() string {
	return string(k.Agency) + " " + k.ID
}

// Validate checks that the key belongs to a known agency and carries an id
// that is well formed for that agency.
func (k StationKey) Validate() error {
	switch k.Agency {
	case AgencyUSGS:
		if !usgsSiteRe.MatchString(k.ID) {
			return eris.Wrapf(ErrInvalidIdentifier, "usgs site number %q", k.ID)
		}
	case AgencyState:
		if strings.TrimSpace(k.ID) == "" {
			return eris.Wrap(ErrInvalidIdentifier, "empty state station id")
		}
	default:
		return eris.Wrapf(ErrInvalidIdentifier, "unknown agency %q", k.Agency)
	}
	return nil
}

// ParseAgency maps loosely written agency names onto Agency values.
func ParseAgency(s string) Agency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USGS":
		return AgencyUSGS
	case "DWR", "STATE":
		return AgencyState
	default:
		return AgencyUnknown
	}
}

// ParseStationKey parses the "<agency> <id>" form produced by String.
func ParseStationKey(s string) (StationKey, error) {
	agency, id, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return StationKey{}, eris.Wrapf(ErrInvalidIdentifier, "station key %q", s)
	}
	k := StationKey{Agency: ParseAgency(agency), ID: strings.TrimSpace(id)}
	if err := k.Validate(); err != nil {
		return StationKey{}, err
	}
	return k, nil
}

// NormalizeUSGSSite strips an optional "USGS" prefix and surrounding space
// from a site number.
func NormalizeUSGSSite(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "USGS")
	return strings.TrimSpace(s)
}

// KeySet is a set of station keys.
type KeySet map[StationKey]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...StationKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Has(k StationKey) bool {
	_, ok := s[k]
	return ok
}

func (s KeySet) Add(k StationKey) { s[k] = struct{}{} }

func (s KeySet) Remove(k StationKey) { delete(s, k) }

// Clone returns an independent copy of the set.
func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the keys ordered by agency, then id.
func (s KeySet) Sorted() []StationKey {
	out := make([]StationKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return LessKey(out[i], out[j]) })
	return out
}

// LessKey orders keys by agency, then id.
func LessKey(a, b StationKey) bool {
	if a.Agency != b.Agency {
		return a.Agency < b.Agency
	}
	return a.ID < b.ID
}
