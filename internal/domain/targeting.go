package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// TargetingSet is an ordered set of lowercase tokens. An empty set means the
// dimension is unrestricted. Blank tokens are never stored.
type TargetingSet []string

// NewTargetingSet trims, lowercases and de-duplicates values, keeping first-seen order.
func NewTargetingSet(values ...string) TargetingSet {
	set := make(TargetingSet, 0, len(values))
	for _, v := range values {
		token := normalizeToken(v)
		if token == "" || slices.Contains(set, token) {
			continue
		}
		set = append(set, token)
	}
	return set
}

// ParseTargetingSet splits a comma separated list into a TargetingSet.
func ParseTargetingSet(raw string) TargetingSet {
	if strings.TrimSpace(raw) == "" {
		return TargetingSet{}
	}
	return NewTargetingSet(strings.Split(raw, ",")...)
}

func (s TargetingSet) IsEmpty() bool {
	return len(s) == 0
}

// Contains reports whether value is in the set, case-insensitively.
// Blank values never match.
func (s TargetingSet) Contains(value string) bool {
	token := normalizeToken(value)
	if token == "" {
		return false
	}
	return slices.Contains(s, token)
}

// ContainsAny reports whether any of values is in the set.
func (s TargetingSet) ContainsAny(values []string) bool {
	for _, v := range values {
		if s.Contains(v) {
			return true
		}
	}
	return false
}

// Value stores the set as a JSON array; empty sets are stored as NULL.
func (s TargetingSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan validates the stored JSON array and normalizes it on the way in.
func (s *TargetingSet) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = TargetingSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for TargetingSet: %T", value)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		*s = TargetingSet{}
		return nil
	}

	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("invalid targeting set %q: %w", raw, err)
	}
	*s = NewTargetingSet(values...)
	return nil
}

func (s *TargetingSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewTargetingSet(values...)
	return nil
}

func normalizeToken(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Dimension names one targeting constraint category.
type Dimension string

const (
	DimensionGeo       Dimension = "geo"
	DimensionProvince  Dimension = "province"
	DimensionCity      Dimension = "city"
	DimensionDevice    Dimension = "device"
	DimensionInterests Dimension = "interests"
	DimensionGAID      Dimension = "gaid"
	DimensionIDFA      Dimension = "idfa"
)

// Dimensions lists every dimension in evaluation order.
var Dimensions = []Dimension{
	DimensionGeo,
	DimensionProvince,
	DimensionCity,
	DimensionDevice,
	DimensionInterests,
	DimensionGAID,
	DimensionIDFA,
}

// Targeting holds one allow-list per dimension.
type Targeting struct {
	Geo       TargetingSet `json:"geo" gorm:"column:targeting_geo;type:text"`
	Provinces TargetingSet `json:"provinces" gorm:"column:targeting_provinces;type:text"`
	Cities    TargetingSet `json:"cities" gorm:"column:targeting_cities;type:text"`
	Devices   TargetingSet `json:"devices" gorm:"column:targeting_devices;type:text"`
	Interests TargetingSet `json:"interests" gorm:"column:targeting_interests;type:text"`
	GAIDs     TargetingSet `json:"gaids" gorm:"column:targeting_gaids;type:text"`
	IDFAs     TargetingSet `json:"idfas" gorm:"column:targeting_idfas;type:text"`
}

// Set returns the allow-list for a dimension.
func (t Targeting) Set(d Dimension) TargetingSet {
	switch d {
	case DimensionGeo:
		return t.Geo
	case DimensionProvince:
		return t.Provinces
	case DimensionCity:
		return t.Cities
	case DimensionDevice:
		return t.Devices
	case DimensionInterests:
		return t.Interests
	case DimensionGAID:
		return t.GAIDs
	case DimensionIDFA:
		return t.IDFAs
	}
	return nil
}

// Unrestricted is true when no dimension is populated.
func (t Targeting) Unrestricted() bool {
	for _, d := range Dimensions {
		if !t.Set(d).IsEmpty() {
			return false
		}
	}
	return true
}
