package usecase

import (
	"strings"

	"adengine/internal/domain"
)

// TargetingMatcher decides whether an ad may be shown for a visitor.
// It is a pure predicate and safe for concurrent use.
type TargetingMatcher struct{}

func NewTargetingMatcher() TargetingMatcher {
	return TargetingMatcher{}
}

// Matches is true when every populated dimension of t is satisfied by vc.
// An ad with no populated dimension matches every visitor.
func (m TargetingMatcher) Matches(t domain.Targeting, vc domain.VisitorContext) bool {
	if t.Unrestricted() {
		return true
	}
	for _, dimension := range domain.Dimensions {
		allowed := t.Set(dimension)
		if allowed.IsEmpty() {
			continue
		}
		if !m.satisfies(dimension, allowed, vc) {
			return false
		}
	}
	return true
}

// Eligible returns the ads whose targeting matches vc, preserving order.
func (m TargetingMatcher) Eligible(ads []domain.Ad, vc domain.VisitorContext) []domain.Ad {
	eligible := make([]domain.Ad, 0, len(ads))
	for _, ad := range ads {
		if m.Matches(ad.Targeting, vc) {
			eligible = append(eligible, ad)
		}
	}
	return eligible
}

func (m TargetingMatcher) satisfies(dimension domain.Dimension, allowed domain.TargetingSet, vc domain.VisitorContext) bool {
	switch dimension {
	case domain.DimensionGeo:
		return allowed.Contains(vc.Country)
	case domain.DimensionProvince:
		return allowed.Contains(vc.Province)
	case domain.DimensionCity:
		return allowed.Contains(vc.City)
	case domain.DimensionDevice:
		return allowed.Contains(vc.DeviceClass)
	case domain.DimensionInterests:
		return allowed.ContainsAny(vc.Interests)
	case domain.DimensionGAID, domain.DimensionIDFA:
		return m.satisfiesIdentifier(dimension, allowed, vc)
	}
	return false
}

// An identifier allow-list fails requests without a device type or id, and
// only constrains requests whose device type names the same identifier kind.
func (m TargetingMatcher) satisfiesIdentifier(dimension domain.Dimension, allowed domain.TargetingSet, vc domain.VisitorContext) bool {
	deviceType := strings.ToLower(strings.TrimSpace(vc.DeviceType))
	if deviceType == "" || strings.TrimSpace(vc.DeviceID) == "" {
		return false
	}
	if deviceType != string(dimension) {
		return true
	}
	return allowed.Contains(vc.DeviceID)
}
