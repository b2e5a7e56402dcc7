package skins

import "github.com/coneflip-overlay/server/internal/domain"

// EntitlementRule grants a skin at read time based on external state rather
// than persisted inventory. Grants are merged into inventory views and are
// equip-able via swap, but never written back to the store.
type EntitlementRule func(name string, top *domain.PlayerRecord, subTier int) (skin string, granted bool)

// SubscriberRule grants the subscriber cone to any active subscriber.
func SubscriberRule(name string, _ *domain.PlayerRecord, subTier int) (string, bool) {
	return "subcone", subTier > 0
}

// TopRankRule grants the gold cone to whoever currently holds rank 1.
func TopRankRule(name string, top *domain.PlayerRecord, _ int) (string, bool) {
	return "gold", top != nil && top.Name == name
}

// PrideRule grants the pride cone to everyone.
func PrideRule(string, *domain.PlayerRecord, int) (string, bool) {
	return "pride", true
}

// DefaultEntitlements is the rule set used in production.
func DefaultEntitlements() []EntitlementRule {
	return []EntitlementRule{SubscriberRule, TopRankRule, PrideRule}
}
