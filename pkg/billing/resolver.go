package billing

import (
	"strings"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// PriceTable maps provider price ids to tiers.
type PriceTable map[string]aiquota.Tier

// NewPriceTable builds the table from the configured plus and pro price ids.
// Empty ids are skipped.
func NewPriceTable(plusPriceID, proPriceID string) PriceTable {
	table := PriceTable{}
	if id := strings.TrimSpace(plusPriceID); id != "" {
		table[id] = aiquota.TierPlus
	}
	if id := strings.TrimSpace(proPriceID); id != "" {
		table[id] = aiquota.TierPro
	}
	return table
}

// Lookup returns the tier of a known price id.
func (t PriceTable) Lookup(priceID string) (aiquota.Tier, bool) {
	if priceID == "" {
		return "", false
	}
	tier, ok := t[priceID]
	return tier, ok
}

// PriceFor returns the price id configured for a tier, empty when none.
// The result is deterministic when several ids map to one tier.
func (t PriceTable) PriceFor(tier aiquota.Tier) string {
	best := ""
	for id, mapped := range t {
		if mapped == tier && (best == "" || id < best) {
			best = id
		}
	}
	return best
}

// IsEntitledStatus reports whether a subscription in this status grants its tier.
func IsEntitledStatus(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// ResolveTier maps one subscription to a tier. Only active and trialing
// subscriptions are entitled. A recognised price id wins over the "plan"
// metadata, which is only consulted for unknown prices.
func ResolveTier(sub *Subscription, prices PriceTable) aiquota.Tier {
	if sub == nil || !IsEntitledStatus(sub.Status) {
		return aiquota.TierFree
	}
	if tier, ok := prices.Lookup(sub.PriceID); ok {
		return tier
	}
	switch sub.Metadata[MetadataPlan] {
	case string(aiquota.TierPro):
		return aiquota.TierPro
	case string(aiquota.TierPlus):
		return aiquota.TierPlus
	default:
		return aiquota.TierFree
	}
}

// EffectiveTier is the most privileged tier among the entitled rows.
func EffectiveTier(rows []SubscriptionRow) aiquota.Tier {
	tier := aiquota.TierFree
	for i := range rows {
		if IsEntitledStatus(rows[i].Status) {
			tier = aiquota.MaxTier(tier, rows[i].Tier)
		}
	}
	return tier
}
