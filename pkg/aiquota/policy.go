package aiquota

import "fmt"

// DefaultPolicies is the baseline tier policy table.
// Free is the only tier with finite daily limits; pro is unmetered.
func DefaultPolicies() map[Tier]TierPolicy {
	return map[Tier]TierPolicy{
		TierFree: {ChatLimit: 3, SuggestionLimit: 3, Window: WindowDaily},
		TierPlus: {ChatLimit: 100, SuggestionLimit: 60, Window: WindowMonthly},
		TierPro:  {ChatLimit: Unlimited, SuggestionLimit: Unlimited, Window: WindowMonthly},
	}
}

// PolicyFor returns the baseline policy for a tier. Unknown tiers get the free policy.
func PolicyFor(tier Tier) TierPolicy {
	return policyFrom(DefaultPolicies(), tier)
}

// IsUnlimited reports whether every limit of the tier's baseline policy is Unlimited.
func IsUnlimited(tier Tier) bool {
	return PolicyFor(tier).unlimited()
}

func (p TierPolicy) unlimited() bool {
	return p.ChatLimit == Unlimited && p.SuggestionLimit == Unlimited
}

func policyFrom(table map[Tier]TierPolicy, tier Tier) TierPolicy {
	if p, ok := table[tier]; ok {
		return p
	}
	return table[TierFree]
}

// mergePolicies overlays overrides on the baseline table and validates the result.
func mergePolicies(overrides map[Tier]TierPolicy) (map[Tier]TierPolicy, error) {
	table := DefaultPolicies()
	for tier, p := range overrides {
		if !tier.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidPolicy, tier)
		}
		table[tier] = p
	}
	for tier, p := range table {
		if p.Window != WindowDaily && p.Window != WindowMonthly {
			return nil, fmt.Errorf("%w: tier %s: %w %q", ErrInvalidPolicy, tier, ErrInvalidWindow, p.Window)
		}
		if p.ChatLimit < Unlimited || p.SuggestionLimit < Unlimited {
			return nil, fmt.Errorf("%w: tier %s has a negative limit", ErrInvalidPolicy, tier)
		}
	}
	return table, nil
}
