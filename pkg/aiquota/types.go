package aiquota

import (
	"time"
)

// Tier is a user's entitlement level.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// Rank orders tiers by privilege: free < plus < pro.
// Unknown tiers rank with free.
func (t Tier) Rank() int {
	switch t {
	case TierPro:
		return 2
	case TierPlus:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPlus || t == TierPro
}

// Paid reports whether t is a paying tier.
func (t Tier) Paid() bool {
	return t == TierPlus || t == TierPro
}

// MaxTier returns the more privileged of a and b.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseTier maps a stored or user-supplied string to a Tier, defaulting to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPro:
		return TierPro
	case TierPlus:
		return TierPlus
	default:
		return TierFree
	}
}

// ResetWindow defines how often a tier's counters reset
type ResetWindow string

const (
	// WindowDaily resets at 00:00 UTC every day
	WindowDaily ResetWindow = "daily"
	// WindowMonthly resets at 00:00 UTC on the first day of every month
	WindowMonthly ResetWindow = "monthly"
)

// UsageKind is the category of AI usage being metered.
type UsageKind string

const (
	KindChat       UsageKind = "chat"
	KindSuggestion UsageKind = "suggestion"
)

// Valid reports whether k is a metered usage kind.
func (k UsageKind) Valid() bool {
	return k == KindChat || k == KindSuggestion
}

// Unlimited is the sentinel limit (and remaining count) for unmetered categories.
const Unlimited = -1

// TierPolicy defines quota limits for a specific tier
type TierPolicy struct {
	ChatLimit       int
	SuggestionLimit int
	Window          ResetWindow
}

// LimitFor returns the limit of the given usage kind.
func (p TierPolicy) LimitFor(kind UsageKind) int {
	if kind == KindSuggestion {
		return p.SuggestionLimit
	}
	return p.ChatLimit
}

// Usage is the persisted ledger row for one (user, window) pair.
type Usage struct {
	UserID         string
	WindowKey      string
	ChatUsed       int
	SuggestionUsed int
	UpdatedAt      time.Time
}

// UsedFor returns the counter of the given usage kind.
func (u *Usage) UsedFor(kind UsageKind) int {
	if u == nil {
		return 0
	}
	if kind == KindSuggestion {
		return u.SuggestionUsed
	}
	return u.ChatUsed
}

// Snapshot is the caller-facing view of a user's quota standing.
type Snapshot struct {
	Tier                 Tier        `json:"tier"`
	RemainingChat        int         `json:"remainingChat"`        // Unlimited (-1) for unmetered tiers
	RemainingSuggestions int         `json:"remainingSuggestions"` // Unlimited (-1) for unmetered tiers
	ResetWindow          ResetWindow `json:"resetWindow"`
	ChatLimit            int         `json:"chatLimit"`
	SuggestionLimit      int         `json:"suggestionLimit"`
	WindowKey            string      `json:"windowKey,omitempty"`
	ResetsAt             *time.Time  `json:"resetsAt,omitempty"`
}

// ConsumeResult represents the result of a Consume operation
type ConsumeResult struct {
	// Allowed indicates whether one unit was consumed
	Allowed bool `json:"allowed"`

	// Snapshot holds post-increment counts when allowed, unchanged counts otherwise
	Snapshot *Snapshot `json:"snapshot"`
}

// Config holds quota manager configuration
type Config struct {
	// Policies overrides the baseline tier policy table. Missing tiers keep their defaults.
	Policies map[Tier]TierPolicy

	// Metrics is used for tracking quota operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// CircuitBreakerConfig configures the circuit breaker around storage (optional)
	CircuitBreakerConfig *CircuitBreakerConfig

	// Now returns the current instant (default: time.Now). Always converted to UTC.
	Now func() time.Time
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}
