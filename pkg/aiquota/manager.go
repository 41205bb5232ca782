package aiquota

import (
	"context"
	"fmt"
	"time"
)

// Manager meters AI chat and suggestion usage against the tier policy table.
// It holds no per-user state: every consume goes through Storage.ConsumeUsage,
// so correctness across instances depends only on the storage backend.
type Manager struct {
	storage  Storage
	policies map[Tier]TierPolicy
	metrics  Metrics
	logger   Logger
	now      func() time.Time
}

// NewManager creates a new quota manager with the given storage and configuration
func NewManager(storage Storage, config *Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if config == nil {
		config = &Config{}
	}

	policies, err := mergePolicies(config.Policies)
	if err != nil {
		return nil, err
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		threshold := cbc.FailureThreshold
		if threshold <= 0 {
			threshold = 5
		}
		resetTimeout := cbc.ResetTimeout
		if resetTimeout <= 0 {
			resetTimeout = 30 * time.Second
		}
		cb := NewDefaultCircuitBreaker(threshold, resetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("quota storage circuit breaker changed state", F("state", state))
		})
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	return &Manager{
		storage:  storage,
		policies: policies,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}, nil
}

// Policy returns the effective policy for a tier (unknown tiers get the free policy).
func (m *Manager) Policy(tier Tier) TierPolicy {
	return policyFrom(m.policies, tier)
}

// WindowKey returns the ledger window key for the tier at the current instant.
func (m *Manager) WindowKey(tier Tier) string {
	return WindowKey(m.Policy(tier).Window, m.now())
}

// Snapshot returns the user's remaining quota without modifying the ledger.
// Unlimited tiers never touch storage.
func (m *Manager) Snapshot(ctx context.Context, userID string, tier Tier) (*Snapshot, error) {
	start := time.Now()
	tier = normalizeTier(tier)
	defer func() {
		m.metrics.RecordSnapshot(tier, time.Since(start))
	}()

	policy := m.Policy(tier)
	if policy.unlimited() {
		return unlimitedSnapshot(tier, policy), nil
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	now := m.now().UTC()
	key := WindowKey(policy.Window, now)

	opStart := time.Now()
	usage, err := m.storage.GetUsage(ctx, userID, key)
	m.metrics.RecordStorageOperation("get_usage", time.Since(opStart), err)
	if err != nil {
		m.logger.Error("failed to read quota ledger",
			F("user_id", userID), F("window_key", key), Err(err))
		return nil, storageError(err)
	}

	return buildSnapshot(tier, policy, key, now, usage), nil
}

// Consume atomically uses one unit of the given kind.
// A denied consume returns Allowed=false with a nil error; a storage failure
// returns an error wrapping ErrStorageUnavailable and must be treated as a denial.
func (m *Manager) Consume(ctx context.Context, userID string, tier Tier, kind UsageKind) (*ConsumeResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	tier = normalizeTier(tier)

	policy := m.Policy(tier)
	if policy.unlimited() {
		m.metrics.RecordConsumption(tier, kind, true)
		return &ConsumeResult{Allowed: true, Snapshot: unlimitedSnapshot(tier, policy)}, nil
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	if policy.LimitFor(kind) == Unlimited {
		// Unmetered category on a metered tier: nothing to record.
		snap, err := m.Snapshot(ctx, userID, tier)
		if err != nil {
			return nil, err
		}
		m.metrics.RecordConsumption(tier, kind, true)
		return &ConsumeResult{Allowed: true, Snapshot: snap}, nil
	}

	now := m.now().UTC()
	key := WindowKey(policy.Window, now)

	opStart := time.Now()
	outcome, err := m.storage.ConsumeUsage(ctx, &ConsumeRequest{
		UserID:    userID,
		WindowKey: key,
		Kind:      kind,
		Limit:     policy.LimitFor(kind),
	})
	m.metrics.RecordStorageOperation("consume_usage", time.Since(opStart), err)
	if err != nil {
		m.metrics.RecordConsumption(tier, kind, false)
		m.logger.Error("failed to consume quota",
			F("user_id", userID), F("window_key", key), F("kind", kind), Err(err))
		return nil, storageError(err)
	}

	m.metrics.RecordConsumption(tier, kind, outcome.Allowed)
	if !outcome.Allowed {
		m.logger.Info("quota exhausted",
			F("user_id", userID), F("tier", tier), F("kind", kind), F("window_key", key))
	}

	usage := outcome.Usage
	return &ConsumeResult{
		Allowed:  outcome.Allowed,
		Snapshot: buildSnapshot(tier, policy, key, now, &usage),
	}, nil
}

func buildSnapshot(tier Tier, policy TierPolicy, key string, now time.Time, usage *Usage) *Snapshot {
	_, resetsAt := WindowBounds(policy.Window, now)
	return &Snapshot{
		Tier:                 tier,
		RemainingChat:        remaining(policy.ChatLimit, usage.UsedFor(KindChat)),
		RemainingSuggestions: remaining(policy.SuggestionLimit, usage.UsedFor(KindSuggestion)),
		ResetWindow:          policy.Window,
		ChatLimit:            policy.ChatLimit,
		SuggestionLimit:      policy.SuggestionLimit,
		WindowKey:            key,
		ResetsAt:             &resetsAt,
	}
}

func unlimitedSnapshot(tier Tier, policy TierPolicy) *Snapshot {
	return &Snapshot{
		Tier:                 tier,
		RemainingChat:        Unlimited,
		RemainingSuggestions: Unlimited,
		ResetWindow:          policy.Window,
		ChatLimit:            Unlimited,
		SuggestionLimit:      Unlimited,
	}
}

func remaining(limit, used int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func normalizeTier(tier Tier) Tier {
	if tier.Valid() {
		return tier
	}
	return TierFree
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
