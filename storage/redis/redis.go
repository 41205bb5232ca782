// Package redis provides a Redis implementation of aiquota.Storage and
// billing.Store. Consumption runs as a single Lua script, so it is atomic
// across server instances.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

var _ aiquota.Storage = (*Storage)(nil)

const (
	fieldChatUsed       = "chat_used"
	fieldSuggestionUsed = "suggestion_used"
	fieldUpdatedAt      = "updated_at"
)

// consumeScript ensures both counters exist, increments ARGV[1] when it is
// below the limit (a negative limit is unmetered) and returns
// {allowed, chat_used, suggestion_used}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local field = ARGV[1]
	local limit = tonumber(ARGV[2])
	local now = ARGV[3]
	local ttl = tonumber(ARGV[4])

	redis.call('HSETNX', key, 'chat_used', 0)
	redis.call('HSETNX', key, 'suggestion_used', 0)

	local used = tonumber(redis.call('HGET', key, field))
	local allowed = 0
	if limit < 0 or used < limit then
		redis.call('HINCRBY', key, field, 1)
		allowed = 1
	end
	redis.call('HSET', key, 'updated_at', now)

	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end

	local counters = redis.call('HMGET', key, 'chat_used', 'suggestion_used')
	return {allowed, tonumber(counters[1]), tonumber(counters[2])}
`)

// Storage keeps one ledger hash per (user, window) plus the billing keys
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "xtract:")
	KeyPrefix string

	// UsageTTL expires ledger rows after their window has passed (default: 35 days)
	UsageTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "xtract:",
		UsageTTL:  35 * 24 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "xtract:"
	}

	return &Storage{client: client, config: config}, nil
}

// GetUsage implements aiquota.Storage
func (s *Storage) GetUsage(ctx context.Context, userID, windowKey string) (*aiquota.Usage, error) {
	fields, err := s.client.HGetAll(ctx, s.usageKey(userID, windowKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	usage := &aiquota.Usage{UserID: userID, WindowKey: windowKey}
	if usage.ChatUsed, err = parseCounter(fields[fieldChatUsed]); err != nil {
		return nil, err
	}
	if usage.SuggestionUsed, err = parseCounter(fields[fieldSuggestionUsed]); err != nil {
		return nil, err
	}
	usage.UpdatedAt = parseMillis(fields[fieldUpdatedAt])
	return usage, nil
}

// ConsumeUsage implements aiquota.Storage
func (s *Storage) ConsumeUsage(ctx context.Context, req *aiquota.ConsumeRequest) (*aiquota.ConsumeOutcome, error) {
	field := fieldChatUsed
	switch req.Kind {
	case aiquota.KindChat:
	case aiquota.KindSuggestion:
		field = fieldSuggestionUsed
	default:
		return nil, aiquota.ErrInvalidKind
	}

	now := time.Now().UTC()
	result, err := consumeScript.Run(ctx, s.client,
		[]string{s.usageKey(req.UserID, req.WindowKey)},
		field, req.Limit, now.UnixMilli(), int64(s.config.UsageTTL/time.Second),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to consume usage: %w", err)
	}
	if len(result) != 3 {
		return nil, fmt.Errorf("unexpected consume result: %v", result)
	}

	return &aiquota.ConsumeOutcome{
		Allowed: result[0] == 1,
		Usage: aiquota.Usage{
			UserID:         req.UserID,
			WindowKey:      req.WindowKey,
			ChatUsed:       int(result[1]),
			SuggestionUsed: int(result[2]),
			UpdatedAt:      now,
		},
	}, nil
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) usageKey(userID, windowKey string) string {
	return fmt.Sprintf("%susage:%s:%s", s.config.KeyPrefix, userID, windowKey)
}

func parseCounter(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse usage counter: %w", err)
	}
	return n, nil
}
