// Package http provides net/http middleware for caller identity and AI quota enforcement.
// Both are plain func(http.Handler) http.Handler values, so they mount on chi or any
// stdlib-compatible router.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// TierSource resolves the denormalized tier of a user. billing.Store satisfies it.
type TierSource interface {
	GetUserTier(ctx context.Context, userID string) (aiquota.Tier, error)
}

// Config holds quota middleware configuration
type Config struct {
	// Manager is the quota manager instance
	Manager *aiquota.Manager

	// Tiers resolves the caller's tier (required)
	Tiers TierSource

	// Kind is the usage category consumed per request (required)
	Kind aiquota.UsageKind

	// GetUserID extracts user ID from request. Default: FromContext(UserIDKey)
	GetUserID UserIDExtractor

	// OnQuotaExceeded is called when quota is exceeded
	// If nil, returns 429 with the snapshot as JSON
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, snapshot *aiquota.Snapshot)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the tier or the ledger cannot be read
	// If nil, returns 503 Service Unavailable
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// QuotaExceededResponse is the default 429 body
type QuotaExceededResponse struct {
	Error string            `json:"error"`
	Kind  aiquota.UsageKind `json:"kind"`
	Quota *aiquota.Snapshot `json:"quota"`
}

// Middleware creates an HTTP middleware that consumes one unit of config.Kind
// before calling next. Requests are refused whenever the ledger cannot confirm
// the unit, including on storage errors.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetUserID == nil {
		config.GetUserID = FromContext(UserIDKey)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				}
				return
			}

			ctx := r.Context()
			tier, err := config.Tiers.GetUserTier(ctx, userID)
			if err != nil {
				config.fail(w, r, err)
				return
			}

			result, err := config.Manager.Consume(ctx, userID, tier, config.Kind)
			if err != nil {
				config.fail(w, r, err)
				return
			}

			if !result.Allowed {
				if config.OnQuotaExceeded != nil {
					config.OnQuotaExceeded(w, r, result.Snapshot)
				} else {
					writeJSON(w, http.StatusTooManyRequests, QuotaExceededResponse{
						Error: "quota_exceeded",
						Kind:  config.Kind,
						Quota: result.Snapshot,
					})
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, quotaKey, result.Snapshot)))
		})
	}
}

func (c *Config) fail(w http.ResponseWriter, r *http.Request, err error) {
	if c.OnError != nil {
		c.OnError(w, r, err)
		return
	}
	if errors.Is(err, aiquota.ErrInvalidUserID) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSONError(w, http.StatusServiceUnavailable, "quota_unavailable")
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "xtract:userID"
	// UserEmailKey is the context key for the user's email, when known
	UserEmailKey ContextKey = "xtract:userEmail"

	quotaKey ContextKey = "xtract:quota"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID returns the authenticated user ID stored in ctx, or "".
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// UserEmail returns the caller's email stored in ctx, or "".
func UserEmail(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

// QuotaSnapshot returns the post-consume snapshot left by Middleware.
func QuotaSnapshot(ctx context.Context) *aiquota.Snapshot {
	snapshot, _ := ctx.Value(quotaKey).(*aiquota.Snapshot)
	return snapshot
}

// Identity trusts the identity an upstream authenticator forwarded in headers and
// stores it in the request context. Requests without a user ID get 401.
func Identity(userHeader, emailHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(userHeader)
			if userID == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := WithUserID(r.Context(), userID)
			if email := r.Header.Get(emailHeader); email != "" {
				ctx = context.WithValue(ctx, UserEmailKey, email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
