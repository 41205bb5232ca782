package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	quotahttp "github.com/mihaimyh/xtract/middleware/http"
	"github.com/mihaimyh/xtract/pkg/ai"
	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

const maxRequestBodyBytes = 64 * 1024

type bodyKey struct{}

// Handler serves the quota, assistant and billing endpoints
type Handler struct {
	config Config
}

// GetQuota returns the caller's current quota snapshot without consuming.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := quotahttp.UserID(ctx)

	tier, err := h.config.Tiers.GetUserTier(ctx, userID)
	if err != nil {
		h.config.Logger.Error("failed to read user tier", aiquota.F("user_id", userID), aiquota.Err(err))
		writeError(w, http.StatusServiceUnavailable, "Quota is temporarily unavailable.")
		return
	}

	snapshot, err := h.config.Manager.Snapshot(ctx, userID, tier)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Quota is temporarily unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// DecodeChat validates the chat body before any quota is consumed.
func (h *Handler) DecodeChat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
		req.Message = ai.TrimMessage(req.Message)
		if req.Message == "" {
			writeError(w, http.StatusBadRequest, "Message is required.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, &req)))
	})
}

// Chat answers one assistant turn. The quota unit was consumed by the middleware.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := ctx.Value(bodyKey{}).(*ChatRequest)
	if !ok {
		writeError(w, http.StatusBadRequest, "Message is required.")
		return
	}
	snapshot := quotahttp.QuotaSnapshot(ctx)

	reply, err := h.config.Generator.Generate(ctx, ai.ChatPrompt(req.Message, req.History, req.Context))
	if err != nil {
		h.config.Logger.Error("ai chat generation failed",
			aiquota.F("user_id", quotahttp.UserID(ctx)), aiquota.Err(err))
		writeError(w, http.StatusBadGateway, "Unable to process AI chat right now.")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply, Quota: snapshot, Tier: snapshotTier(snapshot)})
}

// DecodeSuggestion validates the suggestion body before any quota is consumed.
func (h *Handler) DecodeSuggestion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SuggestionRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
		req.Symbol = ai.NormalizeSymbol(req.Symbol)
		if req.Symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, &req)))
	})
}

// Suggestion returns one informational label for a symbol.
func (h *Handler) Suggestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := ctx.Value(bodyKey{}).(*SuggestionRequest)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	snapshot := quotahttp.QuotaSnapshot(ctx)

	text, err := h.config.Generator.Generate(ctx, ai.SuggestionPrompt(req.Symbol, req.Stock))
	if err != nil {
		h.config.Logger.Error("ai suggestion generation failed",
			aiquota.F("user_id", quotahttp.UserID(ctx)),
			aiquota.F("symbol", req.Symbol),
			aiquota.Err(err))
		writeError(w, http.StatusBadGateway, "Unable to generate AI suggestion right now.")
		return
	}

	parsed := ai.ParseSuggestion(text)
	writeJSON(w, http.StatusOK, SuggestionResponse{
		Symbol:      req.Symbol,
		Label:       parsed.Label,
		Reason:      parsed.Reason,
		GeneratedAt: time.Now().UTC(),
		Quota:       snapshot,
		Tier:        snapshotTier(snapshot),
	})
}

// MarketSummary writes the midday and closing index reports. Paid tiers only;
// it does not consume quota.
func (h *Handler) MarketSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := quotahttp.UserID(ctx)

	tier, err := h.config.Tiers.GetUserTier(ctx, userID)
	if err != nil {
		h.config.Logger.Error("failed to read user tier", aiquota.F("user_id", userID), aiquota.Err(err))
		writeError(w, http.StatusServiceUnavailable, "Tier is temporarily unavailable.")
		return
	}
	if !tier.Paid() {
		writeError(w, http.StatusForbidden, "Paid plan required for AI market reports.")
		return
	}

	var req MarketSummaryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	quotes := ai.ParseIndexQuotes(req.Summary)
	if len(quotes) == 0 {
		writeError(w, http.StatusBadRequest, "Summary data is required.")
		return
	}

	text, err := h.config.Generator.Generate(ctx, ai.MarketSummaryPrompt(quotes))
	if err != nil {
		h.config.Logger.Error("ai market summary generation failed", aiquota.F("user_id", userID), aiquota.Err(err))
		writeError(w, http.StatusBadGateway, "Unable to generate AI market summary.")
		return
	}
	reports, err := ai.ParseMarketReports(text)
	if err != nil {
		h.config.Logger.Warn("unusable ai market summary", aiquota.F("user_id", userID), aiquota.Err(err))
		writeError(w, http.StatusBadGateway, "Unable to generate AI market summary.")
		return
	}

	writeJSON(w, http.StatusOK, MarketSummaryResponse{
		MiddayReport:  reports.MiddayReport,
		ClosingReport: reports.ClosingReport,
		GeneratedAt:   time.Now().UTC(),
		Tier:          tier,
	})
}

// Checkout starts a subscription checkout for the plus or pro plan.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.config.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "Billing is not configured.")
		return
	}
	ctx := r.Context()

	var req CheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	plan := aiquota.Tier(strings.ToLower(strings.TrimSpace(req.Plan)))
	if plan != aiquota.TierPlus && plan != aiquota.TierPro {
		writeError(w, http.StatusBadRequest, "plan must be plus or pro")
		return
	}

	url, err := h.config.Billing.CheckoutURL(ctx,
		quotahttp.UserID(ctx), quotahttp.UserEmail(ctx), plan,
		h.config.AppURL+"/?billing=success", h.config.AppURL+"/?billing=cancel")
	if err != nil {
		h.billingError(w, "checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// Portal opens the customer portal for a user that already has a customer.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	if h.config.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "Billing is not configured.")
		return
	}
	ctx := r.Context()

	url, err := h.config.Billing.PortalURL(ctx, quotahttp.UserID(ctx), h.config.AppURL+"/")
	if err != nil {
		h.billingError(w, "portal", err)
		return
	}
	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// Sync re-reads the caller's subscriptions from the provider.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.config.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "Billing is not configured.")
		return
	}
	ctx := r.Context()

	tier, err := h.config.Billing.SyncUser(ctx, quotahttp.UserID(ctx))
	if err != nil {
		h.billingError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Tier: tier})
}

func (h *Handler) billingError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, billing.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "No billing account found.")
	case errors.Is(err, billing.ErrTierNotConfigured):
		writeError(w, http.StatusBadRequest, "Plan is not available.")
	case errors.Is(err, billing.ErrProviderAPIError):
		h.config.Logger.Error("billing provider call failed", aiquota.F("op", op), aiquota.Err(err))
		writeError(w, http.StatusBadGateway, "Billing provider is unavailable.")
	default:
		h.config.Logger.Error("billing request failed", aiquota.F("op", op), aiquota.Err(err))
		writeError(w, http.StatusInternalServerError, "Unable to process billing request.")
	}
}

func snapshotTier(s *aiquota.Snapshot) aiquota.Tier {
	if s == nil {
		return aiquota.TierFree
	}
	return s.Tier
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
