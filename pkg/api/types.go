package api

import (
	"encoding/json"
	"time"

	"github.com/mihaimyh/xtract/pkg/ai"
	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// ChatRequest is the body of POST /api/ai/chat
type ChatRequest struct {
	Message string           `json:"message"`
	History []ai.Turn        `json:"history,omitempty"`
	Context ai.ScreenContext `json:"context,omitempty"`
}

// ChatResponse is returned after a successful chat turn
type ChatResponse struct {
	Reply string            `json:"reply"`
	Quota *aiquota.Snapshot `json:"quota"`
	Tier  aiquota.Tier      `json:"tier"`
}

// SuggestionRequest is the body of POST /api/ai/suggestion
type SuggestionRequest struct {
	Symbol string          `json:"symbol"`
	Stock  json.RawMessage `json:"stock,omitempty"`
}

// SuggestionResponse carries one informational label for a symbol
type SuggestionResponse struct {
	Symbol      string            `json:"symbol"`
	Label       string            `json:"label"`
	Reason      string            `json:"reason"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Quota       *aiquota.Snapshot `json:"quota"`
	Tier        aiquota.Tier      `json:"tier"`
}

// MarketSummaryRequest is the body of POST /api/ai/market-summary
type MarketSummaryRequest struct {
	Summary []json.RawMessage `json:"summary"`
}

// MarketSummaryResponse carries the midday and closing reports
type MarketSummaryResponse struct {
	MiddayReport  string       `json:"middayReport"`
	ClosingReport string       `json:"closingReport"`
	GeneratedAt   time.Time    `json:"generatedAt"`
	Tier          aiquota.Tier `json:"tier"`
}

// CheckoutRequest is the body of POST /api/billing/checkout
type CheckoutRequest struct {
	Plan string `json:"plan"`
}

// URLResponse carries a provider-hosted redirect URL
type URLResponse struct {
	URL string `json:"url"`
}

// SyncResponse reports the tier after a provider resync
type SyncResponse struct {
	Tier aiquota.Tier `json:"tier"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}
