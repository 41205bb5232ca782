package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	quotahttp "github.com/mihaimyh/xtract/middleware/http"
	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// RouterConfig wires the handler into an HTTP route tree
type RouterConfig struct {
	Handler *Handler

	// UserIDHeader and UserEmailHeader carry the upstream-authenticated identity.
	UserIDHeader    string
	UserEmailHeader string

	// Webhook receives provider events. Mounted without identity when set.
	Webhook http.Handler

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// Logger writes one line per request (optional)
	Logger *zerolog.Logger
}

// NewRouter builds the chi route tree.
func NewRouter(config RouterConfig) http.Handler {
	h := config.Handler

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if config.Logger != nil {
		r.Use(requestLogger(config.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}
	if config.Webhook != nil {
		r.Method(http.MethodPost, "/api/billing/webhook", config.Webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(quotahttp.Identity(config.UserIDHeader, config.UserEmailHeader))

		r.Get("/api/ai/quota", h.GetQuota)
		r.With(h.DecodeChat, h.quotaGate(aiquota.KindChat)).Post("/api/ai/chat", h.Chat)
		r.With(h.DecodeSuggestion, h.quotaGate(aiquota.KindSuggestion)).Post("/api/ai/suggestion", h.Suggestion)
		r.Post("/api/ai/market-summary", h.MarketSummary)

		r.Post("/api/billing/checkout", h.Checkout)
		r.Post("/api/billing/portal", h.Portal)
		r.Post("/api/billing/sync", h.Sync)
	})

	return r
}

func (h *Handler) quotaGate(kind aiquota.UsageKind) func(http.Handler) http.Handler {
	return quotahttp.Middleware(quotahttp.Config{
		Manager: h.config.Manager,
		Tiers:   h.config.Tiers,
		Kind:    kind,
	})
}

func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
