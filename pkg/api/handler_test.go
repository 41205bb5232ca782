package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/xtract/pkg/ai"
	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
	"github.com/mihaimyh/xtract/storage/memory"
)

const testUserID = "user123"

type fakeBilling struct {
	checkoutPlan    aiquota.Tier
	checkoutEmail   string
	successURL      string
	cancelURL       string
	portalReturnURL string
	err             error
}

func (f *fakeBilling) Name() string                 { return "fake" }
func (f *fakeBilling) WebhookHandler() http.Handler { return http.NotFoundHandler() }

func (f *fakeBilling) SyncUser(context.Context, string) (aiquota.Tier, error) {
	if f.err != nil {
		return "", f.err
	}
	return aiquota.TierPlus, nil
}

func (f *fakeBilling) CheckoutURL(_ context.Context, _, email string, plan aiquota.Tier,
	successURL, cancelURL string) (string, error) {
	f.checkoutPlan, f.checkoutEmail, f.successURL, f.cancelURL = plan, email, successURL, cancelURL
	if f.err != nil {
		return "", f.err
	}
	return "https://checkout.stripe.com/c/pay/cs_test_1", nil
}

func (f *fakeBilling) PortalURL(_ context.Context, _, returnURL string) (string, error) {
	f.portalReturnURL = returnURL
	if f.err != nil {
		return "", f.err
	}
	return "https://billing.stripe.com/p/session/bps_1", nil
}

type testEnv struct {
	router    http.Handler
	store     *memory.Storage
	billing   *fakeBilling
	generator *ai.MockGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	manager, err := aiquota.NewManager(store, &aiquota.Config{
		Now: func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	env := &testEnv{store: store, billing: &fakeBilling{}, generator: &ai.MockGenerator{}}
	handler, err := NewHandler(Config{
		Manager:   manager,
		Tiers:     store,
		Generator: env.generator,
		Billing:   env.billing,
		AppURL:    "https://app.example.com",
	})
	require.NoError(t, err)

	env.router = NewRouter(RouterConfig{
		Handler:         handler,
		UserIDHeader:    "X-User-ID",
		UserEmailHeader: "X-User-Email",
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-User-ID", testUserID)
	req.Header.Set("X-User-Email", "user@example.com")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.Error(t, err)
}

func TestRouter_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ai/quota", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetQuota_FreeUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/ai/quota", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[aiquota.Snapshot](t, rec)
	assert.Equal(t, aiquota.TierFree, snap.Tier)
	assert.Equal(t, 3, snap.RemainingChat)
	assert.Equal(t, 3, snap.RemainingSuggestions)
	assert.Equal(t, aiquota.WindowDaily, snap.ResetWindow)
}

func TestChat_ConsumesAndDenies(t *testing.T) {
	env := newTestEnv(t)
	env.generator.Reply = "AAPL is up 2% today."

	for i := 2; i >= 0; i-- {
		rec := env.do(t, http.MethodPost, "/api/ai/chat", `{"message":"how is AAPL?"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[ChatResponse](t, rec)
		assert.Equal(t, "AAPL is up 2% today.", resp.Reply)
		assert.Equal(t, aiquota.TierFree, resp.Tier)
		assert.Equal(t, i, resp.Quota.RemainingChat)
	}

	rec := env.do(t, http.MethodPost, "/api/ai/chat", `{"message":"and now?"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	snap := env.do(t, http.MethodGet, "/api/ai/quota", "")
	assert.Equal(t, 0, decode[aiquota.Snapshot](t, snap).RemainingChat)
}

func TestChat_InvalidBodyDoesNotConsume(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"message":"   "}`, `not json`, ``} {
		rec := env.do(t, http.MethodPost, "/api/ai/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}

	usage, err := env.store.GetUsage(context.Background(), testUserID, "2026-06-01")
	require.NoError(t, err)
	assert.Nil(t, usage)
}

func TestChat_GenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.generator.Err = errors.New("model overloaded")

	rec := env.do(t, http.MethodPost, "/api/ai/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSuggestion(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetUserTier(context.Background(), testUserID, aiquota.TierPlus))
	env.generator.Reply = `{"label":"Buy","reason":"Revenue growth is accelerating. Informational only."}`

	rec := env.do(t, http.MethodPost, "/api/ai/suggestion", `{"symbol":"aapl","stock":{"price":190.5}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SuggestionResponse](t, rec)
	assert.Equal(t, "AAPL", resp.Symbol)
	assert.Equal(t, "Buy", resp.Label)
	assert.Equal(t, aiquota.TierPlus, resp.Tier)
	assert.Equal(t, 59, resp.Quota.RemainingSuggestions)
	assert.Equal(t, aiquota.WindowMonthly, resp.Quota.ResetWindow)
}

func TestSuggestion_MissingSymbol(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ai/suggestion", `{"symbol":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestion_ProUnlimited(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetUserTier(context.Background(), testUserID, aiquota.TierPro))

	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/api/ai/suggestion", `{"symbol":"msft"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[SuggestionResponse](t, rec)
		assert.Equal(t, aiquota.Unlimited, resp.Quota.RemainingSuggestions)
		assert.Equal(t, ai.FallbackSuggestion.Label, resp.Label)
	}
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/checkout", `{"plan":"Pro"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", decode[URLResponse](t, rec).URL)
	assert.Equal(t, aiquota.TierPro, env.billing.checkoutPlan)
	assert.Equal(t, "user@example.com", env.billing.checkoutEmail)
	assert.Equal(t, "https://app.example.com/?billing=success", env.billing.successURL)
	assert.Equal(t, "https://app.example.com/?billing=cancel", env.billing.cancelURL)
}

func TestCheckout_InvalidPlan(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"plan":"free"}`, `{"plan":"enterprise"}`, `{}`} {
		rec := env.do(t, http.MethodPost, "/api/billing/checkout", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestPortal(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/portal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com/", env.billing.portalReturnURL)
}

func TestBillingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no customer", fmt.Errorf("%w: user %s", billing.ErrCustomerNotFound, testUserID), http.StatusNotFound},
		{"price missing", billing.ErrTierNotConfigured, http.StatusBadRequest},
		{"stripe down", fmt.Errorf("%w: timeout", billing.ErrProviderAPIError), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.billing.err = tt.err

			rec := env.do(t, http.MethodPost, "/api/billing/portal", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSync(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aiquota.TierPlus, decode[SyncResponse](t, rec).Tier)
}

func TestBillingNotConfigured(t *testing.T) {
	store := memory.New()
	manager, err := aiquota.NewManager(store, nil)
	require.NoError(t, err)
	handler, err := NewHandler(Config{
		Manager: manager, Tiers: store, Generator: &ai.MockGenerator{}, AppURL: "http://localhost:3000",
	})
	require.NoError(t, err)
	router := NewRouter(RouterConfig{Handler: handler, UserIDHeader: "X-User-ID", UserEmailHeader: "X-User-Email"})

	req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewBufferString(`{"plan":"plus"}`))
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMarketSummary_FreeTierForbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ai/market-summary",
		`{"summary":[{"symbol":"^GSPC","name":"S&P 500","price":5400,"change":10,"changePercent":0.2}]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "", env.generator.LastPrompt().User)
}

func TestMarketSummary_PaidTier(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetUserTier(context.Background(), testUserID, aiquota.TierPlus))
	env.generator.Reply = `{"middayReport":"Indices are mixed at midday.","closingReport":"Stocks closed higher."}`

	var rows []string
	for i := 0; i < 15; i++ {
		rows = append(rows, fmt.Sprintf(`{"symbol":"IDX%d","name":"Index","price":100,"change":1,"changePercent":1}`, i))
	}
	body := `{"summary":[` + strings.Join(rows, ",") + `]}`

	rec := env.do(t, http.MethodPost, "/api/ai/market-summary", body)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[MarketSummaryResponse](t, rec)
	assert.Equal(t, "Indices are mixed at midday.", resp.MiddayReport)
	assert.Equal(t, "Stocks closed higher.", resp.ClosingReport)
	assert.Equal(t, aiquota.TierPlus, resp.Tier)

	prompt := env.generator.LastPrompt().User
	assert.Contains(t, prompt, "IDX9")
	assert.NotContains(t, prompt, "IDX10")

	// Reports do not consume quota.
	usage, err := env.store.GetUsage(context.Background(), testUserID, "2026-06")
	require.NoError(t, err)
	assert.Nil(t, usage)
}

func TestMarketSummary_BadInput(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetUserTier(context.Background(), testUserID, aiquota.TierPro))

	for _, body := range []string{`{}`, `{"summary":[{"symbol":"X"}]}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/ai/market-summary", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}

	env.generator.Reply = `{"middayReport":"only one"}`
	rec := env.do(t, http.MethodPost, "/api/ai/market-summary",
		`{"summary":[{"symbol":"^GSPC","name":"S&P 500","price":5400,"change":10,"changePercent":0.2}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
