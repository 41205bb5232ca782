package stripe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

func postWebhook(t *testing.T, p *Provider, payload string, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewBufferString(payload))
	if header != "" {
		req.Header.Set(SignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func postSigned(t *testing.T, p *Provider, payload string) *httptest.ResponseRecorder {
	t.Helper()
	return postWebhook(t, p, payload, sign([]byte(payload), testWebhookSecret, testNow))
}

const subscriptionUpdated = `{"id":"evt_u","type":"customer.subscription.updated","data":{"object":{
	"id":"sub_1","customer":"cus_1","status":"active","metadata":{"user_id":"user1"},
	"items":{"data":[{"price":{"id":"price_pro_monthly"}}]}}}}`

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	p, _, store := newTestProvider(t)

	rec := postSigned(t, p, subscriptionUpdated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	tier, err := store.GetUserTier(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, aiquota.TierPro, tier)
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	p, _, store := newTestProvider(t)

	for i := 0; i < 3; i++ {
		rec := postSigned(t, p, subscriptionUpdated)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rows, _ := store.ListSubscriptions(context.Background(), "user1")
	assert.Len(t, rows, 1)
	tier, _ := store.GetUserTier(context.Background(), "user1")
	assert.Equal(t, aiquota.TierPro, tier)
}

func TestWebhook_InvalidSignatureHasNoSideEffects(t *testing.T) {
	p, api, store := newTestProvider(t)

	tests := map[string]string{
		"missing":  "",
		"stale":    sign([]byte(subscriptionUpdated), testWebhookSecret, testNow.Add(-301*time.Second)),
		"tampered": sign([]byte(subscriptionUpdated+" "), testWebhookSecret, testNow),
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			rec := postWebhook(t, p, subscriptionUpdated, header)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rows, _ := store.ListSubscriptions(context.Background(), "user1")
	assert.Empty(t, rows)
	assert.Empty(t, api.retrieved)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	p, _, _ := newTestProvider(t)

	rec := postSigned(t, p, `{"id":"evt_x","type":"customer.subscription.updated","data":{"object":"oops"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_UnknownEventIsAcknowledged(t *testing.T) {
	p, api, _ := newTestProvider(t)

	rec := postSigned(t, p, `{"id":"evt_c","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, api.retrieved)
}

func TestWebhook_CheckoutFetchesSubscription(t *testing.T) {
	p, api, store := newTestProvider(t)
	api.subscriptions["sub_9"] = &billing.Subscription{
		ID: "sub_9", CustomerID: "cus_9", Status: billing.StatusActive, PriceID: testPricePlus,
		Metadata: map[string]string{"user_id": "user9", "plan": "plus"},
	}

	rec := postSigned(t, p, `{"id":"evt_cs","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_9","subscription":"sub_9","customer":"cus_9"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sub_9"}, api.retrieved)

	tier, _ := store.GetUserTier(context.Background(), "user9")
	assert.Equal(t, aiquota.TierPlus, tier)
}

func TestWebhook_CheckoutWithoutSubscriptionIsNoop(t *testing.T) {
	p, api, _ := newTestProvider(t)

	rec := postSigned(t, p, `{"id":"evt_cs","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, api.retrieved)
}

func TestWebhook_InvoicePaidFetchesSubscription(t *testing.T) {
	p, api, store := newTestProvider(t)
	require.NoError(t, store.UpsertCustomer(context.Background(), &billing.Customer{UserID: "user3", CustomerID: "cus_3"}))
	api.subscriptions["sub_3"] = &billing.Subscription{
		ID: "sub_3", CustomerID: "cus_3", Status: billing.StatusActive, PriceID: "price_unknown",
		Metadata: map[string]string{"plan": "pro"},
	}

	rec := postSigned(t, p, `{"id":"evt_i","type":"invoice.paid","data":{"object":{"id":"in_3",
		"parent":{"subscription_details":{"subscription":"sub_3"}}}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tier, _ := store.GetUserTier(context.Background(), "user3")
	assert.Equal(t, aiquota.TierPro, tier, "unknown price falls back to plan metadata")
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	p, _, store := newTestProvider(t)
	require.Equal(t, http.StatusOK, postSigned(t, p, subscriptionUpdated).Code)

	rec := postSigned(t, p, `{"id":"evt_d","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_1","customer":"cus_1","status":"canceled"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tier, _ := store.GetUserTier(context.Background(), "user1")
	assert.Equal(t, aiquota.TierFree, tier)
}

func TestWebhook_ProcessingFailureReturns500(t *testing.T) {
	p, api, _ := newTestProvider(t)
	api.retrieveErr = errors.New("stripe is down")

	rec := postSigned(t, p, `{"id":"evt_i","type":"invoice.payment_succeeded",
		"data":{"object":{"id":"in_1","subscription":"sub_1"}}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_OrphanSubscriptionReturns500(t *testing.T) {
	p, _, _ := newTestProvider(t)

	rec := postSigned(t, p, `{"id":"evt_o","type":"customer.subscription.created","data":{"object":{
		"id":"sub_o","customer":"cus_nobody","status":"active"}}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_MethodAndConfiguration(t *testing.T) {
	p, _, _ := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/api/billing/webhook", http.NoBody)
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	p.webhookSecret = ""
	rec = postSigned(t, p, subscriptionUpdated)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
