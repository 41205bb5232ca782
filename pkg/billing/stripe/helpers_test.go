package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mihaimyh/xtract/pkg/billing"
	"github.com/mihaimyh/xtract/storage/memory"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testPricePlus     = "price_plus_monthly"
	testPricePro      = "price_pro_monthly"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func sign(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// fakeAPI is an in-memory stand-in for the Stripe API.
type fakeAPI struct {
	mu            sync.Mutex
	subscriptions map[string]*billing.Subscription
	retrieveErr   error
	customers     []string
	checkouts     []*CheckoutRequest
	portals       []string
	retrieved     []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{subscriptions: map[string]*billing.Subscription{}}
}

func (f *fakeAPI) RetrieveSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieved = append(f.retrieved, id)
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", billing.ErrProviderAPIError, id)
	}
	subCopy := *sub
	return &subCopy, nil
}

func (f *fakeAPI) ListCustomerSubscriptions(_ context.Context, customerID string) ([]*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*billing.Subscription
	for _, sub := range f.subscriptions {
		if sub.CustomerID == customerID {
			subCopy := *sub
			out = append(out, &subCopy)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "cus_" + userID
	f.customers = append(f.customers, id)
	return id, nil
}

func (f *fakeAPI) CreateCheckoutSession(_ context.Context, req *CheckoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, req)
	return "https://checkout.stripe.test/" + req.CustomerID, nil
}

func (f *fakeAPI) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portals = append(f.portals, customerID)
	return "https://billing.stripe.test/" + customerID, nil
}

func newTestProvider(t *testing.T) (*Provider, *fakeAPI, *memory.Storage) {
	t.Helper()
	store := memory.New()
	api := newFakeAPI()
	p, err := NewProvider(Config{
		Config: billing.Config{
			Store:  store,
			Prices: billing.NewPriceTable(testPricePlus, testPricePro),
			Now:    func() time.Time { return testNow },
		},
		StripeWebhookSecret: testWebhookSecret,
		API:                 api,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return p, api, store
}
