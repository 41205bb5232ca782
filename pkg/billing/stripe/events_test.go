package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/mihaimyh/xtract/pkg/billing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, e Event)
	}{
		{
			name: "checkout with subscription id",
			payload: `{"id":"evt_1","type":"checkout.session.completed","created":1780000000,
				"data":{"object":{"id":"cs_1","object":"checkout.session","subscription":"sub_1","customer":"cus_1"}}}`,
			check: func(t *testing.T, e Event) {
				c, ok := e.(CheckoutCompleted)
				if !ok {
					t.Fatalf("got %T", e)
				}
				if c.SubscriptionID != "sub_1" || c.CustomerID != "cus_1" || c.SessionID != "cs_1" {
					t.Errorf("unexpected %+v", c)
				}
				if !c.Created.Equal(time.Unix(1780000000, 0)) {
					t.Errorf("created = %s", c.Created)
				}
			},
		},
		{
			name: "checkout with expanded subscription",
			payload: `{"id":"evt_2","type":"checkout.session.completed",
				"data":{"object":{"id":"cs_2","subscription":{"id":"sub_2","object":"subscription"}}}}`,
			check: func(t *testing.T, e Event) {
				if c := e.(CheckoutCompleted); c.SubscriptionID != "sub_2" {
					t.Errorf("subscription id = %q", c.SubscriptionID)
				}
			},
		},
		{
			name: "checkout without subscription",
			payload: `{"id":"evt_3","type":"checkout.session.completed",
				"data":{"object":{"id":"cs_3","subscription":null}}}`,
			check: func(t *testing.T, e Event) {
				if c := e.(CheckoutCompleted); c.SubscriptionID != "" {
					t.Errorf("subscription id = %q", c.SubscriptionID)
				}
			},
		},
		{
			name: "subscription updated",
			payload: `{"id":"evt_4","type":"customer.subscription.updated","data":{"object":{
				"id":"sub_4","object":"subscription","customer":"cus_4","status":"trialing",
				"cancel_at_period_end":true,"metadata":{"user_id":"u4","plan":"pro"},
				"items":{"object":"list","data":[{"id":"si_1","current_period_end":1782000000,
					"price":{"id":"price_pro_monthly"}}]}}}}`,
			check: func(t *testing.T, e Event) {
				u, ok := e.(SubscriptionUpserted)
				if !ok {
					t.Fatalf("got %T", e)
				}
				sub := u.Subscription
				if sub.ID != "sub_4" || sub.CustomerID != "cus_4" || sub.Status != "trialing" {
					t.Errorf("unexpected %+v", sub)
				}
				if sub.PriceID != testPricePro || !sub.CancelAtPeriodEnd {
					t.Errorf("unexpected %+v", sub)
				}
				if sub.Metadata["user_id"] != "u4" {
					t.Errorf("metadata = %v", sub.Metadata)
				}
				if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1782000000 {
					t.Errorf("current period end = %v", sub.CurrentPeriodEnd)
				}
			},
		},
		{
			name: "subscription deleted",
			payload: `{"id":"evt_5","type":"customer.subscription.deleted",
				"data":{"object":{"id":"sub_5","customer":{"id":"cus_5","object":"customer"},"status":"canceled"}}}`,
			check: func(t *testing.T, e Event) {
				d, ok := e.(SubscriptionDeleted)
				if !ok {
					t.Fatalf("got %T", e)
				}
				if d.CustomerID != "cus_5" || d.SubscriptionID != "sub_5" {
					t.Errorf("unexpected %+v", d)
				}
			},
		},
		{
			name: "legacy invoice subscription field",
			payload: `{"id":"evt_6","type":"invoice.payment_succeeded",
				"data":{"object":{"id":"in_6","subscription":"sub_6"}}}`,
			check: func(t *testing.T, e Event) {
				if i := e.(InvoicePaid); i.SubscriptionID != "sub_6" || i.InvoiceID != "in_6" {
					t.Errorf("unexpected %+v", i)
				}
			},
		},
		{
			name: "invoice parent subscription details",
			payload: `{"id":"evt_7","type":"invoice.paid","data":{"object":{"id":"in_7",
				"parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_7"}}}}}`,
			check: func(t *testing.T, e Event) {
				if i := e.(InvoicePaid); i.SubscriptionID != "sub_7" {
					t.Errorf("subscription id = %q", i.SubscriptionID)
				}
			},
		},
		{
			name:    "invoice payment without subscription",
			payload: `{"id":"evt_8","type":"invoice_payment.paid","data":{"object":{"id":"inpay_8","invoice":"in_8"}}}`,
			check: func(t *testing.T, e Event) {
				if i := e.(InvoicePaid); i.SubscriptionID != "" {
					t.Errorf("subscription id = %q", i.SubscriptionID)
				}
			},
		},
		{
			name:    "unknown type",
			payload: `{"id":"evt_9","type":"customer.created","data":{"object":{"id":"cus_9"}}}`,
			check: func(t *testing.T, e Event) {
				if _, ok := e.(UnknownEvent); !ok {
					t.Fatalf("got %T", e)
				}
				if e.EventType() != "customer.created" || e.EventID() != "evt_9" {
					t.Errorf("envelope = %s %s", e.EventID(), e.EventType())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := DecodeEvent([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			tt.check(t, e)
		})
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	payloads := map[string]string{
		"not json":           `{"id":`,
		"no type":            `{"id":"evt_1","data":{"object":{}}}`,
		"no data":            `{"id":"evt_1","type":"customer.subscription.updated"}`,
		"object wrong type":  `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","cancel_at_period_end":"yes"}}}`,
		"subscription no id": `{"id":"evt_1","type":"customer.subscription.created","data":{"object":{"status":"active"}}}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(payload))
			if !errors.Is(err, billing.ErrInvalidWebhookPayload) {
				t.Fatalf("expected ErrInvalidWebhookPayload, got %v", err)
			}
		})
	}
}
