package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/xtract/pkg/billing"
)

// Handled Stripe event types.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaid              = "invoice.paid"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentPaid       = "invoice_payment.paid"
)

// Event is a verified webhook event decoded into one of the variants below.
// The set is closed: only this package can add variants.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e envelope) EventID() string   { return e.ID }
func (e envelope) EventType() string { return e.Type }
func (envelope) isEvent()            {}

// CheckoutCompleted is checkout.session.completed. SubscriptionID is empty
// for sessions that did not create a subscription.
type CheckoutCompleted struct {
	envelope
	SessionID      string
	SubscriptionID string
	CustomerID     string
}

// SubscriptionUpserted is customer.subscription.created or .updated and
// carries the full subscription object.
type SubscriptionUpserted struct {
	envelope
	Subscription billing.Subscription
}

// SubscriptionDeleted is customer.subscription.deleted.
type SubscriptionDeleted struct {
	envelope
	SubscriptionID string
	CustomerID     string
}

// InvoicePaid is invoice.paid, invoice.payment_succeeded or invoice_payment.paid.
// SubscriptionID is empty for invoices not tied to a subscription.
type InvoicePaid struct {
	envelope
	InvoiceID      string
	SubscriptionID string
}

// UnknownEvent is any event type this service does not act on.
type UnknownEvent struct {
	envelope
}

// DecodeEvent parses a verified payload into an Event. Errors wrap
// billing.ErrInvalidWebhookPayload.
func DecodeEvent(payload []byte) (Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", billing.ErrInvalidWebhookPayload)
	}

	env := envelope{ID: evt.ID, Type: string(evt.Type), Created: time.Unix(evt.Created, 0).UTC()}

	switch env.Type {
	case EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(&evt, &session); err != nil {
			return nil, err
		}
		out := CheckoutCompleted{envelope: env, SessionID: session.ID}
		if session.Subscription != nil {
			out.SubscriptionID = session.Subscription.ID
		}
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}
		return out, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := decodeObject(&evt, &sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", billing.ErrInvalidWebhookPayload)
		}
		return SubscriptionUpserted{envelope: env, Subscription: *fromStripeSubscription(&sub)}, nil

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(&evt, &sub); err != nil {
			return nil, err
		}
		out := SubscriptionDeleted{envelope: env, SubscriptionID: sub.ID}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		return out, nil

	case EventInvoicePaid, EventInvoicePaymentSucceeded, EventInvoicePaymentPaid:
		var inv invoiceObject
		if err := decodeObject(&evt, &inv); err != nil {
			return nil, err
		}
		return InvoicePaid{envelope: env, InvoiceID: inv.ID, SubscriptionID: inv.subscriptionID()}, nil

	default:
		return UnknownEvent{envelope: env}, nil
	}
}

func decodeObject(evt *stripe.Event, into interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s has no data.object", billing.ErrInvalidWebhookPayload, evt.Type)
	}
	if err := json.Unmarshal(evt.Data.Raw, into); err != nil {
		return fmt.Errorf("%w: %s: %v", billing.ErrInvalidWebhookPayload, evt.Type, err)
	}
	return nil
}

// invoiceObject reads the subscription reference from both the legacy
// top-level field and parent.subscription_details.
type invoiceObject struct {
	ID           string       `json:"id"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandableID accepts either "id" or an expanded {"id": "..."} object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// fromStripeSubscription converts to the provider-neutral form. The price and
// period end come from the first item.
func fromStripeSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Metadata:          sub.Metadata,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	return out
}
