package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
	"github.com/mihaimyh/xtract/pkg/billing/internal"
)

// handleWebhook verifies, decodes and routes one Stripe event.
// 400 means the request will never succeed; 500 asks Stripe to retry.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	if err := VerifySignature(body, r.Header.Get(SignatureHeader), p.webhookSecret, p.now(), p.tolerance); err != nil {
		p.logger.Warn("rejected stripe webhook", aiquota.Err(err))
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid Stripe signature"})
		return
	}

	event, err := DecodeEvent(body)
	if err != nil {
		p.logger.Warn("undecodable stripe webhook", aiquota.Err(err))
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid webhook payload"})
		return
	}

	eventType := event.EventType()
	status, err := p.ProcessEvent(r.Context(), event)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	if err != nil {
		p.logger.Error("stripe webhook processing failed",
			aiquota.F("event_id", event.EventID()),
			aiquota.F("event_type", eventType),
			aiquota.Err(err))
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		_ = internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook error"})
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// ProcessEvent applies one decoded event. status is "success" when the
// reconciler ran and "ignored" for events that need no action.
func (p *Provider) ProcessEvent(ctx context.Context, event Event) (status string, err error) {
	switch e := event.(type) {
	case CheckoutCompleted:
		if e.SubscriptionID == "" {
			return "ignored", nil
		}
		return p.syncByID(ctx, e.SubscriptionID)

	case SubscriptionUpserted:
		sub := e.Subscription
		result, err := p.reconciler.SyncFromSubscription(ctx, &sub)
		if err != nil {
			return "", err
		}
		p.logSync(e, result)
		return "success", nil

	case SubscriptionDeleted:
		if e.CustomerID == "" {
			return "ignored", nil
		}
		result, err := p.reconciler.MarkCustomerFree(ctx, e.CustomerID)
		if err != nil {
			return "", err
		}
		if result == nil {
			return "ignored", nil
		}
		p.logSync(e, result)
		return "success", nil

	case InvoicePaid:
		if e.SubscriptionID == "" {
			return "ignored", nil
		}
		return p.syncByID(ctx, e.SubscriptionID)

	case UnknownEvent:
		return "ignored", nil

	default:
		return "", fmt.Errorf("%w: unhandled event variant %T", billing.ErrInvalidWebhookPayload, event)
	}
}

// syncByID fetches the authoritative subscription before reconciling, since
// checkout and invoice events only reference it.
func (p *Provider) syncByID(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := p.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
	}
	result, err := p.reconciler.SyncFromSubscription(ctx, sub)
	if err != nil {
		return "", err
	}
	p.logger.Debug("reconciled subscription",
		aiquota.F("subscription_id", subscriptionID),
		aiquota.F("user_id", result.UserID),
		aiquota.F("tier", result.NewTier))
	return "success", nil
}

func (p *Provider) logSync(event Event, result *billing.SyncResult) {
	p.logger.Debug("reconciled stripe event",
		aiquota.F("event_id", event.EventID()),
		aiquota.F("event_type", event.EventType()),
		aiquota.F("user_id", result.UserID),
		aiquota.F("tier", result.NewTier))
}
