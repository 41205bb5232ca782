package stripe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/xtract/pkg/billing"
)

// SignatureHeader is the header carrying "t=<unix>,v1=<hex>[,v1=<hex>...]".
const SignatureHeader = "Stripe-Signature"

// VerifySignature checks a Stripe-Signature header against the raw payload.
// The HMAC-SHA256 of "<t>.<payload>" must match one of the v1 values and t
// must lie within tolerance of now in either direction.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return fmt.Errorf("%w: missing %s header", billing.ErrInvalidWebhookSignature, SignatureHeader)
	}
	if secret == "" {
		return fmt.Errorf("%w: no signing secret", billing.ErrInvalidWebhookSignature)
	}

	signedAt, err := signatureTimestamp(header)
	if err != nil {
		return err
	}
	skew := now.Unix() - signedAt
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance/time.Second) {
		return fmt.Errorf("%w: timestamp outside tolerance", billing.ErrInvalidWebhookSignature)
	}

	if err := webhook.ValidatePayloadIgnoringTolerance(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return nil
}

func signatureTimestamp(header string) (int64, error) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != "t" {
			continue
		}
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed timestamp", billing.ErrInvalidWebhookSignature)
		}
		return ts, nil
	}
	return 0, fmt.Errorf("%w: missing timestamp", billing.ErrInvalidWebhookSignature)
}
