package stripe

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mihaimyh/xtract/pkg/billing"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	tolerance := 300 * time.Second

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr bool
	}{
		{name: "fresh", payload: payload, header: sign(payload, testWebhookSecret, testNow)},
		{name: "299s old", payload: payload, header: sign(payload, testWebhookSecret, testNow.Add(-299*time.Second))},
		{name: "300s old", payload: payload, header: sign(payload, testWebhookSecret, testNow.Add(-300*time.Second))},
		{name: "301s old", payload: payload, header: sign(payload, testWebhookSecret, testNow.Add(-301*time.Second)), wantErr: true},
		{name: "301s in the future", payload: payload, header: sign(payload, testWebhookSecret, testNow.Add(301*time.Second)), wantErr: true},
		{name: "wrong secret", payload: payload, header: sign(payload, "whsec_other", testNow), wantErr: true},
		{
			name:    "payload bit flip",
			payload: []byte(`{"id":"evt_1","type":"invoice.pait"}`),
			header:  sign(payload, testWebhookSecret, testNow),
			wantErr: true,
		},
		{name: "missing header", payload: payload, header: "", wantErr: true},
		{name: "no timestamp", payload: payload, header: "v1=deadbeef", wantErr: true},
		{name: "garbage timestamp", payload: payload, header: "t=abc,v1=deadbeef", wantErr: true},
		{name: "no v1", payload: payload, header: "t=" + strconv.FormatInt(testNow.Unix(), 10), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, testWebhookSecret, testNow, tolerance)
			if tt.wantErr {
				if !errors.Is(err, billing.ErrInvalidWebhookSignature) {
					t.Fatalf("expected ErrInvalidWebhookSignature, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVerifySignature_AnyV1Matches(t *testing.T) {
	payload := []byte(`{"id":"evt_2"}`)
	valid := sign(payload, testWebhookSecret, testNow)
	validSig := valid[strings.Index(valid, "v1=")+3:]

	// Secret rotation: Stripe sends one v1 per active secret.
	header := "t=" + strconv.FormatInt(testNow.Unix(), 10) + ",v1=" + strings.Repeat("0", 64) + ",v1=" + validSig
	if err := VerifySignature(payload, header, testWebhookSecret, testNow, 300*time.Second); err != nil {
		t.Fatalf("expected one matching v1 to be enough, got %v", err)
	}
}

func TestVerifySignature_SingleHexDigitChanged(t *testing.T) {
	payload := []byte(`{"id":"evt_3","type":"customer.subscription.updated"}`)
	valid := sign(payload, testWebhookSecret, testNow)
	idx := strings.Index(valid, "v1=") + 3

	for _, pos := range []int{idx, idx + 31, len(valid) - 1} {
		digit := valid[pos]
		replacement := byte('0')
		if digit == '0' {
			replacement = '1'
		}
		header := valid[:pos] + string(replacement) + valid[pos+1:]

		err := VerifySignature(payload, header, testWebhookSecret, testNow, 300*time.Second)
		if !errors.Is(err, billing.ErrInvalidWebhookSignature) {
			t.Fatalf("digit %d changed: expected ErrInvalidWebhookSignature, got %v", pos-idx, err)
		}
	}
}
