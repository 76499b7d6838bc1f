package voice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/synaptica-ai/recruit/pkg/common/validate"
)

const (
	SignatureHeader = "X-Voice-Signature"

	EventCallStarted = "call_started"
	EventCallEnded   = "call_ended"

	maxWebhookBytes = 1 << 20
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the callback the provider posts when a call changes state.
type WebhookEvent struct {
	Event string `json:"event" validate:"required,oneof=call_started call_ended"`
	Call  Call   `json:"call"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook reads, authenticates and decodes a provider callback. An
// empty secret disables signature checks.
func ParseWebhook(r *http.Request, secret string) (WebhookEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("read webhook: %w", err)
	}
	if len(body) > maxWebhookBytes {
		return WebhookEvent{}, validate.Errorf("webhook body exceeds %d bytes", maxWebhookBytes)
	}
	if secret != "" {
		if err := VerifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
			return WebhookEvent{}, err
		}
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, validate.Errorf("invalid webhook payload: %v", err)
	}
	if err := validate.Struct(event); err != nil {
		return WebhookEvent{}, err
	}
	if event.Event == EventCallEnded && !event.Call.Outcome.Valid() {
		return WebhookEvent{}, validate.Errorf("unknown call outcome %q", event.Call.Outcome)
	}
	return event, nil
}
