package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
)

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL:    url,
		APIKey:     "test-key",
		AgentID:    "agent-7",
		FromNumber: "+15550000000",
		WebhookURL: "https://recruit.example/webhooks/voice",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryWait:  10 * time.Millisecond,
	})
}

func TestPlaceCall(t *testing.T) {
	var got placeCallBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_id":"call-123","status":"queued"}`))
	}))
	defer server.Close()

	req := CallRequest{
		CampaignID: uuid.New(),
		ContactID:  uuid.New(),
		PatientID:  uuid.New(),
		Name:       "Margaret Chen",
		Phone:      "+15552013344",
		Questions:  []models.Criterion{{ID: 4, Text: "History of seizure disorder or epilepsy"}},
	}
	handle, err := newTestClient(server.URL).PlaceCall(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "call-123", handle.ID)
	assert.Equal(t, "queued", handle.Status)

	assert.Equal(t, "agent-7", got.AgentID)
	assert.Equal(t, "+15552013344", got.ToNumber)
	assert.Equal(t, req.PatientID.String(), got.Metadata["patient_id"])
	assert.Equal(t, []any{"4. History of seizure disorder or epilepsy"}, got.Variables["questions"])
}

func TestPlaceCallRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_id":"call-456","status":"queued"}`))
	}))
	defer server.Close()

	handle, err := newTestClient(server.URL).PlaceCall(context.Background(), CallRequest{Phone: "+15550001111"})
	require.NoError(t, err)
	assert.Equal(t, "call-456", handle.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPlaceCallErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"to_number is not dialable"}`))
	}))
	defer server.Close()
	client := newTestClient(server.URL)

	_, err := client.PlaceCall(context.Background(), CallRequest{Phone: "12"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "to_number is not dialable", apiErr.Message)

	_, err = client.PlaceCall(context.Background(), CallRequest{})
	assert.Error(t, err)
}

func TestGetCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls/call-123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_id":"call-123","status":"ended","outcome":"qualified","duration_secs":245,
			"answers":[{"criterion_id":4,"matched":true}]}`))
	}))
	defer server.Close()
	client := newTestClient(server.URL)

	call, err := client.GetCall(context.Background(), "call-123")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeQualified, call.Outcome)
	assert.Equal(t, 245, call.DurationSecs)
	require.Len(t, call.Answers, 1)

	_, err = client.GetCall(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event":"call_ended"}`)
	sig := Sign("s3cret", body)
	assert.NoError(t, VerifySignature("s3cret", body, sig))
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", []byte(`{}`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "not-hex"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, ""), ErrInvalidSignature)
}

func webhookRequest(body []byte, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(body))
	if signature != "" {
		r.Header.Set(SignatureHeader, signature)
	}
	return r
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"call_ended","call":{"call_id":"call-123","status":"ended","outcome":"declined",
		"transcript":[{"speaker":"agent","text":"Hello"}]}}`)

	event, err := ParseWebhook(webhookRequest(body, Sign("s3cret", body)), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, EventCallEnded, event.Event)
	assert.Equal(t, models.OutcomeDeclined, event.Call.Outcome)
	assert.Len(t, event.Call.Transcript, 1)

	_, err = ParseWebhook(webhookRequest(body, ""), "s3cret")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseWebhook(webhookRequest(body, ""), "")
	assert.NoError(t, err)
}

func TestParseWebhookRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"event":`,
		"unknown event":   `{"event":"call_paused","call":{"call_id":"c1"}}`,
		"missing call id": `{"event":"call_started","call":{}}`,
		"unknown outcome": `{"event":"call_ended","call":{"call_id":"c1","outcome":"maybe"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhook(webhookRequest([]byte(body), ""), "")
			assert.True(t, validate.IsValidationError(err), "got %v", err)
		})
	}
}
