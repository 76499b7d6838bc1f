package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/config"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

var ErrCallNotFound = errors.New("call not found")

// Caller places outbound screening calls.
type Caller interface {
	PlaceCall(ctx context.Context, req CallRequest) (CallHandle, error)
	GetCall(ctx context.Context, callID string) (Call, error)
}

// CallRequest describes one outbound screening call. Questions are the
// criteria the agent should confirm with the patient.
type CallRequest struct {
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	PatientID  uuid.UUID
	Name       string
	Phone      string
	Script     string
	Questions  []models.Criterion
}

type CallHandle struct {
	ID     string `json:"call_id"`
	Status string `json:"status"`
}

// Call is the provider's view of a call, as returned by GetCall and carried
// in webhooks.
type Call struct {
	ID           string                   `json:"call_id" validate:"required"`
	Status       string                   `json:"status"`
	Outcome      models.CallOutcome       `json:"outcome,omitempty"`
	Transcript   []models.TranscriptLine  `json:"transcript,omitempty"`
	Summary      string                   `json:"summary,omitempty"`
	DurationSecs int                      `json:"duration_secs,omitempty"`
	Answers      []models.CriterionAnswer `json:"answers,omitempty"`
	Metadata     map[string]string        `json:"metadata,omitempty"`
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voice provider returned %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	FromNumber string
	WebhookURL string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:    cfg.VoiceBaseURL,
		APIKey:     cfg.VoiceAPIKey,
		AgentID:    cfg.VoiceAgentID,
		FromNumber: cfg.VoiceFromNumber,
		WebhookURL: cfg.VoiceWebhookURL,
		Timeout:    cfg.VoiceTimeout,
		MaxRetries: cfg.VoiceMaxRetries,
	}
}

type Client struct {
	http *resty.Client
	opts Options
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(5*opts.RetryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	return &Client{http: client, opts: opts}
}

type placeCallBody struct {
	AgentID    string            `json:"agent_id"`
	FromNumber string            `json:"from_number,omitempty"`
	ToNumber   string            `json:"to_number"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	Variables  map[string]any    `json:"dynamic_variables"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (CallHandle, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return CallHandle{}, errors.New("patient has no phone number")
	}
	questions := make([]string, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, fmt.Sprintf("%d. %s", q.ID, q.Text))
	}
	body := placeCallBody{
		AgentID:    c.opts.AgentID,
		FromNumber: c.opts.FromNumber,
		ToNumber:   req.Phone,
		WebhookURL: c.opts.WebhookURL,
		Metadata: map[string]string{
			"campaign_id": req.CampaignID.String(),
			"contact_id":  req.ContactID.String(),
			"patient_id":  req.PatientID.String(),
		},
		Variables: map[string]any{
			"patient_name": req.Name,
			"script":       req.Script,
			"questions":    questions,
		},
	}

	var (
		handle CallHandle
		apiErr errorBody
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&handle).
		SetError(&apiErr).
		Post("/calls")
	if err != nil {
		return CallHandle{}, fmt.Errorf("place call: %w", err)
	}
	if resp.IsError() {
		return CallHandle{}, newAPIError(resp, apiErr)
	}
	if handle.ID == "" {
		return CallHandle{}, errors.New("voice provider returned no call id")
	}

	logger.Log.WithFields(map[string]interface{}{
		"call_id":     handle.ID,
		"campaign_id": req.CampaignID,
		"patient_id":  req.PatientID,
	}).Info("screening call placed")
	return handle, nil
}

func (c *Client) GetCall(ctx context.Context, callID string) (Call, error) {
	var (
		call   Call
		apiErr errorBody
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", callID).
		SetResult(&call).
		SetError(&apiErr).
		Get("/calls/{id}")
	if err != nil {
		return Call{}, fmt.Errorf("get call %s: %w", callID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Call{}, ErrCallNotFound
	}
	if resp.IsError() {
		return Call{}, newAPIError(resp, apiErr)
	}
	return call, nil
}

func newAPIError(resp *resty.Response, body errorBody) *APIError {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}
