package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/patients"
	"github.com/synaptica-ai/recruit/pkg/redact"
	"github.com/synaptica-ai/recruit/pkg/voice"
)

const (
	eventSource = "campaigns"
	voiceActor  = "voice-agent"

	// MaxAttempts bounds how often an unanswered contact is redialled.
	MaxAttempts = 3
)

// StudyLookup confirms a study exists before a campaign is attached to it.
type StudyLookup interface {
	GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error)
}

// PatientWorkflow is the slice of the patient service that campaigns drive.
type PatientWorkflow interface {
	Get(ctx context.Context, id uuid.UUID) (models.Patient, error)
	List(ctx context.Context, filter patients.Filter) ([]models.Patient, error)
	MarkCallInitiated(ctx context.Context, id uuid.UUID, actor string) (models.Patient, error)
	ApplyCallOutcome(ctx context.Context, id uuid.UUID, outcome models.CallOutcome, answers []models.CriterionAnswer, actor string) (models.Patient, error)
}

type SeedResult struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Added      int       `json:"added"`
	NoPhone    int       `json:"no_phone"`
	Existing   int       `json:"existing"`
}

type LaunchResult struct {
	CampaignID uuid.UUID           `json:"campaign_id"`
	Placed     int                 `json:"placed"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"`
	Calls      []models.CallRecord `json:"calls"`
}

type Stats struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	Contacts     int       `json:"contacts"`
	Pending      int       `json:"pending"`
	CallsPlaced  int       `json:"calls_placed"`
	InProgress   int       `json:"in_progress"`
	Completed    int       `json:"completed"`
	Qualified    int       `json:"qualified"`
	Scheduled    int       `json:"scheduled"`
	NotQualified int       `json:"not_qualified"`
	Declined     int       `json:"declined"`
	Unreached    int       `json:"unreached"`
}

type Service struct {
	store    Store
	studies  StudyLookup
	patients PatientWorkflow
	caller   voice.Caller
	redactor *redact.Redactor
	audit    audit.Sink
	events   kafka.Publisher
}

func NewService(store Store, studies StudyLookup, patients PatientWorkflow, caller voice.Caller, redactor *redact.Redactor, sink audit.Sink, events kafka.Publisher) *Service {
	if events == nil {
		events = kafka.NopPublisher{}
	}
	if redactor == nil {
		redactor, _ = redact.NewRedactor(redact.DefaultRules())
	}
	return &Service{
		store:    store,
		studies:  studies,
		patients: patients,
		caller:   caller,
		redactor: redactor,
		audit:    sink,
		events:   events,
	}
}

func (s *Service) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest, actor string) (models.Campaign, error) {
	if err := validate.Struct(req); err != nil {
		return models.Campaign{}, err
	}
	if _, err := s.studies.GetStudy(ctx, req.StudyID); err != nil {
		return models.Campaign{}, err
	}
	now := time.Now().UTC()
	c := models.Campaign{
		ID:        uuid.New(),
		StudyID:   req.StudyID,
		Name:      req.Name,
		Channel:   req.Channel,
		Status:    models.CampaignDraft,
		Script:    req.Script,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return models.Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  c.StudyID,
		Actor:    actor,
		Action:   "campaign_created",
		Entity:   "campaign",
		EntityID: c.ID.String(),
		Payload:  map[string]interface{}{"name": c.Name, "channel": string(c.Channel)},
	})
	return c, nil
}

func (s *Service) GetCampaign(ctx context.Context, id uuid.UUID) (models.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

func (s *Service) ListCampaigns(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Campaign, error) {
	return s.store.ListCampaigns(ctx, studyID, limit)
}

// UpdateStatus pauses, resumes or completes a campaign. A completed campaign
// is final.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, req models.UpdateCampaignStatusRequest, actor string) (models.Campaign, error) {
	if err := validate.Struct(req); err != nil {
		return models.Campaign{}, err
	}
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return models.Campaign{}, err
	}
	if c.Status == models.CampaignCompleted {
		return models.Campaign{}, validate.Errorf("campaign %s is completed", c.ID)
	}
	if req.Status == models.CampaignActive && c.LaunchedAt == nil {
		return models.Campaign{}, validate.Errorf("campaign %s must be launched before it can be resumed", c.ID)
	}
	previous := c.Status
	c.Status = req.Status
	c.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return models.Campaign{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  c.StudyID,
		Actor:    actor,
		Action:   "campaign_status_changed",
		Entity:   "campaign",
		EntityID: c.ID.String(),
		Payload:  map[string]interface{}{"from": previous, "to": c.Status},
	})
	return c, nil
}

// SeedContacts adds every Match patient of the study still awaiting review
// as a contact of the campaign.
func (s *Service) SeedContacts(ctx context.Context, campaignID uuid.UUID, actor string) (SeedResult, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return SeedResult{}, err
	}
	if c.Status == models.CampaignCompleted {
		return SeedResult{}, validate.Errorf("campaign %s is completed", c.ID)
	}
	matches, err := s.patients.List(ctx, patients.Filter{
		StudyID: c.StudyID,
		Tag:     models.TagMatch,
		Status:  models.StatusPendingReview,
	})
	if err != nil {
		return SeedResult{}, err
	}

	result := SeedResult{CampaignID: c.ID}
	now := time.Now().UTC()
	contacts := make([]models.CampaignContact, 0, len(matches))
	for _, p := range matches {
		if c.Channel == models.ChannelAICall && p.Phone == "" {
			result.NoPhone++
			continue
		}
		contacts = append(contacts, models.CampaignContact{
			ID:         uuid.New(),
			CampaignID: c.ID,
			PatientID:  p.ID,
			Name:       p.Name,
			Phone:      p.Phone,
			State:      models.ContactPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	added, err := s.store.AddContacts(ctx, contacts)
	if err != nil {
		return SeedResult{}, fmt.Errorf("add contacts: %w", err)
	}
	result.Added = added
	result.Existing = len(contacts) - added

	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  c.StudyID,
		Actor:    actor,
		Action:   "campaign_contacts_seeded",
		Entity:   "campaign",
		EntityID: c.ID.String(),
		Payload: map[string]interface{}{
			"added":    result.Added,
			"no_phone": result.NoPhone,
			"existing": result.Existing,
		},
	})
	return result, nil
}

// Launch places an AI screening call to every pending contact. Contacts whose
// call could not be placed stay pending until MaxAttempts is reached.
func (s *Service) Launch(ctx context.Context, campaignID uuid.UUID, actor string) (LaunchResult, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return LaunchResult{}, err
	}
	if c.Channel != models.ChannelAICall {
		return LaunchResult{}, validate.Errorf("campaign channel %s cannot be launched", c.Channel)
	}
	if c.Status == models.CampaignCompleted || c.Status == models.CampaignPaused {
		return LaunchResult{}, validate.Errorf("campaign %s is %s", c.ID, c.Status)
	}
	var pending []models.CampaignContact
	for _, contact := range c.Contacts {
		if contact.State == models.ContactPending {
			pending = append(pending, contact)
		}
	}
	if len(pending) == 0 {
		return LaunchResult{}, validate.Errorf("campaign %s has no pending contacts", c.ID)
	}

	result := LaunchResult{CampaignID: c.ID, Calls: []models.CallRecord{}}
	for _, contact := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		call, outcome, err := s.dial(ctx, c, contact)
		if err != nil {
			return result, err
		}
		switch outcome {
		case dialPlaced:
			result.Placed++
			result.Calls = append(result.Calls, call)
		case dialFailed:
			result.Failed++
		case dialSkipped:
			result.Skipped++
		}
	}

	now := time.Now().UTC()
	c.Status = models.CampaignActive
	if c.LaunchedAt == nil {
		c.LaunchedAt = &now
	}
	c.UpdatedAt = now
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return result, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  c.StudyID,
		Actor:    actor,
		Action:   "campaign_launched",
		Entity:   "campaign",
		EntityID: c.ID.String(),
		Payload: map[string]interface{}{
			"placed":  result.Placed,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		},
	})
	logger.Log.WithFields(map[string]interface{}{
		"campaign_id": c.ID,
		"placed":      result.Placed,
		"failed":      result.Failed,
		"skipped":     result.Skipped,
	}).Info("campaign launched")
	return result, nil
}

type dialOutcome int

const (
	dialPlaced dialOutcome = iota
	dialFailed
	dialSkipped
)

// dial places one call. A provider refusal is reported as dialFailed, not as
// an error.
func (s *Service) dial(ctx context.Context, c models.Campaign, contact models.CampaignContact) (models.CallRecord, dialOutcome, error) {
	now := time.Now().UTC()
	contact.UpdatedAt = now

	p, err := s.patients.Get(ctx, contact.PatientID)
	if err != nil && !errors.Is(err, patients.ErrNotFound) {
		return models.CallRecord{}, dialFailed, err
	}
	if err != nil || !callable(p) {
		contact.State = models.ContactFailed
		return models.CallRecord{}, dialSkipped, s.store.UpdateContact(ctx, contact)
	}

	questions := make([]models.Criterion, 0, len(p.CriteriaMatches))
	for _, m := range p.CriteriaMatches {
		questions = append(questions, models.Criterion{ID: m.CriterionID, Text: m.CriterionText, Type: m.Type})
	}
	handle, err := s.caller.PlaceCall(ctx, voice.CallRequest{
		CampaignID: c.ID,
		ContactID:  contact.ID,
		PatientID:  p.ID,
		Name:       p.Name,
		Phone:      contact.Phone,
		Script:     c.Script,
		Questions:  questions,
	})
	contact.Attempts++
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"campaign_id": c.ID,
			"contact_id":  contact.ID,
			"attempts":    contact.Attempts,
		}).Warn("failed to place screening call")
		if contact.Attempts >= MaxAttempts {
			contact.State = models.ContactFailed
		}
		return models.CallRecord{}, dialFailed, s.store.UpdateContact(ctx, contact)
	}

	contact.State = models.ContactCalling
	if err := s.store.UpdateContact(ctx, contact); err != nil {
		return models.CallRecord{}, dialFailed, err
	}
	call := models.CallRecord{
		ID:             uuid.New(),
		CampaignID:     c.ID,
		ContactID:      contact.ID,
		PatientID:      p.ID,
		ProviderCallID: handle.ID,
		Status:         handle.Status,
		StartedAt:      now,
	}
	if call.Status == "" {
		call.Status = "queued"
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return models.CallRecord{}, dialFailed, fmt.Errorf("store call: %w", err)
	}
	if _, err := s.patients.MarkCallInitiated(ctx, p.ID, voiceActor); err != nil {
		logger.Log.WithError(err).WithField("patient_id", p.ID).Warn("failed to mark call initiated")
	}
	return call, dialPlaced, nil
}

func callable(p models.Patient) bool {
	if p.Tag == models.TagIneligible {
		return false
	}
	switch p.Status {
	case models.StatusDeclined, models.StatusEnrolled, models.StatusFailedScreening:
		return false
	}
	return true
}

// HandleCallWebhook applies a provider callback. Redelivered call_ended
// events for a call that already ended are acknowledged without effect;
// a call whose outcome could not be applied stays open for the retry.
func (s *Service) HandleCallWebhook(ctx context.Context, event voice.WebhookEvent) (models.CallRecord, error) {
	call, err := s.store.GetCallByProviderID(ctx, event.Call.ID)
	if err != nil {
		return models.CallRecord{}, err
	}
	if call.EndedAt != nil {
		return call, nil
	}

	if event.Event == voice.EventCallStarted {
		call.Status = "in_progress"
		if err := s.store.UpdateCall(ctx, call); err != nil {
			return models.CallRecord{}, err
		}
		return call, nil
	}

	transcript, report := s.redactor.Transcript(event.Call.Transcript)
	summary, summaryReport := s.redactor.Text(event.Call.Summary)
	answers := make([]models.CriterionAnswer, 0, len(event.Call.Answers))
	for _, a := range event.Call.Answers {
		a.Evidence, _ = s.redactor.Text(a.Evidence)
		answers = append(answers, a)
	}
	endedAt := time.Now().UTC()
	call.Status = "completed"
	call.Outcome = event.Call.Outcome
	call.Transcript = transcript
	call.Summary = summary
	call.Answers = answers
	call.Redactions = report.Count + summaryReport.Count
	call.DurationSecs = event.Call.DurationSecs
	call.EndedAt = &endedAt

	// The call is stored as ended only once the patient and contact are
	// settled, so a redelivered callback can finish a failed attempt.
	p, err := s.patients.ApplyCallOutcome(ctx, call.PatientID, call.Outcome, answers, voiceActor)
	if err != nil {
		return models.CallRecord{}, fmt.Errorf("apply call outcome: %w", err)
	}
	if err := s.settleContact(ctx, call); err != nil {
		return models.CallRecord{}, err
	}
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return models.CallRecord{}, err
	}

	if err := s.events.PublishEvent(ctx, models.EventCallCompleted, eventSource, map[string]interface{}{
		"study_id":      p.StudyID.String(),
		"campaign_id":   call.CampaignID.String(),
		"call_id":       call.ID.String(),
		"patient_id":    call.PatientID.String(),
		"outcome":       string(call.Outcome),
		"duration_secs": call.DurationSecs,
		"tag":           string(p.Tag),
		"status":        string(p.Status),
	}); err != nil {
		logger.Log.WithError(err).WithField("call_id", call.ID).Warn("failed to publish call.completed")
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   p.StudyID,
		PatientID: &call.PatientID,
		Actor:     voiceActor,
		Action:    "call_completed",
		Entity:    "call",
		EntityID:  call.ID.String(),
		Payload: map[string]interface{}{
			"outcome":       string(call.Outcome),
			"duration_secs": call.DurationSecs,
			"answers":       len(answers),
			"redactions":    call.Redactions,
		},
	})
	return call, nil
}

// settleContact returns unreached contacts to the queue until they run out
// of attempts.
func (s *Service) settleContact(ctx context.Context, call models.CallRecord) error {
	contact, err := s.store.GetContact(ctx, call.ContactID)
	if err != nil {
		return err
	}
	contact.UpdatedAt = time.Now().UTC()
	switch {
	case call.Outcome != models.OutcomeNoAnswer && call.Outcome != models.OutcomeVoicemail:
		contact.State = models.ContactCompleted
	case contact.Attempts < MaxAttempts:
		contact.State = models.ContactPending
	default:
		contact.State = models.ContactFailed
	}
	return s.store.UpdateContact(ctx, contact)
}

func (s *Service) ListCalls(ctx context.Context, campaignID uuid.UUID) ([]models.CallRecord, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListCalls(ctx, campaignID)
}

func (s *Service) Stats(ctx context.Context, campaignID uuid.UUID) (Stats, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Stats{}, err
	}
	calls, err := s.store.ListCalls(ctx, campaignID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{CampaignID: c.ID, Contacts: len(c.Contacts), CallsPlaced: len(calls)}
	for _, contact := range c.Contacts {
		if contact.State == models.ContactPending {
			stats.Pending++
		}
	}
	for _, call := range calls {
		if call.EndedAt == nil {
			stats.InProgress++
			continue
		}
		stats.Completed++
		switch call.Outcome {
		case models.OutcomeQualified:
			stats.Qualified++
		case models.OutcomeScheduled:
			stats.Scheduled++
		case models.OutcomeNotQualified:
			stats.NotQualified++
		case models.OutcomeDeclined:
			stats.Declined++
		case models.OutcomeNoAnswer, models.OutcomeVoicemail:
			stats.Unreached++
		}
	}
	return stats, nil
}
