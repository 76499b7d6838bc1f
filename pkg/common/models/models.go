package models

import (
	"time"

	"github.com/google/uuid"
)

// Tag is the coarse eligibility classification of a patient.
type Tag string

const (
	TagMatch          Tag = "Match"
	TagPotentialMatch Tag = "Potential Match"
	TagEligible       Tag = "Eligible"
	TagIneligible     Tag = "Ineligible"
)

// Status is the workflow stage of a patient within the recruitment pipeline.
type Status string

const (
	StatusPendingReview   Status = "Pending Review"
	StatusAICallInitiated Status = "AI Call Initiated"
	StatusVisitScheduled  Status = "On-site visit scheduled"
	StatusDeclined        Status = "Declined Participation"
	StatusFailedScreening Status = "Failed Screening"
	StatusEnrolled        Status = "Enrolled"
)

func AllTags() []Tag {
	return []Tag{TagMatch, TagPotentialMatch, TagEligible, TagIneligible}
}

func AllStatuses() []Status {
	return []Status{
		StatusPendingReview,
		StatusAICallInitiated,
		StatusVisitScheduled,
		StatusDeclined,
		StatusFailedScreening,
		StatusEnrolled,
	}
}

func (t Tag) Valid() bool {
	for _, candidate := range AllTags() {
		if t == candidate {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	for _, candidate := range AllStatuses() {
		if s == candidate {
			return true
		}
	}
	return false
}

type CriterionType string

const (
	CriterionInclusion CriterionType = "inclusion"
	CriterionExclusion CriterionType = "exclusion"
)

// MatchSource records where the evidence for a criterion match came from.
type MatchSource string

const (
	SourceEHR    MatchSource = "EHR"
	SourceAICall MatchSource = "AI Call"
	SourceManual MatchSource = "Manual"
)

// Criterion is one inclusion or exclusion rule from a trial protocol.
type Criterion struct {
	ID    int           `json:"id" yaml:"id" validate:"required,gt=0"`
	Text  string        `json:"text" yaml:"text" validate:"required"`
	Type  CriterionType `json:"type" yaml:"type" validate:"required,criterion_type"`
	Field string        `json:"field" yaml:"field"`
}

// CriterionMatch is the evaluated outcome of one criterion against one patient.
// Matched is true when the outcome is favourable for enrollment, for exclusions too.
type CriterionMatch struct {
	CriterionID   int           `json:"criterion_id"`
	CriterionText string        `json:"criterion_text"`
	Type          CriterionType `json:"type"`
	Matched       bool          `json:"matched"`
	PatientValue  string        `json:"patient_value"`
	Source        MatchSource   `json:"source"`
	Note          string        `json:"note,omitempty"`
}

type Patient struct {
	ID              uuid.UUID         `json:"id"`
	StudyID         uuid.UUID         `json:"study_id"`
	ExternalID      string            `json:"external_id,omitempty"`
	Name            string            `json:"name"`
	Age             int               `json:"age"`
	Gender          string            `json:"gender,omitempty"`
	Email           string            `json:"email,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Conditions      []string          `json:"conditions"`
	ConditionCodes  map[string]string `json:"condition_codes,omitempty"`
	Medications     []string          `json:"medications,omitempty"`
	MMSEScore       *int              `json:"mmse_score,omitempty"`
	Source          string            `json:"source,omitempty"`
	Tag             Tag               `json:"tag"`
	Status          Status            `json:"status"`
	CriteriaMatches []CriterionMatch  `json:"criteria_matches"`
	ScreenedAt      *time.Time        `json:"screened_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// FailedCriteria returns the matches that did not pass.
func (p Patient) FailedCriteria() []CriterionMatch {
	var failed []CriterionMatch
	for _, m := range p.CriteriaMatches {
		if !m.Matched {
			failed = append(failed, m)
		}
	}
	return failed
}

type Study struct {
	ID              uuid.UUID   `json:"id"`
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	Phase           string      `json:"phase,omitempty"`
	TherapeuticArea string      `json:"therapeutic_area,omitempty"`
	Sponsor         string      `json:"sponsor,omitempty"`
	Status          string      `json:"status"`
	Criteria        []Criterion `json:"criteria"`
	ProtocolKey     string      `json:"protocol_key,omitempty"`
	ProtocolName    string      `json:"protocol_name,omitempty"`
	Sites           []StudySite `json:"sites,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type StudySite struct {
	ID                    uuid.UUID `json:"id"`
	StudyID               uuid.UUID `json:"study_id"`
	SiteCode              string    `json:"site_code"`
	Name                  string    `json:"name"`
	Address               string    `json:"address,omitempty"`
	PrincipalInvestigator string    `json:"principal_investigator,omitempty"`
	Timezone              string    `json:"timezone,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

type CampaignChannel string

const (
	ChannelAICall CampaignChannel = "ai_call"
	ChannelSMS    CampaignChannel = "sms"
	ChannelEmail  CampaignChannel = "email"
)

const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

type Campaign struct {
	ID         uuid.UUID         `json:"id"`
	StudyID    uuid.UUID         `json:"study_id"`
	Name       string            `json:"name"`
	Channel    CampaignChannel   `json:"channel"`
	Status     string            `json:"status"`
	Script     string            `json:"script,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
	Contacts   []CampaignContact `json:"contacts,omitempty"`
	LaunchedAt *time.Time        `json:"launched_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

const (
	ContactPending   = "pending"
	ContactCalling   = "calling"
	ContactCompleted = "completed"
	ContactFailed    = "failed"
)

type CampaignContact struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CallOutcome is the disposition reported by the voice provider for a completed call.
type CallOutcome string

const (
	OutcomeQualified    CallOutcome = "qualified"
	OutcomeNotQualified CallOutcome = "not_qualified"
	OutcomeDeclined     CallOutcome = "declined"
	OutcomeScheduled    CallOutcome = "scheduled"
	OutcomeNoAnswer     CallOutcome = "no_answer"
	OutcomeVoicemail    CallOutcome = "voicemail"
)

func (o CallOutcome) Valid() bool {
	switch o {
	case OutcomeQualified, OutcomeNotQualified, OutcomeDeclined, OutcomeScheduled, OutcomeNoAnswer, OutcomeVoicemail:
		return true
	}
	return false
}

type CallRecord struct {
	ID             uuid.UUID         `json:"id"`
	CampaignID     uuid.UUID         `json:"campaign_id"`
	ContactID      uuid.UUID         `json:"contact_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	ProviderCallID string            `json:"provider_call_id"`
	Status         string            `json:"status"`
	Outcome        CallOutcome       `json:"outcome,omitempty"`
	Transcript     []TranscriptLine  `json:"transcript,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	Answers        []CriterionAnswer `json:"answers,omitempty"`
	Redactions     int               `json:"redactions"`
	DurationSecs   int               `json:"duration_secs,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
}

type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// CriterionAnswer is a criterion confirmed or refuted during a call.
type CriterionAnswer struct {
	CriterionID int    `json:"criterion_id"`
	Matched     bool   `json:"matched"`
	Evidence    string `json:"evidence,omitempty"`
}

const (
	VisitScheduled = "scheduled"
	VisitCancelled = "cancelled"
	VisitCompleted = "completed"
)

type Visit struct {
	ID        uuid.UUID `json:"id"`
	StudyID   uuid.UUID `json:"study_id"`
	SiteID    uuid.UUID `json:"site_id"`
	PatientID uuid.UUID `json:"patient_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Slot struct {
	SiteID   uuid.UUID `json:"site_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type AuditLog struct {
	ID        int64                  `json:"id"`
	StudyID   uuid.UUID              `json:"study_id"`
	PatientID *uuid.UUID             `json:"patient_id,omitempty"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity,omitempty"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventPatientImported = "patient.imported"
	EventPatientScreened = "patient.screened"
	EventCallCompleted   = "call.completed"
	EventVisitScheduled  = "visit.scheduled"
)

// FunnelSummary aggregates recruitment progress for one study.
type FunnelSummary struct {
	StudyID           uuid.UUID        `json:"study_id"`
	Total             int              `json:"total"`
	Screened          int              `json:"screened"`
	ByTag             map[Tag]int      `json:"by_tag"`
	ByStatus          map[Status]int   `json:"by_status"`
	MatchRate         float64          `json:"match_rate"`
	CallToVisitRate   float64          `json:"call_to_visit_rate"`
	Enrolled          int              `json:"enrolled"`
	TopFailedCriteria []CriterionCount `json:"top_failed_criteria,omitempty"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

type CriterionCount struct {
	CriterionID int    `json:"criterion_id"`
	Text        string `json:"text"`
	Count       int    `json:"count"`
}

type ScreeningSummary struct {
	StudyID        uuid.UUID   `json:"study_id"`
	Screened       int         `json:"screened"`
	Matches        int         `json:"matches"`
	PotentialMatch int         `json:"potential_matches"`
	Ineligible     int         `json:"ineligible"`
	Skipped        int         `json:"skipped"`
	PatientIDs     []uuid.UUID `json:"patient_ids,omitempty"`
}

// Request payloads

type CreateStudyRequest struct {
	Code            string `json:"code" validate:"required,max=64"`
	Name            string `json:"name" validate:"required"`
	Phase           string `json:"phase,omitempty"`
	TherapeuticArea string `json:"therapeutic_area,omitempty"`
	Sponsor         string `json:"sponsor,omitempty"`
}

type UpdateStudyStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft recruiting paused closed"`
}

type CreateStudySiteRequest struct {
	SiteCode              string `json:"site_code" validate:"required"`
	Name                  string `json:"name" validate:"required"`
	Address               string `json:"address,omitempty"`
	PrincipalInvestigator string `json:"principal_investigator,omitempty"`
	Timezone              string `json:"timezone,omitempty"`
}

type ReplaceCriteriaRequest struct {
	Criteria []Criterion `json:"criteria" validate:"required,min=1,dive"`
}

type CreateCampaignRequest struct {
	StudyID uuid.UUID       `json:"study_id" validate:"required"`
	Name    string          `json:"name" validate:"required"`
	Channel CampaignChannel `json:"channel" validate:"required,oneof=ai_call sms email"`
	Script  string          `json:"script,omitempty"`
}

type UpdateCampaignStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused completed"`
}

type UpdatePatientRequest struct {
	Tag    Tag    `json:"tag,omitempty" validate:"omitempty,patient_tag"`
	Status Status `json:"status,omitempty" validate:"omitempty,patient_status"`
	Reason string `json:"reason,omitempty"`
}

type OverrideCriterionRequest struct {
	Matched bool   `json:"matched"`
	Note    string `json:"note,omitempty"`
}

type BookVisitRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	SiteID    uuid.UUID `json:"site_id" validate:"required"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
	Notes     string    `json:"notes,omitempty"`
}
