package patients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/terminology"
)

const eventSource = "patients"

var ErrNoPatients = errors.New("no patients imported for study")

// RuleSource resolves the screening rules of a study.
type RuleSource interface {
	RuleSet(ctx context.Context, studyID uuid.UUID) (screening.RuleSet, error)
}

// Invalidator drops cached aggregates for a study after its patients change.
type Invalidator interface {
	Invalidate(ctx context.Context, studyID uuid.UUID) error
}

type ImportResult struct {
	StudyID    uuid.UUID   `json:"study_id"`
	Format     Format      `json:"format"`
	Imported   int         `json:"imported"`
	PatientIDs []uuid.UUID `json:"patient_ids"`
	Errors     []RowError  `json:"errors,omitempty"`
}

// ScreenOptions controls a study screening run. Patients already past
// review are left alone unless Force is set.
type ScreenOptions struct {
	Force bool
}

type Service struct {
	store   Store
	rules   RuleSource
	catalog terminology.Catalog
	audit   audit.Sink
	events  kafka.Publisher
	cache   Invalidator
}

func NewService(store Store, rules RuleSource, catalog terminology.Catalog, sink audit.Sink, events kafka.Publisher) *Service {
	if events == nil {
		events = kafka.NopPublisher{}
	}
	return &Service{store: store, rules: rules, catalog: catalog, audit: sink, events: events}
}

// WithCache registers a cache to invalidate whenever tags or statuses change.
func (s *Service) WithCache(cache Invalidator) *Service {
	s.cache = cache
	return s
}

// Import parses an EHR export or spreadsheet and stores every valid row as a
// new patient of the study awaiting screening.
func (s *Service) Import(ctx context.Context, studyID uuid.UUID, format Format, r io.Reader, actor string) (ImportResult, error) {
	if _, err := s.rules.RuleSet(ctx, studyID); err != nil {
		return ImportResult{}, err
	}
	parsed, err := Parse(format, r)
	if err != nil {
		return ImportResult{}, err
	}
	if len(parsed.Records) == 0 {
		msg := "import contains no valid patients"
		if len(parsed.Errors) > 0 {
			msg = fmt.Sprintf("%s: row %d: %s", msg, parsed.Errors[0].Row, parsed.Errors[0].Message)
		}
		return ImportResult{StudyID: studyID, Format: format, Errors: parsed.Errors}, validate.Errorf("%s", msg)
	}

	now := time.Now().UTC()
	patients := make([]models.Patient, 0, len(parsed.Records))
	ids := make([]uuid.UUID, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		p := models.Patient{
			ID:              uuid.New(),
			StudyID:         studyID,
			ExternalID:      rec.ExternalID,
			Name:            rec.Name,
			Age:             rec.Age,
			Gender:          rec.Gender,
			Email:           rec.Email,
			Phone:           rec.Phone,
			Conditions:      rec.Conditions,
			Medications:     rec.Medications,
			MMSEScore:       rec.MMSEScore,
			Source:          string(format),
			Tag:             models.TagPotentialMatch,
			Status:          models.StatusPendingReview,
			CriteriaMatches: []models.CriterionMatch{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.catalog.Annotate(&p)
		patients = append(patients, p)
		ids = append(ids, p.ID)
	}
	if err := s.store.CreateBatch(ctx, patients); err != nil {
		return ImportResult{}, fmt.Errorf("store patients: %w", err)
	}

	result := ImportResult{StudyID: studyID, Format: format, Imported: len(patients), PatientIDs: ids, Errors: parsed.Errors}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID: studyID,
		Actor:   actor,
		Action:  "patients_imported",
		Entity:  "patient",
		Payload: map[string]interface{}{
			"format":   string(format),
			"imported": result.Imported,
			"rejected": len(parsed.Errors),
		},
	})
	s.publish(ctx, models.EventPatientImported, map[string]interface{}{
		"study_id":    studyID.String(),
		"patient_ids": uuidStrings(ids),
		"count":       len(ids),
	})
	s.invalidate(ctx, studyID)

	logger.Log.WithFields(map[string]interface{}{
		"study_id": studyID,
		"format":   format,
		"imported": result.Imported,
		"rejected": len(parsed.Errors),
	}).Info("patients imported")
	return result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Patient, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]models.Patient, error) {
	return s.store.List(ctx, filter)
}

// ScreenStudy screens every patient of the study against its rule set and
// stores the outcome. It runs synchronously to completion.
func (s *Service) ScreenStudy(ctx context.Context, studyID uuid.UUID, opts ScreenOptions, actor string) (models.ScreeningSummary, error) {
	rs, err := s.rules.RuleSet(ctx, studyID)
	if err != nil {
		return models.ScreeningSummary{}, err
	}
	patients, err := s.store.List(ctx, Filter{StudyID: studyID})
	if err != nil {
		return models.ScreeningSummary{}, err
	}
	if len(patients) == 0 {
		return models.ScreeningSummary{}, validate.Errorf("%w", ErrNoPatients)
	}
	summary, err := s.screen(ctx, studyID, patients, rs, opts)
	if err != nil {
		return summary, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID: studyID,
		Actor:   actor,
		Action:  "study_screened",
		Entity:  "study",
		Payload: map[string]interface{}{
			"screened":          summary.Screened,
			"matches":           summary.Matches,
			"potential_matches": summary.PotentialMatch,
			"ineligible":        summary.Ineligible,
			"skipped":           summary.Skipped,
			"force":             opts.Force,
		},
	})
	return summary, nil
}

// ScreenPatients screens the given patients of one study, as announced by a
// patient.imported event.
func (s *Service) ScreenPatients(ctx context.Context, studyID uuid.UUID, ids []uuid.UUID) (models.ScreeningSummary, error) {
	if len(ids) == 0 {
		return models.ScreeningSummary{StudyID: studyID}, nil
	}
	rs, err := s.rules.RuleSet(ctx, studyID)
	if err != nil {
		return models.ScreeningSummary{}, err
	}
	patients, err := s.store.List(ctx, Filter{StudyID: studyID, IDs: ids})
	if err != nil {
		return models.ScreeningSummary{}, err
	}
	return s.screen(ctx, studyID, patients, rs, ScreenOptions{})
}

func (s *Service) screen(ctx context.Context, studyID uuid.UUID, patients []models.Patient, rs screening.RuleSet, opts ScreenOptions) (models.ScreeningSummary, error) {
	summary := models.ScreeningSummary{StudyID: studyID}
	for i := range patients {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p := &patients[i]
		if !opts.Force && pastReview(p.Status) {
			summary.Skipped++
			continue
		}
		out := screening.Screen(p, rs)
		if err := s.store.Update(ctx, *p); err != nil {
			return summary, fmt.Errorf("update patient %s: %w", p.ID, err)
		}

		summary.Screened++
		summary.PatientIDs = append(summary.PatientIDs, p.ID)
		switch out.Tag {
		case models.TagMatch:
			summary.Matches++
		case models.TagPotentialMatch:
			summary.PotentialMatch++
		default:
			summary.Ineligible++
		}
		s.publish(ctx, models.EventPatientScreened, map[string]interface{}{
			"study_id":   studyID.String(),
			"patient_id": p.ID.String(),
			"tag":        string(out.Tag),
			"status":     string(out.Status),
			"passed":     out.Passed,
			"total":      out.Total,
		})
	}
	s.invalidate(ctx, studyID)

	logger.Log.WithFields(map[string]interface{}{
		"study_id":   studyID,
		"screened":   summary.Screened,
		"matches":    summary.Matches,
		"potential":  summary.PotentialMatch,
		"ineligible": summary.Ineligible,
		"skipped":    summary.Skipped,
	}).Info("screening completed")
	return summary, nil
}

// OverrideCriterion records a coordinator's judgement on one criterion and
// reclassifies the patient.
func (s *Service) OverrideCriterion(ctx context.Context, patientID uuid.UUID, criterionID int, req models.OverrideCriterionRequest, actor string) (models.Patient, error) {
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	rs, err := s.rules.RuleSet(ctx, p.StudyID)
	if err != nil {
		return models.Patient{}, err
	}
	previous := p.Tag
	out, err := screening.OverrideCriterion(&p, rs, criterionID, req.Matched, models.SourceManual, req.Note)
	if err != nil {
		if errors.Is(err, screening.ErrUnknownCriterion) {
			return models.Patient{}, validate.Errorf("criterion %d: %w", criterionID, err)
		}
		return models.Patient{}, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return models.Patient{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   p.StudyID,
		PatientID: &p.ID,
		Actor:     actor,
		Action:    "criterion_overridden",
		Entity:    "patient",
		EntityID:  p.ID.String(),
		Payload: map[string]interface{}{
			"criterion_id": criterionID,
			"matched":      req.Matched,
			"note":         req.Note,
			"tag_from":     string(previous),
			"tag_to":       string(out.Tag),
		},
	})
	s.invalidate(ctx, p.StudyID)
	return p, nil
}

// SetTagStatus applies a coordinator's manual tag or status change.
func (s *Service) SetTagStatus(ctx context.Context, patientID uuid.UUID, req models.UpdatePatientRequest, actor string) (models.Patient, error) {
	if err := validate.Struct(req); err != nil {
		return models.Patient{}, err
	}
	if req.Tag == "" && req.Status == "" {
		return models.Patient{}, validate.Errorf("tag or status is required")
	}
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	payload := map[string]interface{}{"reason": req.Reason}
	if req.Tag != "" {
		payload["tag_from"], payload["tag_to"] = string(p.Tag), string(req.Tag)
		p.Tag = req.Tag
	}
	if req.Status != "" {
		payload["status_from"], payload["status_to"] = string(p.Status), string(req.Status)
		p.Status = req.Status
	}
	return s.save(ctx, p, "patient_updated", actor, payload)
}

// ApplyCallOutcome folds the result of an AI screening call into the
// patient. Criterion answers from the call replace the EHR evidence before
// the outcome decides the tag and status.
func (s *Service) ApplyCallOutcome(ctx context.Context, patientID uuid.UUID, outcome models.CallOutcome, answers []models.CriterionAnswer, actor string) (models.Patient, error) {
	if !outcome.Valid() {
		return models.Patient{}, validate.Errorf("unknown call outcome %q", outcome)
	}
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	rs, err := s.rules.RuleSet(ctx, p.StudyID)
	if err != nil {
		return models.Patient{}, err
	}

	applied := 0
	for _, a := range answers {
		_, err := screening.OverrideCriterion(&p, rs, a.CriterionID, a.Matched, models.SourceAICall, a.Evidence)
		if errors.Is(err, screening.ErrUnknownCriterion) {
			logger.Log.WithFields(map[string]interface{}{
				"patient_id":   p.ID,
				"criterion_id": a.CriterionID,
			}).Warn("call answered a criterion the patient was not screened on")
			continue
		}
		applied++
	}

	clean := len(p.FailedCriteria()) == 0 && len(p.CriteriaMatches) > 0
	switch outcome {
	case models.OutcomeQualified:
		if clean {
			p.Tag = models.TagEligible
		}
		p.Status = models.StatusPendingReview
	case models.OutcomeScheduled:
		if clean {
			p.Tag = models.TagEligible
		}
		p.Status = models.StatusVisitScheduled
	case models.OutcomeNotQualified:
		p.Tag = models.TagIneligible
		p.Status = models.StatusFailedScreening
	case models.OutcomeDeclined:
		p.Status = models.StatusDeclined
	case models.OutcomeNoAnswer, models.OutcomeVoicemail:
		p.Status = models.StatusAICallInitiated
	}

	return s.save(ctx, p, "call_outcome_applied", actor, map[string]interface{}{
		"outcome":         string(outcome),
		"answers_applied": applied,
		"tag":             string(p.Tag),
		"status":          string(p.Status),
	})
}

// MarkCallInitiated moves a patient into the AI call stage.
func (s *Service) MarkCallInitiated(ctx context.Context, patientID uuid.UUID, actor string) (models.Patient, error) {
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	if p.Tag == models.TagIneligible || p.Status == models.StatusDeclined {
		return models.Patient{}, validate.Errorf("patient %s cannot be called in status %s", p.ID, p.Status)
	}
	p.Status = models.StatusAICallInitiated
	return s.save(ctx, p, "call_initiated", actor, nil)
}

// MarkVisitScheduled records that an on-site screening visit was booked.
func (s *Service) MarkVisitScheduled(ctx context.Context, patientID uuid.UUID, actor string) (models.Patient, error) {
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	if p.Tag == models.TagIneligible || p.Status == models.StatusDeclined || p.Status == models.StatusEnrolled {
		return models.Patient{}, validate.Errorf("patient %s cannot be scheduled in status %s", p.ID, p.Status)
	}
	p.Status = models.StatusVisitScheduled
	return s.save(ctx, p, "visit_scheduled", actor, nil)
}

// MarkEnrolled completes recruitment for an eligible patient.
func (s *Service) MarkEnrolled(ctx context.Context, patientID uuid.UUID, actor string) (models.Patient, error) {
	p, err := s.store.Get(ctx, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	if p.Tag != models.TagEligible && p.Tag != models.TagMatch {
		return models.Patient{}, validate.Errorf("only eligible patients can be enrolled, patient is %s", p.Tag)
	}
	if p.Status == models.StatusDeclined || p.Status == models.StatusFailedScreening {
		return models.Patient{}, validate.Errorf("patient in status %s cannot be enrolled", p.Status)
	}
	p.Status = models.StatusEnrolled
	return s.save(ctx, p, "patient_enrolled", actor, nil)
}

func (s *Service) save(ctx context.Context, p models.Patient, action, actor string, payload map[string]interface{}) (models.Patient, error) {
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return models.Patient{}, err
	}
	if payload == nil {
		payload = map[string]interface{}{"tag": string(p.Tag), "status": string(p.Status)}
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:   p.StudyID,
		PatientID: &p.ID,
		Actor:     actor,
		Action:    action,
		Entity:    "patient",
		EntityID:  p.ID.String(),
		Payload:   payload,
	})
	s.invalidate(ctx, p.StudyID)
	return p, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if err := s.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}

func (s *Service) invalidate(ctx context.Context, studyID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, studyID); err != nil {
		logger.Log.WithError(err).WithField("study_id", studyID).Warn("failed to invalidate analytics cache")
	}
}

// pastReview reports whether a coordinator or a call has already moved the
// patient beyond the screening stage.
func pastReview(status models.Status) bool {
	switch status {
	case models.StatusAICallInitiated, models.StatusVisitScheduled, models.StatusDeclined, models.StatusEnrolled:
		return true
	}
	return false
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
