package studies

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/synaptica-ai/recruit/pkg/documents"
	"github.com/synaptica-ai/recruit/pkg/screening"
)

const maxProtocolBytes = 8 << 20

const (
	StatusDraft      = "draft"
	StatusRecruiting = "recruiting"
	StatusPaused     = "paused"
	StatusClosed     = "closed"
)

// ProtocolResult reports what a protocol upload changed.
type ProtocolResult struct {
	Study        models.Study       `json:"study"`
	Extracted    int                `json:"extracted"`
	KeptDefaults bool               `json:"kept_defaults"`
	Unmapped     []models.Criterion `json:"unmapped,omitempty"`
}

// CriteriaReview lists a study's criteria with the rules used to screen
// against them and the criteria that need a coordinator's judgement.
type CriteriaReview struct {
	Criteria []models.Criterion `json:"criteria"`
	Rules    screening.RuleSet  `json:"rules"`
	Unmapped []models.Criterion `json:"unmapped,omitempty"`
}

type Service struct {
	store     Store
	documents documents.Storage
	audit     audit.Sink
	base      screening.RuleSet
}

// NewService screens studies with base until their criteria are replaced.
func NewService(store Store, docs documents.Storage, sink audit.Sink, base screening.RuleSet) *Service {
	return &Service{store: store, documents: docs, audit: sink, base: base}
}

func (s *Service) CreateStudy(ctx context.Context, req models.CreateStudyRequest, actor string) (models.Study, error) {
	if err := validate.Struct(req); err != nil {
		return models.Study{}, err
	}
	now := time.Now().UTC()
	study := models.Study{
		ID:              uuid.New(),
		Code:            req.Code,
		Name:            req.Name,
		Phase:           req.Phase,
		TherapeuticArea: req.TherapeuticArea,
		Sponsor:         req.Sponsor,
		Status:          StatusDraft,
		Criteria:        s.base.Criteria(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateStudy(ctx, study); err != nil {
		return models.Study{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  study.ID,
		Actor:    actor,
		Action:   "study_created",
		Entity:   "study",
		EntityID: study.ID.String(),
		Payload:  map[string]interface{}{"code": study.Code, "name": study.Name},
	})
	return study, nil
}

func (s *Service) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	return s.store.ListStudies(ctx, limit)
}

func (s *Service) GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error) {
	return s.store.GetStudy(ctx, id)
}

func (s *Service) UpdateStudyStatus(ctx context.Context, id uuid.UUID, req models.UpdateStudyStatusRequest, actor string) (models.Study, error) {
	if err := validate.Struct(req); err != nil {
		return models.Study{}, err
	}
	study, err := s.store.GetStudy(ctx, id)
	if err != nil {
		return models.Study{}, err
	}
	previous := study.Status
	study.Status = req.Status
	study.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateStudy(ctx, study); err != nil {
		return models.Study{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  id,
		Actor:    actor,
		Action:   "study_status_updated",
		Entity:   "study",
		EntityID: id.String(),
		Payload:  map[string]interface{}{"from": previous, "to": study.Status},
	})
	return study, nil
}

func (s *Service) CreateSite(ctx context.Context, studyID uuid.UUID, req models.CreateStudySiteRequest, actor string) (models.StudySite, error) {
	if err := validate.Struct(req); err != nil {
		return models.StudySite{}, err
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return models.StudySite{}, validate.Errorf("unknown timezone %q", req.Timezone)
		}
	}
	if _, err := s.store.GetStudy(ctx, studyID); err != nil {
		return models.StudySite{}, err
	}
	site := models.StudySite{
		ID:                    uuid.New(),
		StudyID:               studyID,
		SiteCode:              req.SiteCode,
		Name:                  req.Name,
		Address:               req.Address,
		PrincipalInvestigator: req.PrincipalInvestigator,
		Timezone:              req.Timezone,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.store.CreateSite(ctx, site); err != nil {
		return models.StudySite{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "site_created",
		Entity:   "site",
		EntityID: site.ID.String(),
		Payload:  map[string]interface{}{"site_code": site.SiteCode, "name": site.Name},
	})
	return site, nil
}

func (s *Service) GetSite(ctx context.Context, id uuid.UUID) (models.StudySite, error) {
	return s.store.GetSite(ctx, id)
}

func (s *Service) ReplaceCriteria(ctx context.Context, studyID uuid.UUID, req models.ReplaceCriteriaRequest, actor string) (models.Study, error) {
	if err := validate.Struct(req); err != nil {
		return models.Study{}, err
	}
	seen := make(map[int]struct{}, len(req.Criteria))
	for _, c := range req.Criteria {
		if _, dup := seen[c.ID]; dup {
			return models.Study{}, validate.Errorf("duplicate criterion id %d", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return models.Study{}, err
	}
	study.Criteria = req.Criteria
	study.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateStudy(ctx, study); err != nil {
		return models.Study{}, err
	}
	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "criteria_replaced",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload:  map[string]interface{}{"count": len(req.Criteria)},
	})
	return study, nil
}

// UploadProtocol stores the protocol document and replaces the study's
// criteria with those extracted from it. A protocol with no recognisable
// criteria sections leaves the current criteria in place.
func (s *Service) UploadProtocol(ctx context.Context, studyID uuid.UUID, filename, contentType string, body io.Reader, actor string) (ProtocolResult, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return ProtocolResult{}, err
	}
	content, err := io.ReadAll(io.LimitReader(body, maxProtocolBytes+1))
	if err != nil {
		return ProtocolResult{}, fmt.Errorf("read protocol: %w", err)
	}
	if len(content) == 0 {
		return ProtocolResult{}, validate.Errorf("protocol document is empty")
	}
	if len(content) > maxProtocolBytes {
		return ProtocolResult{}, validate.Errorf("protocol document exceeds %d bytes", maxProtocolBytes)
	}
	if !utf8.Valid(content) {
		return ProtocolResult{}, validate.Errorf("protocol must be plain text or markdown")
	}

	key, err := s.documents.Store(ctx, studyID, filename, bytes.NewReader(content), contentType)
	if err != nil {
		return ProtocolResult{}, fmt.Errorf("store protocol: %w", err)
	}
	if study.ProtocolKey != "" && study.ProtocolKey != key {
		if err := s.documents.Delete(ctx, study.ProtocolKey); err != nil {
			logger.Log.WithError(err).WithField("study_id", studyID).Warn("failed to delete previous protocol")
		}
	}

	extracted := ExtractCriteria(string(content))
	result := ProtocolResult{Extracted: len(extracted), KeptDefaults: len(extracted) == 0}
	if len(extracted) > 0 {
		study.Criteria = extracted
		_, result.Unmapped = screening.RulesFromCriteria(extracted)
	}
	study.ProtocolKey = key
	study.ProtocolName = filename
	study.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateStudy(ctx, study); err != nil {
		return ProtocolResult{}, err
	}
	result.Study = study

	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "protocol_uploaded",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload: map[string]interface{}{
			"filename":  filename,
			"key":       key,
			"extracted": result.Extracted,
			"unmapped":  len(result.Unmapped),
		},
	})
	logger.Log.WithFields(map[string]interface{}{
		"study_id":  studyID,
		"extracted": result.Extracted,
		"unmapped":  len(result.Unmapped),
	}).Info("protocol uploaded")
	return result, nil
}

func (s *Service) Protocol(ctx context.Context, studyID uuid.UUID) (io.ReadCloser, string, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, "", err
	}
	if study.ProtocolKey == "" {
		return nil, "", documents.ErrNotFound
	}
	rc, err := s.documents.Retrieve(ctx, study.ProtocolKey)
	if err != nil {
		return nil, "", err
	}
	return rc, study.ProtocolName, nil
}

// RuleSet returns the rules patients of the study are screened with. Criteria
// that match the base set screen with the base rules; otherwise the rules are
// inferred from the criteria text, falling back to the base rules when nothing
// can be inferred.
func (s *Service) RuleSet(ctx context.Context, studyID uuid.UUID) (screening.RuleSet, error) {
	review, err := s.ReviewCriteria(ctx, studyID)
	if err != nil {
		return screening.RuleSet{}, err
	}
	return review.Rules, nil
}

func (s *Service) ReviewCriteria(ctx context.Context, studyID uuid.UUID) (CriteriaReview, error) {
	if studyID == uuid.Nil {
		return CriteriaReview{}, validate.Errorf("no study selected")
	}
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return CriteriaReview{}, err
	}
	review := CriteriaReview{Criteria: study.Criteria, Rules: s.base}
	if len(study.Criteria) == 0 || sameCriteria(study.Criteria, s.base.Criteria()) {
		return review, nil
	}

	inferred, unmapped := screening.RulesFromCriteria(study.Criteria)
	review.Unmapped = unmapped
	if len(inferred.Rules) == 0 {
		return review, nil
	}
	review.Rules = inferred.WithRatio(s.base.PotentialMatchRatio)
	return review, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	return s.audit.List(ctx, studyID, limit)
}

func sameCriteria(a, b []models.Criterion) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}
