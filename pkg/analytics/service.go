package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/observability/metrics"
	"github.com/synaptica-ai/recruit/pkg/patients"
)

// PatientLister reads the patients of a study.
type PatientLister interface {
	List(ctx context.Context, filter patients.Filter) ([]models.Patient, error)
}

// StudyChecker confirms a study exists.
type StudyChecker interface {
	GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error)
}

type Service struct {
	patients PatientLister
	studies  StudyChecker
	cache    *Cache
}

// NewService builds the funnel service. A nil cache computes every request.
func NewService(patients PatientLister, studies StudyChecker, cache *Cache) *Service {
	return &Service{patients: patients, studies: studies, cache: cache}
}

// Funnel returns the study's recruitment funnel, from cache when fresh.
// Cache failures are logged and the funnel is computed directly.
func (s *Service) Funnel(ctx context.Context, studyID uuid.UUID) (models.FunnelSummary, error) {
	if _, err := s.studies.GetStudy(ctx, studyID); err != nil {
		return models.FunnelSummary{}, err
	}
	if s.cache != nil {
		summary, ok, err := s.cache.Get(ctx, studyID)
		if err != nil {
			logger.Log.WithError(err).WithField("study_id", studyID).Warn("funnel cache read failed")
		} else if ok {
			return summary, nil
		}
	}

	list, err := s.patients.List(ctx, patients.Filter{StudyID: studyID})
	if err != nil {
		return models.FunnelSummary{}, err
	}
	summary := Summarize(studyID, list)
	metrics.ObserveFunnel(summary)

	if s.cache != nil {
		if err := s.cache.Set(ctx, summary); err != nil {
			logger.Log.WithError(err).WithField("study_id", studyID).Warn("funnel cache write failed")
		}
	}
	return summary, nil
}

// Invalidate drops the cached funnel of a study. It satisfies the patient
// service's cache hook.
func (s *Service) Invalidate(ctx context.Context, studyID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, studyID)
}
