package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/patients"
)

type PatientLister interface {
	List(ctx context.Context, filter patients.Filter) ([]models.Patient, error)
}

type StudyLookup interface {
	GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error)
}

// Document is a rendered export ready to be served.
type Document struct {
	Filename    string
	ContentType string
	Rows        int
	Body        []byte
}

type Service struct {
	patients PatientLister
	studies  StudyLookup
	audit    audit.Sink
	now      func() time.Time
}

func NewService(patients PatientLister, studies StudyLookup, sink audit.Sink) *Service {
	return &Service{patients: patients, studies: studies, audit: sink, now: time.Now}
}

// Export renders every patient of the study, optionally narrowed to a tag.
func (s *Service) Export(ctx context.Context, studyID uuid.UUID, format Format, tag models.Tag, actor string) (Document, error) {
	study, err := s.studies.GetStudy(ctx, studyID)
	if err != nil {
		return Document{}, err
	}
	list, err := s.patients.List(ctx, patients.Filter{StudyID: studyID, Tag: tag})
	if err != nil {
		return Document{}, fmt.Errorf("list patients: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case FormatXLSX:
		err = WriteXLSX(&buf, list)
	default:
		format = FormatCSV
		err = WriteCSV(&buf, list)
	}
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", format, err)
	}

	audit.Record(ctx, s.audit, models.AuditLog{
		StudyID:  studyID,
		Actor:    actor,
		Action:   "patients_exported",
		Entity:   "study",
		EntityID: studyID.String(),
		Payload: map[string]interface{}{
			"format": string(format),
			"tag":    string(tag),
			"rows":   len(list),
		},
	})

	return Document{
		Filename:    filename(study, format, s.now()),
		ContentType: format.ContentType(),
		Rows:        len(list),
		Body:        buf.Bytes(),
	}, nil
}

func filename(study models.Study, format Format, at time.Time) string {
	code := strings.ToLower(strings.TrimSpace(study.Code))
	if code == "" {
		code = study.ID.String()
	}
	code = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, code)
	return fmt.Sprintf("%s-patients-%s.%s", code, at.UTC().Format("20060102"), format)
}
