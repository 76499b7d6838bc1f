package patients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/studies"
)

// HandleEvent is the screening worker's consumer callback. Events other than
// patient.imported are ignored. Malformed payloads and unknown studies are
// logged and acknowledged; store failures are returned so the message is
// redelivered.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventPatientImported {
		return nil
	}
	entry := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	studyID, ids, err := importedPatients(event.Data)
	if err != nil {
		entry.WithError(err).Warn("dropping malformed import event")
		return nil
	}

	summary, err := s.ScreenPatients(ctx, studyID, ids)
	if err != nil {
		if errors.Is(err, studies.ErrNotFound) {
			entry.WithField("study_id", studyID).Warn("dropping import event for unknown study")
			return nil
		}
		return err
	}
	entry.WithFields(map[string]interface{}{
		"study_id": studyID,
		"screened": summary.Screened,
		"skipped":  summary.Skipped,
	}).Info("screened imported patients")
	return nil
}

func importedPatients(data map[string]interface{}) (uuid.UUID, []uuid.UUID, error) {
	raw, _ := data["study_id"].(string)
	studyID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("study_id: %w", err)
	}

	var values []string
	switch v := data["patient_ids"].(type) {
	case []string:
		values = v
	case []interface{}:
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return uuid.Nil, nil, fmt.Errorf("patient_ids: unexpected %T", item)
			}
			values = append(values, str)
		}
	default:
		return uuid.Nil, nil, fmt.Errorf("patient_ids: unexpected %T", v)
	}

	ids := make([]uuid.UUID, 0, len(values))
	for _, str := range values {
		id, err := uuid.Parse(str)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("patient_ids: %w", err)
		}
		ids = append(ids, id)
	}
	return studyID, ids, nil
}
