package audit

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sink stores audit entries for every coordinator or system mutation.
type Sink interface {
	Append(ctx context.Context, entry models.AuditLog) error
	List(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error)
}

// Record fills defaults and appends entry. Failures are logged, not returned.
func Record(ctx context.Context, sink Sink, entry models.AuditLog) {
	if sink == nil {
		return
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.Payload == nil {
		entry.Payload = map[string]interface{}{}
	}
	if entry.StudyID == uuid.Nil {
		logger.Log.WithField("action", entry.Action).Warn("audit log missing study id")
		return
	}
	if err := sink.Append(ctx, entry); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"study_id": entry.StudyID,
			"action":   entry.Action,
		}).Error("failed to append audit log")
	}
}

type auditLogModel struct {
	ID        int64          `gorm:"primaryKey;column:id"`
	StudyID   uuid.UUID      `gorm:"column:study_id;index"`
	PatientID *uuid.UUID     `gorm:"column:patient_id"`
	Actor     string         `gorm:"column:actor"`
	Action    string         `gorm:"column:action"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "recruitment_audit_logs" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&auditLogModel{})
}

func (r *Repository) Append(ctx context.Context, entry models.AuditLog) error {
	payload, _ := json.Marshal(entry.Payload)
	row := &auditLogModel{
		StudyID:   entry.StudyID,
		PatientID: entry.PatientID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) List(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	limit = clampLimit(limit)
	var rows []auditLogModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", studyID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		var payload map[string]interface{}
		if len(row.Payload) > 0 {
			_ = json.Unmarshal(row.Payload, &payload)
		}
		logs = append(logs, models.AuditLog{
			ID:        row.ID,
			StudyID:   row.StudyID,
			PatientID: row.PatientID,
			Actor:     row.Actor,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			Payload:   payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return logs, nil
}

// MemoryStore keeps audit entries in process.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, entry models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, studyID uuid.UUID, limit int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, e := range m.entries {
		if e.StudyID == studyID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
