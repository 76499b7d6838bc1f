package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/gorm"
)

var (
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrVisitNotFound   = errors.New("visit not found")
)

// VisitFilter narrows ListVisits. Zero fields are ignored; From and To bound
// the visit start time.
type VisitFilter struct {
	StudyID   uuid.UUID
	SiteID    uuid.UUID
	PatientID uuid.UUID
	Status    string
	From      time.Time
	To        time.Time
}

func (f VisitFilter) matches(v models.Visit) bool {
	switch {
	case f.StudyID != uuid.Nil && v.StudyID != f.StudyID:
		return false
	case f.SiteID != uuid.Nil && v.SiteID != f.SiteID:
		return false
	case f.PatientID != uuid.Nil && v.PatientID != f.PatientID:
		return false
	case f.Status != "" && v.Status != f.Status:
		return false
	case !f.From.IsZero() && v.StartsAt.Before(f.From):
		return false
	case !f.To.IsZero() && !v.StartsAt.Before(f.To):
		return false
	}
	return true
}

// Store persists visits. CreateVisit returns ErrSlotUnavailable when the site
// already has a scheduled visit starting at the same time.
type Store interface {
	CreateVisit(ctx context.Context, v models.Visit) error
	GetVisit(ctx context.Context, id uuid.UUID) (models.Visit, error)
	UpdateVisit(ctx context.Context, v models.Visit) error
	ListVisits(ctx context.Context, filter VisitFilter) ([]models.Visit, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type visitModel struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id"`
	StudyID   uuid.UUID `gorm:"column:study_id;index"`
	SiteID    uuid.UUID `gorm:"column:site_id;uniqueIndex:idx_site_slot,where:status = 'scheduled'"`
	PatientID uuid.UUID `gorm:"column:patient_id;index"`
	StartsAt  time.Time `gorm:"column:starts_at;uniqueIndex:idx_site_slot,where:status = 'scheduled'"`
	EndsAt    time.Time `gorm:"column:ends_at"`
	Status    string    `gorm:"column:status"`
	Notes     string    `gorm:"column:notes"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (visitModel) TableName() string { return "screening_visits" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&visitModel{})
}

func (r *Repository) CreateVisit(ctx context.Context, v models.Visit) error {
	err := r.db.WithContext(ctx).Create(&visitModel{
		ID:        v.ID,
		StudyID:   v.StudyID,
		SiteID:    v.SiteID,
		PatientID: v.PatientID,
		StartsAt:  v.StartsAt,
		EndsAt:    v.EndsAt,
		Status:    v.Status,
		Notes:     v.Notes,
		CreatedAt: v.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrSlotUnavailable
	}
	return err
}

func (r *Repository) GetVisit(ctx context.Context, id uuid.UUID) (models.Visit, error) {
	var row visitModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Visit{}, ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return fromVisitModel(&row), nil
}

func (r *Repository) UpdateVisit(ctx context.Context, v models.Visit) error {
	res := r.db.WithContext(ctx).Model(&visitModel{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
		"status": v.Status,
		"notes":  v.Notes,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVisitNotFound
	}
	return nil
}

func (r *Repository) ListVisits(ctx context.Context, filter VisitFilter) ([]models.Visit, error) {
	query := r.db.WithContext(ctx).Order("starts_at")
	if filter.StudyID != uuid.Nil {
		query = query.Where("study_id = ?", filter.StudyID)
	}
	if filter.SiteID != uuid.Nil {
		query = query.Where("site_id = ?", filter.SiteID)
	}
	if filter.PatientID != uuid.Nil {
		query = query.Where("patient_id = ?", filter.PatientID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("starts_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("starts_at < ?", filter.To)
	}
	var rows []visitModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Visit, 0, len(rows))
	for i := range rows {
		out = append(out, fromVisitModel(&rows[i]))
	}
	return out, nil
}

func fromVisitModel(row *visitModel) models.Visit {
	return models.Visit{
		ID:        row.ID,
		StudyID:   row.StudyID,
		SiteID:    row.SiteID,
		PatientID: row.PatientID,
		StartsAt:  row.StartsAt.UTC(),
		EndsAt:    row.EndsAt.UTC(),
		Status:    row.Status,
		Notes:     row.Notes,
		CreatedAt: row.CreatedAt,
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	visits map[uuid.UUID]models.Visit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{visits: make(map[uuid.UUID]models.Visit)}
}

func (m *MemoryStore) CreateVisit(ctx context.Context, v models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.visits {
		if existing.Status == models.VisitScheduled && v.Status == models.VisitScheduled &&
			existing.SiteID == v.SiteID && existing.StartsAt.Equal(v.StartsAt) {
			return ErrSlotUnavailable
		}
	}
	m.visits[v.ID] = v
	return nil
}

func (m *MemoryStore) GetVisit(ctx context.Context, id uuid.UUID) (models.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visits[id]
	if !ok {
		return models.Visit{}, ErrVisitNotFound
	}
	return v, nil
}

func (m *MemoryStore) UpdateVisit(ctx context.Context, v models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.visits[v.ID]
	if !ok {
		return ErrVisitNotFound
	}
	existing.Status = v.Status
	existing.Notes = v.Notes
	m.visits[v.ID] = existing
	return nil
}

func (m *MemoryStore) ListVisits(ctx context.Context, filter VisitFilter) ([]models.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Visit
	for _, v := range m.visits {
		if filter.matches(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
