package studies

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("study not found")

// Store persists studies and their sites.
type Store interface {
	CreateStudy(ctx context.Context, study models.Study) error
	GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error)
	ListStudies(ctx context.Context, limit int) ([]models.Study, error)
	UpdateStudy(ctx context.Context, study models.Study) error
	CreateSite(ctx context.Context, site models.StudySite) error
	GetSite(ctx context.Context, id uuid.UUID) (models.StudySite, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type studyModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	Code            string         `gorm:"column:code;uniqueIndex"`
	Name            string         `gorm:"column:name"`
	Phase           string         `gorm:"column:phase"`
	TherapeuticArea string         `gorm:"column:therapeutic_area"`
	Sponsor         string         `gorm:"column:sponsor"`
	Status          string         `gorm:"column:status"`
	Criteria        datatypes.JSON `gorm:"column:criteria"`
	ProtocolKey     string         `gorm:"column:protocol_key"`
	ProtocolName    string         `gorm:"column:protocol_name"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (studyModel) TableName() string { return "studies" }

type siteModel struct {
	ID                    uuid.UUID `gorm:"primaryKey;column:id"`
	StudyID               uuid.UUID `gorm:"column:study_id;index"`
	SiteCode              string    `gorm:"column:site_code"`
	Name                  string    `gorm:"column:name"`
	Address               string    `gorm:"column:address"`
	PrincipalInvestigator string    `gorm:"column:principal_investigator"`
	Timezone              string    `gorm:"column:timezone"`
	CreatedAt             time.Time `gorm:"column:created_at"`
}

func (siteModel) TableName() string { return "study_sites" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&studyModel{}, &siteModel{})
}

func (r *Repository) CreateStudy(ctx context.Context, study models.Study) error {
	return r.db.WithContext(ctx).Create(toStudyModel(study)).Error
}

func (r *Repository) UpdateStudy(ctx context.Context, study models.Study) error {
	res := r.db.WithContext(ctx).Model(&studyModel{}).Where("id = ?", study.ID).Updates(map[string]interface{}{
		"name":             study.Name,
		"phase":            study.Phase,
		"therapeutic_area": study.TherapeuticArea,
		"sponsor":          study.Sponsor,
		"status":           study.Status,
		"criteria":         toStudyModel(study).Criteria,
		"protocol_key":     study.ProtocolKey,
		"protocol_name":    study.ProtocolName,
		"updated_at":       study.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error) {
	var row studyModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Study{}, ErrNotFound
		}
		return models.Study{}, err
	}
	return r.buildStudy(ctx, &row)
}

func (r *Repository) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []studyModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	studies := make([]models.Study, 0, len(rows))
	for i := range rows {
		study, err := r.buildStudy(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}
	return studies, nil
}

func (r *Repository) buildStudy(ctx context.Context, row *studyModel) (models.Study, error) {
	study := fromStudyModel(row)
	var sites []siteModel
	if err := r.db.WithContext(ctx).Where("study_id = ?", row.ID).Order("site_code").Find(&sites).Error; err != nil {
		return models.Study{}, err
	}
	for i := range sites {
		study.Sites = append(study.Sites, fromSiteModel(&sites[i]))
	}
	return study, nil
}

func (r *Repository) CreateSite(ctx context.Context, site models.StudySite) error {
	return r.db.WithContext(ctx).Create(&siteModel{
		ID:                    site.ID,
		StudyID:               site.StudyID,
		SiteCode:              site.SiteCode,
		Name:                  site.Name,
		Address:               site.Address,
		PrincipalInvestigator: site.PrincipalInvestigator,
		Timezone:              site.Timezone,
		CreatedAt:             site.CreatedAt,
	}).Error
}

func (r *Repository) GetSite(ctx context.Context, id uuid.UUID) (models.StudySite, error) {
	var row siteModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.StudySite{}, ErrNotFound
		}
		return models.StudySite{}, err
	}
	return fromSiteModel(&row), nil
}

func toStudyModel(study models.Study) *studyModel {
	criteria, _ := json.Marshal(study.Criteria)
	return &studyModel{
		ID:              study.ID,
		Code:            study.Code,
		Name:            study.Name,
		Phase:           study.Phase,
		TherapeuticArea: study.TherapeuticArea,
		Sponsor:         study.Sponsor,
		Status:          study.Status,
		Criteria:        datatypes.JSON(criteria),
		ProtocolKey:     study.ProtocolKey,
		ProtocolName:    study.ProtocolName,
		CreatedAt:       study.CreatedAt,
		UpdatedAt:       study.UpdatedAt,
	}
}

func fromStudyModel(row *studyModel) models.Study {
	study := models.Study{
		ID:              row.ID,
		Code:            row.Code,
		Name:            row.Name,
		Phase:           row.Phase,
		TherapeuticArea: row.TherapeuticArea,
		Sponsor:         row.Sponsor,
		Status:          row.Status,
		ProtocolKey:     row.ProtocolKey,
		ProtocolName:    row.ProtocolName,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if len(row.Criteria) > 0 {
		_ = json.Unmarshal(row.Criteria, &study.Criteria)
	}
	return study
}

func fromSiteModel(row *siteModel) models.StudySite {
	return models.StudySite{
		ID:                    row.ID,
		StudyID:               row.StudyID,
		SiteCode:              row.SiteCode,
		Name:                  row.Name,
		Address:               row.Address,
		PrincipalInvestigator: row.PrincipalInvestigator,
		Timezone:              row.Timezone,
		CreatedAt:             row.CreatedAt,
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	studies map[uuid.UUID]models.Study
	sites   map[uuid.UUID]models.StudySite
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		studies: make(map[uuid.UUID]models.Study),
		sites:   make(map[uuid.UUID]models.StudySite),
	}
}

func (m *MemoryStore) CreateStudy(ctx context.Context, study models.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.studies {
		if existing.Code == study.Code {
			return errors.New("study code already exists")
		}
	}
	study.Sites = nil
	study.Criteria = append([]models.Criterion(nil), study.Criteria...)
	m.studies[study.ID] = study
	return nil
}

func (m *MemoryStore) UpdateStudy(ctx context.Context, study models.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.studies[study.ID]; !ok {
		return ErrNotFound
	}
	study.Sites = nil
	study.Criteria = append([]models.Criterion(nil), study.Criteria...)
	m.studies[study.ID] = study
	return nil
}

func (m *MemoryStore) GetStudy(ctx context.Context, id uuid.UUID) (models.Study, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	study, ok := m.studies[id]
	if !ok {
		return models.Study{}, ErrNotFound
	}
	return m.withSites(study), nil
}

func (m *MemoryStore) ListStudies(ctx context.Context, limit int) ([]models.Study, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Study, 0, len(m.studies))
	for _, study := range m.studies {
		out = append(out, m.withSites(study))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateSite(ctx context.Context, site models.StudySite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.studies[site.StudyID]; !ok {
		return ErrNotFound
	}
	m.sites[site.ID] = site
	return nil
}

func (m *MemoryStore) GetSite(ctx context.Context, id uuid.UUID) (models.StudySite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	site, ok := m.sites[id]
	if !ok {
		return models.StudySite{}, ErrNotFound
	}
	return site, nil
}

func (m *MemoryStore) withSites(study models.Study) models.Study {
	study.Criteria = append([]models.Criterion(nil), study.Criteria...)
	for _, site := range m.sites {
		if site.StudyID == study.ID {
			study.Sites = append(study.Sites, site)
		}
	}
	sort.Slice(study.Sites, func(i, j int) bool { return study.Sites[i].SiteCode < study.Sites[j].SiteCode })
	return study
}
