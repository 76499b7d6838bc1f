package patients

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("patient not found")

// Filter narrows a patient listing. Zero fields match everything and a zero
// Limit returns every match.
type Filter struct {
	StudyID uuid.UUID
	Tag     models.Tag
	Status  models.Status
	IDs     []uuid.UUID
	Limit   int
}

func (f Filter) matches(p models.Patient) bool {
	if f.StudyID != uuid.Nil && p.StudyID != f.StudyID {
		return false
	}
	if f.Tag != "" && p.Tag != f.Tag {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == p.ID {
				return true
			}
		}
		return false
	}
	return true
}

// Store persists patients. Patients are never deleted.
type Store interface {
	CreateBatch(ctx context.Context, patients []models.Patient) error
	Get(ctx context.Context, id uuid.UUID) (models.Patient, error)
	Update(ctx context.Context, patient models.Patient) error
	List(ctx context.Context, filter Filter) ([]models.Patient, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type patientModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	StudyID         uuid.UUID      `gorm:"column:study_id;index"`
	ExternalID      string         `gorm:"column:external_id;index"`
	Name            string         `gorm:"column:name"`
	Age             int            `gorm:"column:age"`
	Gender          string         `gorm:"column:gender"`
	Email           string         `gorm:"column:email"`
	Phone           string         `gorm:"column:phone"`
	Conditions      datatypes.JSON `gorm:"column:conditions"`
	ConditionCodes  datatypes.JSON `gorm:"column:condition_codes"`
	Medications     datatypes.JSON `gorm:"column:medications"`
	MMSEScore       *int           `gorm:"column:mmse_score"`
	Source          string         `gorm:"column:source"`
	Tag             string         `gorm:"column:tag;index"`
	Status          string         `gorm:"column:status;index"`
	CriteriaMatches datatypes.JSON `gorm:"column:criteria_matches"`
	ScreenedAt      *time.Time     `gorm:"column:screened_at"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (patientModel) TableName() string { return "patients" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&patientModel{})
}

func (r *Repository) CreateBatch(ctx context.Context, patients []models.Patient) error {
	if len(patients) == 0 {
		return nil
	}
	rows := make([]patientModel, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, toModel(p))
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.Patient, error) {
	var row patientModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Patient{}, ErrNotFound
		}
		return models.Patient{}, err
	}
	return fromModel(&row), nil
}

func (r *Repository) Update(ctx context.Context, patient models.Patient) error {
	row := toModel(patient)
	res := r.db.WithContext(ctx).Model(&patientModel{}).Where("id = ?", patient.ID).Updates(map[string]interface{}{
		"name":             row.Name,
		"age":              row.Age,
		"gender":           row.Gender,
		"email":            row.Email,
		"phone":            row.Phone,
		"conditions":       row.Conditions,
		"condition_codes":  row.ConditionCodes,
		"medications":      row.Medications,
		"mmse_score":       row.MMSEScore,
		"tag":              row.Tag,
		"status":           row.Status,
		"criteria_matches": row.CriteriaMatches,
		"screened_at":      row.ScreenedAt,
		"updated_at":       row.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]models.Patient, error) {
	query := r.db.WithContext(ctx).Model(&patientModel{})
	if filter.StudyID != uuid.Nil {
		query = query.Where("study_id = ?", filter.StudyID)
	}
	if filter.Tag != "" {
		query = query.Where("tag = ?", string(filter.Tag))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []patientModel
	if err := query.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Patient, 0, len(rows))
	for i := range rows {
		out = append(out, fromModel(&rows[i]))
	}
	return out, nil
}

func toModel(p models.Patient) patientModel {
	return patientModel{
		ID:              p.ID,
		StudyID:         p.StudyID,
		ExternalID:      p.ExternalID,
		Name:            p.Name,
		Age:             p.Age,
		Gender:          p.Gender,
		Email:           p.Email,
		Phone:           p.Phone,
		Conditions:      jsonValue(p.Conditions),
		ConditionCodes:  jsonValue(p.ConditionCodes),
		Medications:     jsonValue(p.Medications),
		MMSEScore:       p.MMSEScore,
		Source:          p.Source,
		Tag:             string(p.Tag),
		Status:          string(p.Status),
		CriteriaMatches: jsonValue(p.CriteriaMatches),
		ScreenedAt:      p.ScreenedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromModel(row *patientModel) models.Patient {
	p := models.Patient{
		ID:         row.ID,
		StudyID:    row.StudyID,
		ExternalID: row.ExternalID,
		Name:       row.Name,
		Age:        row.Age,
		Gender:     row.Gender,
		Email:      row.Email,
		Phone:      row.Phone,
		MMSEScore:  row.MMSEScore,
		Source:     row.Source,
		Tag:        models.Tag(row.Tag),
		Status:     models.Status(row.Status),
		ScreenedAt: row.ScreenedAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	decodeJSON(row.ID, "conditions", row.Conditions, &p.Conditions)
	decodeJSON(row.ID, "condition_codes", row.ConditionCodes, &p.ConditionCodes)
	decodeJSON(row.ID, "medications", row.Medications, &p.Medications)
	decodeJSON(row.ID, "criteria_matches", row.CriteriaMatches, &p.CriteriaMatches)
	if p.CriteriaMatches == nil {
		p.CriteriaMatches = []models.CriterionMatch{}
	}
	return p
}

func jsonValue(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func decodeJSON(id uuid.UUID, column string, data datatypes.JSON, dst interface{}) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"patient_id": id,
			"column":     column,
		}).Error("failed to decode patient column")
	}
}
