package campaigns

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound        = errors.New("campaign not found")
	ErrContactNotFound = errors.New("campaign contact not found")
	ErrCallNotFound    = errors.New("call not found")
)

// Store persists campaigns, their contacts and the calls placed to them.
type Store interface {
	CreateCampaign(ctx context.Context, c models.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (models.Campaign, error)
	ListCampaigns(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Campaign, error)
	UpdateCampaign(ctx context.Context, c models.Campaign) error

	// AddContacts ignores patients that are already contacts of the campaign
	// and reports how many were inserted.
	AddContacts(ctx context.Context, contacts []models.CampaignContact) (int, error)
	GetContact(ctx context.Context, id uuid.UUID) (models.CampaignContact, error)
	ListContacts(ctx context.Context, campaignID uuid.UUID) ([]models.CampaignContact, error)
	UpdateContact(ctx context.Context, contact models.CampaignContact) error

	CreateCall(ctx context.Context, call models.CallRecord) error
	GetCallByProviderID(ctx context.Context, providerCallID string) (models.CallRecord, error)
	ListCalls(ctx context.Context, campaignID uuid.UUID) ([]models.CallRecord, error)
	UpdateCall(ctx context.Context, call models.CallRecord) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type campaignModel struct {
	ID         uuid.UUID  `gorm:"primaryKey;column:id"`
	StudyID    uuid.UUID  `gorm:"column:study_id;index"`
	Name       string     `gorm:"column:name"`
	Channel    string     `gorm:"column:channel"`
	Status     string     `gorm:"column:status"`
	Script     string     `gorm:"column:script"`
	CreatedBy  string     `gorm:"column:created_by"`
	LaunchedAt *time.Time `gorm:"column:launched_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (campaignModel) TableName() string { return "campaigns" }

type contactModel struct {
	ID         uuid.UUID `gorm:"primaryKey;column:id"`
	CampaignID uuid.UUID `gorm:"column:campaign_id;uniqueIndex:idx_campaign_patient"`
	PatientID  uuid.UUID `gorm:"column:patient_id;uniqueIndex:idx_campaign_patient"`
	Name       string    `gorm:"column:name"`
	Phone      string    `gorm:"column:phone"`
	State      string    `gorm:"column:state"`
	Attempts   int       `gorm:"column:attempts"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (contactModel) TableName() string { return "campaign_contacts" }

type callModel struct {
	ID             uuid.UUID      `gorm:"primaryKey;column:id"`
	CampaignID     uuid.UUID      `gorm:"column:campaign_id;index"`
	ContactID      uuid.UUID      `gorm:"column:contact_id"`
	PatientID      uuid.UUID      `gorm:"column:patient_id;index"`
	ProviderCallID string         `gorm:"column:provider_call_id;uniqueIndex"`
	Status         string         `gorm:"column:status"`
	Outcome        string         `gorm:"column:outcome"`
	Transcript     datatypes.JSON `gorm:"column:transcript"`
	Summary        string         `gorm:"column:summary"`
	Answers        datatypes.JSON `gorm:"column:answers"`
	Redactions     int            `gorm:"column:redactions"`
	DurationSecs   int            `gorm:"column:duration_secs"`
	StartedAt      time.Time      `gorm:"column:started_at"`
	EndedAt        *time.Time     `gorm:"column:ended_at"`
}

func (callModel) TableName() string { return "campaign_calls" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&campaignModel{}, &contactModel{}, &callModel{})
}

func (r *Repository) CreateCampaign(ctx context.Context, c models.Campaign) error {
	return r.db.WithContext(ctx).Create(&campaignModel{
		ID:         c.ID,
		StudyID:    c.StudyID,
		Name:       c.Name,
		Channel:    string(c.Channel),
		Status:     c.Status,
		Script:     c.Script,
		CreatedBy:  c.CreatedBy,
		LaunchedAt: c.LaunchedAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}).Error
}

func (r *Repository) GetCampaign(ctx context.Context, id uuid.UUID) (models.Campaign, error) {
	var row campaignModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Campaign{}, ErrNotFound
		}
		return models.Campaign{}, err
	}
	c := fromCampaignModel(&row)
	contacts, err := r.ListContacts(ctx, id)
	if err != nil {
		return models.Campaign{}, err
	}
	c.Contacts = contacts
	return c, nil
}

func (r *Repository) ListCampaigns(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if studyID != uuid.Nil {
		query = query.Where("study_id = ?", studyID)
	}
	var rows []campaignModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Campaign, 0, len(rows))
	for i := range rows {
		out = append(out, fromCampaignModel(&rows[i]))
	}
	return out, nil
}

func (r *Repository) UpdateCampaign(ctx context.Context, c models.Campaign) error {
	res := r.db.WithContext(ctx).Model(&campaignModel{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":        c.Name,
		"status":      c.Status,
		"script":      c.Script,
		"launched_at": c.LaunchedAt,
		"updated_at":  c.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) AddContacts(ctx context.Context, contacts []models.CampaignContact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	rows := make([]contactModel, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, toContactModel(c))
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "campaign_id"}, {Name: "patient_id"}}, DoNothing: true}).
		Create(&rows)
	return int(res.RowsAffected), res.Error
}

func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (models.CampaignContact, error) {
	var row contactModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.CampaignContact{}, ErrContactNotFound
		}
		return models.CampaignContact{}, err
	}
	return fromContactModel(&row), nil
}

func (r *Repository) ListContacts(ctx context.Context, campaignID uuid.UUID) ([]models.CampaignContact, error) {
	var rows []contactModel
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.CampaignContact, 0, len(rows))
	for i := range rows {
		out = append(out, fromContactModel(&rows[i]))
	}
	return out, nil
}

func (r *Repository) UpdateContact(ctx context.Context, contact models.CampaignContact) error {
	res := r.db.WithContext(ctx).Model(&contactModel{}).Where("id = ?", contact.ID).Updates(map[string]interface{}{
		"state":      contact.State,
		"attempts":   contact.Attempts,
		"updated_at": contact.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (r *Repository) CreateCall(ctx context.Context, call models.CallRecord) error {
	return r.db.WithContext(ctx).Create(toCallModel(call)).Error
}

func (r *Repository) GetCallByProviderID(ctx context.Context, providerCallID string) (models.CallRecord, error) {
	var row callModel
	if err := r.db.WithContext(ctx).First(&row, "provider_call_id = ?", providerCallID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.CallRecord{}, ErrCallNotFound
		}
		return models.CallRecord{}, err
	}
	return fromCallModel(&row), nil
}

func (r *Repository) ListCalls(ctx context.Context, campaignID uuid.UUID) ([]models.CallRecord, error) {
	var rows []callModel
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.CallRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromCallModel(&rows[i]))
	}
	return out, nil
}

func (r *Repository) UpdateCall(ctx context.Context, call models.CallRecord) error {
	row := toCallModel(call)
	res := r.db.WithContext(ctx).Model(&callModel{}).Where("id = ?", call.ID).Updates(map[string]interface{}{
		"status":        row.Status,
		"outcome":       row.Outcome,
		"transcript":    row.Transcript,
		"summary":       row.Summary,
		"answers":       row.Answers,
		"redactions":    row.Redactions,
		"duration_secs": row.DurationSecs,
		"ended_at":      row.EndedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCallNotFound
	}
	return nil
}

func fromCampaignModel(row *campaignModel) models.Campaign {
	return models.Campaign{
		ID:         row.ID,
		StudyID:    row.StudyID,
		Name:       row.Name,
		Channel:    models.CampaignChannel(row.Channel),
		Status:     row.Status,
		Script:     row.Script,
		CreatedBy:  row.CreatedBy,
		LaunchedAt: row.LaunchedAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func toContactModel(c models.CampaignContact) contactModel {
	return contactModel{
		ID:         c.ID,
		CampaignID: c.CampaignID,
		PatientID:  c.PatientID,
		Name:       c.Name,
		Phone:      c.Phone,
		State:      c.State,
		Attempts:   c.Attempts,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func fromContactModel(row *contactModel) models.CampaignContact {
	return models.CampaignContact{
		ID:         row.ID,
		CampaignID: row.CampaignID,
		PatientID:  row.PatientID,
		Name:       row.Name,
		Phone:      row.Phone,
		State:      row.State,
		Attempts:   row.Attempts,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func toCallModel(call models.CallRecord) *callModel {
	transcript, _ := json.Marshal(call.Transcript)
	answers, _ := json.Marshal(call.Answers)
	return &callModel{
		ID:             call.ID,
		CampaignID:     call.CampaignID,
		ContactID:      call.ContactID,
		PatientID:      call.PatientID,
		ProviderCallID: call.ProviderCallID,
		Status:         call.Status,
		Outcome:        string(call.Outcome),
		Transcript:     datatypes.JSON(transcript),
		Summary:        call.Summary,
		Answers:        datatypes.JSON(answers),
		Redactions:     call.Redactions,
		DurationSecs:   call.DurationSecs,
		StartedAt:      call.StartedAt,
		EndedAt:        call.EndedAt,
	}
}

func fromCallModel(row *callModel) models.CallRecord {
	call := models.CallRecord{
		ID:             row.ID,
		CampaignID:     row.CampaignID,
		ContactID:      row.ContactID,
		PatientID:      row.PatientID,
		ProviderCallID: row.ProviderCallID,
		Status:         row.Status,
		Outcome:        models.CallOutcome(row.Outcome),
		Summary:        row.Summary,
		Redactions:     row.Redactions,
		DurationSecs:   row.DurationSecs,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
	}
	if len(row.Transcript) > 0 {
		_ = json.Unmarshal(row.Transcript, &call.Transcript)
	}
	if len(row.Answers) > 0 {
		_ = json.Unmarshal(row.Answers, &call.Answers)
	}
	return call
}
