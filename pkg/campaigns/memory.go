package campaigns

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]models.Campaign
	contacts  map[uuid.UUID]models.CampaignContact
	order     []uuid.UUID
	calls     map[uuid.UUID]models.CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[uuid.UUID]models.Campaign),
		contacts:  make(map[uuid.UUID]models.CampaignContact),
		calls:     make(map[uuid.UUID]models.CallRecord),
	}
}

func (m *MemoryStore) CreateCampaign(ctx context.Context, c models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Contacts = nil
	m.campaigns[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id uuid.UUID) (models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return models.Campaign{}, ErrNotFound
	}
	c.Contacts = m.contactsOf(id)
	return c, nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context, studyID uuid.UUID, limit int) ([]models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		if studyID == uuid.Nil || c.StudyID == studyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateCampaign(ctx context.Context, c models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.campaigns[c.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = c.Name
	existing.Status = c.Status
	existing.Script = c.Script
	existing.LaunchedAt = c.LaunchedAt
	existing.UpdatedAt = c.UpdatedAt
	m.campaigns[c.ID] = existing
	return nil
}

func (m *MemoryStore) AddContacts(ctx context.Context, contacts []models.CampaignContact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, c := range contacts {
		if m.hasPatient(c.CampaignID, c.PatientID) {
			continue
		}
		m.contacts[c.ID] = c
		m.order = append(m.order, c.ID)
		added++
	}
	return added, nil
}

func (m *MemoryStore) GetContact(ctx context.Context, id uuid.UUID) (models.CampaignContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return models.CampaignContact{}, ErrContactNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListContacts(ctx context.Context, campaignID uuid.UUID) ([]models.CampaignContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contactsOf(campaignID), nil
}

func (m *MemoryStore) UpdateContact(ctx context.Context, contact models.CampaignContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contacts[contact.ID]
	if !ok {
		return ErrContactNotFound
	}
	existing.State = contact.State
	existing.Attempts = contact.Attempts
	existing.UpdatedAt = contact.UpdatedAt
	m.contacts[contact.ID] = existing
	return nil
}

func (m *MemoryStore) CreateCall(ctx context.Context, call models.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call.ID] = call
	return nil
}

func (m *MemoryStore) GetCallByProviderID(ctx context.Context, providerCallID string) (models.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, call := range m.calls {
		if call.ProviderCallID == providerCallID {
			return call, nil
		}
	}
	return models.CallRecord{}, ErrCallNotFound
}

func (m *MemoryStore) ListCalls(ctx context.Context, campaignID uuid.UUID) ([]models.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CallRecord
	for _, call := range m.calls {
		if call.CampaignID == campaignID {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateCall(ctx context.Context, call models.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[call.ID]; !ok {
		return ErrCallNotFound
	}
	m.calls[call.ID] = call
	return nil
}

func (m *MemoryStore) contactsOf(campaignID uuid.UUID) []models.CampaignContact {
	var out []models.CampaignContact
	for _, id := range m.order {
		if c := m.contacts[id]; c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryStore) hasPatient(campaignID, patientID uuid.UUID) bool {
	for _, c := range m.contacts {
		if c.CampaignID == campaignID && c.PatientID == patientID {
			return true
		}
	}
	return false
}
