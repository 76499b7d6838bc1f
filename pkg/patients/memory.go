package patients

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

// MemoryStore is an in-process Store. Records are copied in and out so
// callers never share slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	order []uuid.UUID
	byID  map[uuid.UUID]models.Patient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]models.Patient)}
}

func (m *MemoryStore) CreateBatch(ctx context.Context, patients []models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range patients {
		if _, exists := m.byID[p.ID]; !exists {
			m.order = append(m.order, p.ID)
		}
		m.byID[p.ID] = clonePatient(p)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (models.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return models.Patient{}, ErrNotFound
	}
	return clonePatient(p), nil
}

func (m *MemoryStore) Update(ctx context.Context, patient models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[patient.ID]; !ok {
		return ErrNotFound
	}
	m.byID[patient.ID] = clonePatient(patient)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]models.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Patient
	for _, id := range m.order {
		p := m.byID[id]
		if !filter.matches(p) {
			continue
		}
		out = append(out, clonePatient(p))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func clonePatient(p models.Patient) models.Patient {
	p.Conditions = append([]string(nil), p.Conditions...)
	p.Medications = append([]string(nil), p.Medications...)
	p.CriteriaMatches = append([]models.CriterionMatch{}, p.CriteriaMatches...)
	if p.ConditionCodes != nil {
		codes := make(map[string]string, len(p.ConditionCodes))
		for k, v := range p.ConditionCodes {
			codes[k] = v
		}
		p.ConditionCodes = codes
	}
	if p.MMSEScore != nil {
		score := *p.MMSEScore
		p.MMSEScore = &score
	}
	if p.ScreenedAt != nil {
		at := *p.ScreenedAt
		p.ScreenedAt = &at
	}
	return p
}
