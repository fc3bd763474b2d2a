// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/cue/internal/database"
)

// MockFaceStore is an in-memory database.FaceWriter with exact cosine search.
type MockFaceStore struct {
	mu     sync.RWMutex
	faces  []database.StoredFace
	nextID int64

	// Error injection
	FindSimilarError  error
	SaveFaceError     error
	UpdateStatusError error
	DeleteFacesError  error
	CountError        error

	// FindSimilarCalls counts searches, including failed ones.
	FindSimilarCalls int
}

// NewMockFaceStore creates a new mock face store
func NewMockFaceStore() *MockFaceStore {
	return &MockFaceStore{}
}

// AddFace adds a face directly, bypassing error injection
func (m *MockFaceStore) AddFace(personID string, status database.PersonStatus, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.faces = append(m.faces, database.StoredFace{
		ID:        m.nextID,
		PersonID:  personID,
		Status:    status,
		Embedding: embedding,
		CreatedAt: time.Now(),
	})
}

// Faces returns a copy of all stored faces of a person
func (m *MockFaceStore) Faces(personID string) []database.StoredFace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredFace
	for _, f := range m.faces {
		if f.PersonID == personID {
			out = append(out, f)
		}
	}
	return out
}

// FindSimilar ranks every stored face by cosine similarity
func (m *MockFaceStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.FaceMatch, error) {
	m.mu.Lock()
	m.FindSimilarCalls++
	m.mu.Unlock()
	if m.FindSimilarError != nil {
		return nil, m.FindSimilarError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]database.FaceMatch, 0, len(m.faces))
	for _, f := range m.faces {
		matches = append(matches, database.FaceMatch{
			PersonID:   f.PersonID,
			Status:     f.Status,
			Similarity: database.CosineSimilarity(embedding, f.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Count returns the number of stored faces
func (m *MockFaceStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

// SaveFace stores a face
func (m *MockFaceStore) SaveFace(ctx context.Context, personID string, status database.PersonStatus, embedding []float32) error {
	if m.SaveFaceError != nil {
		return m.SaveFaceError
	}
	m.AddFace(personID, status, embedding)
	return nil
}

// UpdateStatus rewrites the status of a person's faces
func (m *MockFaceStore) UpdateStatus(ctx context.Context, personID string, status database.PersonStatus) error {
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.faces {
		if m.faces[i].PersonID == personID {
			m.faces[i].Status = status
		}
	}
	return nil
}

// DeleteFaces removes a person's faces
func (m *MockFaceStore) DeleteFaces(ctx context.Context, personID string) error {
	if m.DeleteFacesError != nil {
		return m.DeleteFacesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.faces[:0]
	for _, f := range m.faces {
		if f.PersonID != personID {
			kept = append(kept, f)
		}
	}
	m.faces = kept
	return nil
}

// Ping always succeeds unless CountError is set
func (m *MockFaceStore) Ping(ctx context.Context) error {
	return m.CountError
}

// MockPersonStore is an in-memory database.PersonWriter
type MockPersonStore struct {
	mu      sync.RWMutex
	persons map[string]*database.Person

	// Error injection
	GetError      error
	ListError     error
	CreateError   error
	UpdateError   error
	ConfirmError  error
	DeleteError   error
	TouchError    error
	FamiliarError error
}

// NewMockPersonStore creates a new mock person store
func NewMockPersonStore() *MockPersonStore {
	return &MockPersonStore{persons: make(map[string]*database.Person)}
}

// AddPerson adds a person directly, bypassing error injection
func (m *MockPersonStore) AddPerson(p database.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = &p
}

// Len returns the number of stored persons
func (m *MockPersonStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.persons)
}

// GetPerson returns a copy of the person
func (m *MockPersonStore) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, database.ErrPersonNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPersons returns persons with the given status, newest first
func (m *MockPersonStore) ListPersons(ctx context.Context, status database.PersonStatus) ([]database.Person, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Person
	for _, p := range m.persons {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreatePerson inserts a person
func (m *MockPersonStore) CreatePerson(ctx context.Context, p *database.Person) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[p.ID]; ok {
		return fmt.Errorf("person %s already exists", p.ID)
	}
	cp := *p
	m.persons[p.ID] = &cp
	return nil
}

// UpdatePerson overwrites the identity fields
func (m *MockPersonStore) UpdatePerson(ctx context.Context, p *database.Person) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.persons[p.ID]
	if !ok {
		return database.ErrPersonNotFound
	}
	cur.Name = p.Name
	cur.Relation = p.Relation
	cur.ContextualNote = p.ContextualNote
	return nil
}

// ConfirmPerson moves a temporary person to confirmed
func (m *MockPersonStore) ConfirmPerson(
	ctx context.Context, id, name, relation, note string, at time.Time,
) (*database.Person, error) {
	if m.ConfirmError != nil {
		return nil, m.ConfirmError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, database.ErrPersonNotFound
	}
	if p.Status != database.PersonStatusTemporary {
		return nil, database.ErrAlreadyConfirmed
	}
	p.Status = database.PersonStatusConfirmed
	p.Name = name
	p.Relation = relation
	p.ContextualNote = note
	p.ConfirmedAt = &at
	cp := *p
	return &cp, nil
}

// DeletePerson removes a person
func (m *MockPersonStore) DeletePerson(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[id]; !ok {
		return database.ErrPersonNotFound
	}
	delete(m.persons, id)
	return nil
}

// TouchLastSeen records a sighting
func (m *MockPersonStore) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if m.TouchError != nil {
		return m.TouchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return database.ErrPersonNotFound
	}
	p.LastSeenAt = &at
	p.InteractionCount++
	return nil
}

// IncrementFamiliarity adds delta to the familiarity score, capped at 1
func (m *MockPersonStore) IncrementFamiliarity(ctx context.Context, id string, delta float64) error {
	if m.FamiliarError != nil {
		return m.FamiliarError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return database.ErrPersonNotFound
	}
	p.FamiliarityScore = min(1.0, p.FamiliarityScore+delta)
	return nil
}

// MockMemoryStore is an in-memory database.MemoryWriter
type MockMemoryStore struct {
	mu       sync.RWMutex
	memories []database.Memory

	// Error injection
	SaveError   error
	ListError   error
	DeleteError error
}

// NewMockMemoryStore creates a new mock memory store
func NewMockMemoryStore() *MockMemoryStore {
	return &MockMemoryStore{}
}

// SaveMemory stores a memory
func (m *MockMemoryStore) SaveMemory(ctx context.Context, mem *database.Memory) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories = append(m.memories, *mem)
	return nil
}

// ListMemories returns up to limit memories, newest first
func (m *MockMemoryStore) ListMemories(ctx context.Context, personID string, limit int) ([]database.Memory, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Memory
	for _, mem := range m.memories {
		if mem.PersonID == personID {
			out = append(out, mem)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteMemories removes a person's memories
func (m *MockMemoryStore) DeleteMemories(ctx context.Context, personID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.memories[:0]
	for _, mem := range m.memories {
		if mem.PersonID != personID {
			kept = append(kept, mem)
		}
	}
	m.memories = kept
	return nil
}
