package database

import (
	"context"
	"time"
)

// FaceReader provides read-only access to face embeddings
type FaceReader interface {
	// FindSimilar returns the nearest faces to the embedding, best first.
	// An empty store yields an empty result, not an error.
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]FaceMatch, error)
	// Count returns the total number of faces stored
	Count(ctx context.Context) (int, error)
}

// FaceWriter provides write access to face embeddings
type FaceWriter interface {
	FaceReader

	// SaveFace stores an additional embedding for a person
	SaveFace(ctx context.Context, personID string, status PersonStatus, embedding []float32) error
	// UpdateStatus rewrites the status attribute of every embedding of a person
	UpdateStatus(ctx context.Context, personID string, status PersonStatus) error
	// DeleteFaces removes every embedding of a person. Deleting an unknown
	// person is not an error.
	DeleteFaces(ctx context.Context, personID string) error
}

// PersonReader provides read-only access to person metadata
type PersonReader interface {
	// GetPerson returns ErrPersonNotFound when the ID is unknown
	GetPerson(ctx context.Context, id string) (*Person, error)
	// ListPersons returns all persons with the given status, newest first
	ListPersons(ctx context.Context, status PersonStatus) ([]Person, error)
}

// PersonWriter provides write access to person metadata
type PersonWriter interface {
	PersonReader

	// CreatePerson inserts a new record
	CreatePerson(ctx context.Context, p *Person) error
	// UpdatePerson overwrites name, relation and contextual note
	UpdatePerson(ctx context.Context, p *Person) error
	// ConfirmPerson atomically moves a temporary person to confirmed and sets
	// the identity fields. Returns ErrAlreadyConfirmed if the person is not temporary.
	ConfirmPerson(ctx context.Context, id, name, relation, note string, at time.Time) (*Person, error)
	// DeletePerson removes the record. Returns ErrPersonNotFound when unknown.
	DeletePerson(ctx context.Context, id string) error
	// TouchLastSeen records a sighting and increments the interaction count
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	// IncrementFamiliarity adds delta to the familiarity score, capped at 1
	IncrementFamiliarity(ctx context.Context, id string, delta float64) error
}

// MemoryReader provides read-only access to conversation memories
type MemoryReader interface {
	// ListMemories returns up to limit memories for a person, newest first
	ListMemories(ctx context.Context, personID string, limit int) ([]Memory, error)
}

// MemoryWriter provides write access to conversation memories
type MemoryWriter interface {
	MemoryReader

	SaveMemory(ctx context.Context, m *Memory) error
	// DeleteMemories removes all memories of a person
	DeleteMemories(ctx context.Context, personID string) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
