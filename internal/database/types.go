package database

import (
	"errors"
	"time"
)

// PersonStatus is the lifecycle state of a person record.
// The only permitted transition is temporary -> confirmed.
type PersonStatus string

const (
	PersonStatusTemporary PersonStatus = "temporary"
	PersonStatusConfirmed PersonStatus = "confirmed"
)

// Valid reports whether s is a known status.
func (s PersonStatus) Valid() bool {
	return s == PersonStatusTemporary || s == PersonStatusConfirmed
}

var (
	// ErrPersonNotFound is returned when no person exists for an ID.
	ErrPersonNotFound = errors.New("person not found")
	// ErrAlreadyConfirmed is returned when confirming a person that is not temporary.
	ErrAlreadyConfirmed = errors.New("person already confirmed")
)

// Person is the metadata record of a known or auto-stubbed individual.
// Name, Relation and ContextualNote are empty while the person is temporary.
type Person struct {
	ID               string       `json:"id"`
	Status           PersonStatus `json:"status"`
	Name             string       `json:"name,omitempty"`
	Relation         string       `json:"relation,omitempty"`
	ContextualNote   string       `json:"contextual_note,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ConfirmedAt      *time.Time   `json:"confirmed_at,omitempty"`
	LastSeenAt       *time.Time   `json:"last_seen_at,omitempty"`
	FamiliarityScore float64      `json:"familiarity_score"`
	InteractionCount int          `json:"interaction_count"`
}

// IsConfirmed reports whether the person has been confirmed by a caregiver.
func (p *Person) IsConfirmed() bool {
	return p.Status == PersonStatusConfirmed
}

// StoredFace represents a face embedding stored in the similarity store.
type StoredFace struct {
	ID        int64
	PersonID  string
	Status    PersonStatus
	Embedding []float32
	CreatedAt time.Time
}

// FaceMatch is a single similarity search hit.
type FaceMatch struct {
	PersonID   string
	Status     PersonStatus
	Similarity float64 // cosine similarity in [-1, 1]
}

// Memory is a summarized conversation attached to a person.
type Memory struct {
	ID             string    `json:"id"`
	PersonID       string    `json:"person_id"`
	Summary        string    `json:"summary"`
	EmotionalTone  string    `json:"emotional_tone"`
	ImportantEvent string    `json:"important_event,omitempty"`
	Transcript     string    `json:"raw_transcript,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
