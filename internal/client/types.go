package client

import "time"

// RecognizeRequest is the body of POST /recognize-face.
type RecognizeRequest struct {
	ImagesBase64 []string `json:"images_base64"`
}

// HUDRequest is the body of POST /hud-context.
type HUDRequest struct {
	PersonID string `json:"person_id"`
	Status   string `json:"status"`
}

// HUD is the overlay payload. Empty fields mean nothing may be shown.
type HUD struct {
	Name        string  `json:"name,omitempty"`
	Relation    string  `json:"relation,omitempty"`
	Routine     string  `json:"routine,omitempty"`
	Familiarity float64 `json:"familiarity"`
	Speak       bool    `json:"speak"`
}

// Whisper is the response of GET /whisper/{id}.
type Whisper struct {
	AudioURL string `json:"audio_url,omitempty"`
	Text     string `json:"text,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// MemorySaveRequest is the body of POST /memory/save.
type MemorySaveRequest struct {
	PersonID    string `json:"person_id"`
	AudioBase64 string `json:"audio_base64"`
}

// MemorySaveResponse reports a stored memory.
type MemorySaveResponse struct {
	Status        string `json:"status"`
	MemoryID      string `json:"memory_id"`
	Summary       string `json:"summary"`
	EmotionalTone string `json:"emotional_tone"`
}

// Health is the response of GET /health.
type Health struct {
	Status  string            `json:"status"`
	Backend string            `json:"backend,omitempty"`
	Stores  map[string]string `json:"stores,omitempty"`
}

// PendingPerson is a temporary person awaiting review.
type PendingPerson struct {
	PersonID          string     `json:"person_id"`
	FaceImageURL      string     `json:"face_image_url"`
	InteractionCount  int        `json:"interaction_count"`
	LastMemorySummary string     `json:"last_memory_summary,omitempty"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
}

// ConfirmedPerson is a caregiver-verified person.
type ConfirmedPerson struct {
	PersonID         string  `json:"person_id"`
	Name             string  `json:"name"`
	Relation         string  `json:"relation"`
	ContextualNote   string  `json:"contextual_note,omitempty"`
	FaceImageURL     string  `json:"face_image_url"`
	FamiliarityScore float64 `json:"familiarity_score"`
}

// ConfirmRequest is the body of POST /caregiver/confirm.
type ConfirmRequest struct {
	PersonID       string `json:"person_id"`
	Name           string `json:"name"`
	Relation       string `json:"relation"`
	ContextualNote string `json:"contextual_note,omitempty"`
}

// EnrollRequest is the body of POST /caregiver/enroll.
type EnrollRequest struct {
	Name           string `json:"name"`
	Relation       string `json:"relation"`
	ImageBase64    string `json:"image_base64"`
	ContextualNote string `json:"contextual_note,omitempty"`
}

// UpdateRequest is the body of PUT /caregiver/person/{id}. Nil fields are kept.
type UpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Relation       *string `json:"relation,omitempty"`
	ContextualNote *string `json:"contextual_note,omitempty"`
	ImageBase64    string  `json:"image_base64,omitempty"`
}

// PersonResponse reports a caregiver write.
type PersonResponse struct {
	Status   string `json:"status"`
	PersonID string `json:"person_id"`
	Name     string `json:"name,omitempty"`
	Relation string `json:"relation,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RebuildResponse reports an index rebuild.
type RebuildResponse struct {
	Success    bool  `json:"success"`
	FaceCount  int   `json:"face_count"`
	DurationMs int64 `json:"duration_ms"`
}
