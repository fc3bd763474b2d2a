package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/people"
	"github.com/kozaktomas/cue/internal/recognition"
)

// Recognizer resolves a capture batch to a person.
type Recognizer interface {
	Resolve(ctx context.Context, frames [][]byte) (*recognition.Result, error)
}

// PatientHandler serves the endpoints used by the patient session daemon.
type PatientHandler struct {
	people   *people.Service
	resolver Recognizer
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(svc *people.Service, resolver Recognizer) *PatientHandler {
	return &PatientHandler{people: svc, resolver: resolver}
}

// RecognizeFaceRequest is the body of POST /recognize-face.
type RecognizeFaceRequest struct {
	ImagesBase64 []string `json:"images_base64"`
}

// RecognizeFace resolves a capture batch.
func (h *PatientHandler) RecognizeFace(w http.ResponseWriter, r *http.Request) {
	var req RecognizeFaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.ImagesBase64) > constants.MaxFramesPerRequest {
		respondError(w, http.StatusBadRequest, "too many images")
		return
	}
	frames, err := decodeBase64List(req.ImagesBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image data")
		return
	}
	if len(frames) == 0 {
		respondError(w, http.StatusBadRequest, "No images provided")
		return
	}

	result, err := h.resolver.Resolve(r.Context(), frames)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFrames) {
			respondError(w, http.StatusBadRequest, "No images provided")
			return
		}
		log.Printf("recognize-face failed: %v", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HUDContextRequest is the body of POST /hud-context.
type HUDContextRequest struct {
	PersonID string `json:"person_id"`
	Status   string `json:"status"`
}

// HUDContextResponse is the overlay payload. Speak is always false: the
// overlay never talks on its own.
type HUDContextResponse struct {
	Name        string  `json:"name,omitempty"`
	Relation    string  `json:"relation,omitempty"`
	Routine     string  `json:"routine,omitempty"`
	Familiarity float64 `json:"familiarity"`
	Speak       bool    `json:"speak"`
}

// HUDContext returns display fields for a confirmed person in ?lang=.
func (h *PatientHandler) HUDContext(w http.ResponseWriter, r *http.Request) {
	var req HUDContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PersonID = strings.TrimSpace(req.PersonID)
	if req.PersonID == "" {
		respondError(w, http.StatusBadRequest, "person_id is required")
		return
	}
	if database.PersonStatus(req.Status) == database.PersonStatusTemporary {
		respondJSON(w, http.StatusOK, HUDContextResponse{})
		return
	}

	hud, err := h.people.HUDContext(r.Context(), req.PersonID, r.URL.Query().Get("lang"))
	if err != nil {
		respondServiceError(w, "hud-context", err)
		return
	}
	respondJSON(w, http.StatusOK, HUDContextResponse{
		Name:        hud.Name,
		Relation:    hud.Relation,
		Routine:     hud.Routine,
		Familiarity: hud.Familiarity,
	})
}

// WhisperResponse carries the cue audio as a data URI, or the reason there is none.
type WhisperResponse struct {
	AudioURL string `json:"audio_url,omitempty"`
	Text     string `json:"text,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Whisper returns the spoken cue for a person. It always answers 200.
func (h *PatientHandler) Whisper(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personId")
	cue := h.people.Cue(r.Context(), personID)
	if len(cue.Audio) == 0 {
		respondJSON(w, http.StatusOK, WhisperResponse{Text: cue.Text, Reason: cue.Reason})
		return
	}
	respondJSON(w, http.StatusOK, WhisperResponse{
		AudioURL: embedding.EncodeDataURI("audio/mpeg", cue.Audio),
		Text:     cue.Text,
	})
}

// SaveMemoryRequest is the body of POST /memory/save.
type SaveMemoryRequest struct {
	PersonID    string `json:"person_id"`
	AudioBase64 string `json:"audio_base64"`
}

// SaveMemoryResponse reports a stored memory.
type SaveMemoryResponse struct {
	Status        string `json:"status"`
	MemoryID      string `json:"memory_id"`
	Summary       string `json:"summary"`
	EmotionalTone string `json:"emotional_tone"`
}

// SaveMemory transcribes and stores a visit recording.
func (h *PatientHandler) SaveMemory(w http.ResponseWriter, r *http.Request) {
	var req SaveMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PersonID) == "" || req.AudioBase64 == "" {
		respondError(w, http.StatusBadRequest, "person_id and audio_base64 are required")
		return
	}
	audio, err := embedding.DecodeImagePayload(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid audio data")
		return
	}

	mem, err := h.people.SaveMemory(r.Context(), req.PersonID, audio, audioFilename(audio))
	if err != nil {
		respondServiceError(w, "memory save", err)
		return
	}
	respondJSON(w, http.StatusOK, SaveMemoryResponse{
		Status:        "saved",
		MemoryID:      mem.ID,
		Summary:       mem.Summary,
		EmotionalTone: mem.EmotionalTone,
	})
}

// audioFilename picks a filename whose extension the transcription API
// accepts. Browser recordings default to webm.
func audioFilename(audio []byte) string {
	switch ct := http.DetectContentType(audio); {
	case strings.HasPrefix(ct, "audio/mpeg"):
		return "memory.mp3"
	case strings.HasPrefix(ct, "audio/wave"):
		return "memory.wav"
	case strings.HasPrefix(ct, "application/ogg"):
		return "memory.ogg"
	default:
		return "memory.webm"
	}
}
