package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/people"
)

// CaregiverHandler serves the caregiver panel endpoints.
type CaregiverHandler struct {
	people *people.Service
}

// NewCaregiverHandler creates a new caregiver handler
func NewCaregiverHandler(svc *people.Service) *CaregiverHandler {
	return &CaregiverHandler{people: svc}
}

func faceImageURL(personID string) string {
	return "/api/v1/caregiver/face-image/" + personID
}

// PendingPersonResponse is one entry of GET /caregiver/pending.
type PendingPersonResponse struct {
	PersonID          string     `json:"person_id"`
	FaceImageURL      string     `json:"face_image_url"`
	InteractionCount  int        `json:"interaction_count"`
	LastMemorySummary string     `json:"last_memory_summary,omitempty"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
}

// Pending lists temporary persons awaiting confirmation.
func (h *CaregiverHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.people.ListPending(r.Context())
	if err != nil {
		respondServiceError(w, "list pending", err)
		return
	}
	out := make([]PendingPersonResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingPersonResponse{
			PersonID:          p.ID,
			FaceImageURL:      faceImageURL(p.ID),
			InteractionCount:  p.InteractionCount,
			LastMemorySummary: p.LastMemorySummary,
			LastSeen:          p.LastSeenAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending_people": out})
}

// ConfirmedPersonResponse is one entry of GET /caregiver/confirmed.
type ConfirmedPersonResponse struct {
	PersonID         string  `json:"person_id"`
	Name             string  `json:"name"`
	Relation         string  `json:"relation"`
	ContextualNote   string  `json:"contextual_note,omitempty"`
	FaceImageURL     string  `json:"face_image_url"`
	FamiliarityScore float64 `json:"familiarity_score"`
}

// Confirmed lists confirmed persons.
func (h *CaregiverHandler) Confirmed(w http.ResponseWriter, r *http.Request) {
	confirmed, err := h.people.ListConfirmed(r.Context())
	if err != nil {
		respondServiceError(w, "list confirmed", err)
		return
	}
	out := make([]ConfirmedPersonResponse, 0, len(confirmed))
	for _, p := range confirmed {
		out = append(out, ConfirmedPersonResponse{
			PersonID:         p.ID,
			Name:             p.Name,
			Relation:         p.Relation,
			ContextualNote:   p.ContextualNote,
			FaceImageURL:     faceImageURL(p.ID),
			FamiliarityScore: p.FamiliarityScore,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"confirmed_people": out})
}

// PersonResponse reports a caregiver write.
type PersonResponse struct {
	Status   string `json:"status"`
	PersonID string `json:"person_id"`
	Name     string `json:"name,omitempty"`
	Relation string `json:"relation,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ConfirmRequest is the body of POST /caregiver/confirm.
type ConfirmRequest struct {
	PersonID       string `json:"person_id"`
	Name           string `json:"name"`
	Relation       string `json:"relation"`
	ContextualNote string `json:"contextual_note"`
}

// Confirm attaches an identity to a temporary person.
func (h *CaregiverHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PersonID == "" {
		respondError(w, http.StatusBadRequest, "person_id is required")
		return
	}

	view, err := h.people.Confirm(r.Context(), req.PersonID, people.ConfirmRequest{
		Name:     req.Name,
		Relation: req.Relation,
		Note:     req.ContextualNote,
	})
	if err != nil {
		respondServiceError(w, "confirm", err)
		return
	}
	log.Printf("Confirmed person %s", sanitizeForLog(view.ID))
	respondJSON(w, http.StatusOK, PersonResponse{
		Status:   "confirmed",
		PersonID: view.ID,
		Name:     view.Name,
		Relation: view.Relation,
		Message:  fmt.Sprintf("Person '%s' is now confirmed as '%s'", view.ID, view.Name),
	})
}

// EnrollRequest is the body of POST /caregiver/enroll.
type EnrollRequest struct {
	Name           string `json:"name"`
	Relation       string `json:"relation"`
	ImageBase64    string `json:"image_base64"`
	ContextualNote string `json:"contextual_note"`
}

// Enroll creates a confirmed person from a photo.
func (h *CaregiverHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	image, err := embedding.DecodeImagePayload(req.ImageBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image data")
		return
	}

	view, err := h.people.Enroll(r.Context(), people.EnrollRequest{
		Image:    image,
		Name:     req.Name,
		Relation: req.Relation,
		Note:     req.ContextualNote,
	})
	if err != nil {
		respondServiceError(w, "enroll", err)
		return
	}
	respondJSON(w, http.StatusOK, PersonResponse{
		Status:   "enrolled",
		PersonID: view.ID,
		Name:     view.Name,
		Relation: view.Relation,
		Message:  fmt.Sprintf("Successfully enrolled %s (%s)", view.Name, view.Relation),
	})
}

// UpdatePersonRequest is the body of PUT /caregiver/person/{id}. Absent
// fields are left unchanged.
type UpdatePersonRequest struct {
	Name           *string `json:"name"`
	Relation       *string `json:"relation"`
	ContextualNote *string `json:"contextual_note"`
	ImageBase64    string  `json:"image_base64"`
}

// UpdatePerson edits a confirmed person.
func (h *CaregiverHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	var req UpdatePersonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update := people.UpdateRequest{Name: req.Name, Relation: req.Relation, Note: req.ContextualNote}
	if req.ImageBase64 != "" {
		image, err := embedding.DecodeImagePayload(req.ImageBase64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid image data")
			return
		}
		update.Image = image
	}

	view, err := h.people.Update(r.Context(), personID, update)
	if err != nil {
		respondServiceError(w, "update", err)
		return
	}
	respondJSON(w, http.StatusOK, PersonResponse{
		Status:   "updated",
		PersonID: view.ID,
		Name:     view.Name,
		Relation: view.Relation,
	})
}

// DeletePerson removes a person from every store.
func (h *CaregiverHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	if err := h.people.Delete(r.Context(), personID); err != nil {
		respondServiceError(w, "delete", err)
		return
	}
	log.Printf("Deleted person %s", sanitizeForLog(personID))
	respondJSON(w, http.StatusOK, PersonResponse{Status: "deleted", PersonID: personID})
}

// Memories lists the latest memories of a confirmed person (?limit=).
func (h *CaregiverHandler) Memories(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	memories, err := h.people.Memories(r.Context(), personID, limit)
	if err != nil {
		respondServiceError(w, "list memories", err)
		return
	}
	if memories == nil {
		memories = []database.Memory{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

// FaceImage serves the stored thumbnail, or a placeholder SVG.
func (h *CaregiverHandler) FaceImage(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	if thumbs := h.people.Thumbnails(); thumbs != nil {
		data, err := thumbs.Load(personID)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "image/jpeg")
			w.Header().Set("Cache-Control", "public, max-age=3600")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		case errors.Is(err, people.ErrInvalidPersonID):
			respondError(w, http.StatusBadRequest, "invalid person id")
			return
		case !errors.Is(err, os.ErrNotExist):
			log.Printf("Failed to read thumbnail for %s: %v", sanitizeForLog(personID), err)
		}
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(people.PlaceholderSVG(personID))
}

// RebuildIndexResponse represents the response for rebuilding the face index
type RebuildIndexResponse struct {
	Success    bool  `json:"success"`
	FaceCount  int   `json:"face_count"`
	DurationMs int64 `json:"duration_ms"`
}

// RebuildIndex rebuilds the in-memory face HNSW index from the face store
// and persists it when a path is configured.
func (h *CaregiverHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	startTime := time.Now()

	faceRebuilder := database.GetFaceHNSWRebuilder()
	if faceRebuilder == nil || !faceRebuilder.IsHNSWEnabled() {
		respondError(w, http.StatusBadRequest, "face index is not enabled for this backend")
		return
	}
	if err := faceRebuilder.RebuildHNSW(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to rebuild face index: %v", err))
		return
	}
	if err := faceRebuilder.SaveHNSWIndex(); err != nil {
		// The rebuilt index is still usable in memory.
		log.Printf("Warning: failed to save face HNSW index to disk: %v", err)
	}

	respondJSON(w, http.StatusOK, RebuildIndexResponse{
		Success:    true,
		FaceCount:  faceRebuilder.HNSWCount(),
		DurationMs: time.Since(startTime).Milliseconds(),
	})
}
