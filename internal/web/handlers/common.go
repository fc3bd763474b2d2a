package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/people"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

const (
	errPersonNotFound  = "Person not found"
	errNoFaceInImage   = "No face detected in the image. Please upload a clear photo of the face."
	errCouldNotHearYou = "Could not transcribe audio. Please try again."
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body. It writes the error response
// itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// respondServiceError maps lifecycle errors onto status codes. Unexpected
// errors are logged and hidden behind a generic message.
func respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, database.ErrPersonNotFound), errors.Is(err, people.ErrNotConfirmed):
		respondError(w, http.StatusNotFound, errPersonNotFound)
	case errors.Is(err, database.ErrAlreadyConfirmed):
		respondError(w, http.StatusBadRequest, "Person is already confirmed")
	case errors.Is(err, embedding.ErrNoFaceFound):
		respondError(w, http.StatusBadRequest, errNoFaceInImage)
	case errors.Is(err, people.ErrEmptyTranscript):
		respondError(w, http.StatusBadRequest, errCouldNotHearYou)
	case errors.Is(err, people.ErrInvalidInput), errors.Is(err, people.ErrInvalidPersonID):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, people.ErrSpeechUnavailable):
		respondError(w, http.StatusServiceUnavailable, "speech service is not configured")
	case errors.Is(err, people.ErrInconsistentStores):
		log.Printf("%s: stores need repair: %v", op, err)
		respondError(w, http.StatusInternalServerError, "stores are inconsistent, the person needs repair")
	default:
		log.Printf("%s failed: %v", op, err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBase64List decodes a list of base64 images, skipping empty entries.
func decodeBase64List(values []string) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		data, err := embedding.DecodeImagePayload(v)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
