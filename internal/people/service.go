// Package people implements the person lifecycle: enrollment, auto-stubs,
// caregiver confirmation, updates and deletion across the face and person
// stores, plus the status-gated views the patient side is allowed to see.
package people

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
)

var (
	// ErrInconsistentStores is returned when a write reached one store but
	// not the other. The caller must treat the person as needing repair:
	// retry Confirm for a failed confirm, Update with a new image for a
	// failed face swap, or Delete again for a partial delete.
	ErrInconsistentStores = errors.New("face and person stores are inconsistent")
	// ErrNotConfirmed is returned for operations that require a confirmed person.
	ErrNotConfirmed = errors.New("person is not confirmed")
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyTranscript is returned when a recording transcribes to nothing.
	ErrEmptyTranscript = errors.New("could not transcribe audio")
	// ErrSpeechUnavailable is returned when no speech provider is configured.
	ErrSpeechUnavailable = errors.New("speech provider not configured")
)

// TextAssistant is the subset of *ai.Assistant the lifecycle needs.
type TextAssistant interface {
	CueText(ctx context.Context, req ai.CueRequest) (string, error)
	Summarize(ctx context.Context, transcript string) (*ai.MemorySummary, error)
	Condense(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, languageName string) (string, error)
}

// Deps wires the service to its stores and collaborators. Text, Speech and
// Thumbnails are optional.
type Deps struct {
	Faces     database.FaceWriter
	Persons   database.PersonWriter
	Memories  database.MemoryWriter
	Extractor embedding.Extractor

	Text       TextAssistant
	Speech     ai.SpeechProvider
	Thumbnails *ThumbnailStore
	Relations  *config.RelationsConfig

	// CacheTTL bounds how long public views stay cached; zero uses the default.
	CacheTTL time.Duration
}

// Service owns every write to person records. Writes for one person are
// serialized by a per-ID lock; different people never contend.
type Service struct {
	faces     database.FaceWriter
	persons   database.PersonWriter
	memories  database.MemoryWriter
	extractor embedding.Extractor

	text      TextAssistant
	speech    ai.SpeechProvider
	thumbs    *ThumbnailStore
	relations *config.RelationsConfig

	locks    *keyedMutex
	cache    *ristretto.Cache[string, any]
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService creates a lifecycle service.
func NewService(d Deps) (*Service, error) {
	if d.Faces == nil || d.Persons == nil || d.Memories == nil {
		return nil, errors.New("people: face, person and memory stores are required")
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = constants.ContextCacheTTL
	}
	relations := d.Relations
	if relations == nil {
		relations = &config.RelationsConfig{}
	}
	return &Service{
		faces:     d.Faces,
		persons:   d.Persons,
		memories:  d.Memories,
		extractor: d.Extractor,
		text:      d.Text,
		speech:    d.Speech,
		thumbs:    d.Thumbnails,
		relations: relations,
		locks:     newKeyedMutex(),
		cache:     cache,
		cacheTTL:  ttl,
		now:       time.Now,
	}, nil
}

// Close releases the cache goroutines.
func (s *Service) Close() {
	s.cache.Close()
}

// Thumbnails returns the thumbnail store, or nil when thumbnails are disabled.
func (s *Service) Thumbnails() *ThumbnailStore {
	return s.thumbs
}

// invalidate drops every cached view of a person. Must be called with the
// person's lock held.
func (s *Service) invalidate(personID string) {
	s.cache.Del(publicKey(personID))
	for lang := range s.relations.Languages {
		s.cache.Del(hudKey(personID, lang))
	}
	s.cache.Del(hudKey(personID, defaultLanguage))
}

func publicKey(personID string) string { return "public:" + personID }

func hudKey(personID, lang string) string { return "hud:" + lang + ":" + personID }

// shortID keeps log lines readable without printing full identifiers.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func logBestEffort(op, personID string, err error) {
	if err != nil {
		log.Printf("people: %s for %s failed: %v", op, shortID(personID), err)
	}
}
