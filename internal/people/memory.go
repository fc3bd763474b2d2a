package people

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
)

// Reasons reported when a cue has no audio.
const (
	CueReasonPersonNotFound   = "person_not_found"
	CueReasonGenerationFailed = "generation_failed"
	CueReasonTTSFailed        = "tts_failed"
)

// Cue is a spoken reminder. Audio is nil when it could not be produced;
// Reason then says why.
type Cue struct {
	Audio  []byte
	Text   string
	Reason string
}

// SaveMemory transcribes a recording made during a visit, summarizes it and
// attaches it to the person.
func (s *Service) SaveMemory(ctx context.Context, personID string, audio []byte, filename string) (*database.Memory, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: audio is required", ErrInvalidInput)
	}
	if _, err := s.persons.GetPerson(ctx, personID); err != nil {
		return nil, err
	}
	if s.speech == nil {
		return nil, ErrSpeechUnavailable
	}

	transcript, err := s.speech.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	summary := ai.FallbackSummary()
	if s.text != nil {
		if sum, err := s.text.Summarize(ctx, transcript); err != nil {
			log.Printf("people: summarizing memory for %s failed: %v", shortID(personID), err)
		} else if sum != nil {
			summary = sum
		}
	}

	m := &database.Memory{
		ID:             uuid.NewString(),
		PersonID:       personID,
		Summary:        summary.Summary,
		EmotionalTone:  summary.EmotionalTone,
		ImportantEvent: summary.ImportantEvent,
		Transcript:     transcript,
		CreatedAt:      s.now(),
	}
	if err := s.memories.SaveMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}

	wctx := context.WithoutCancel(ctx)
	logBestEffort("familiarity update", personID,
		s.persons.IncrementFamiliarity(wctx, personID, constants.FamiliarityIncrement))
	logBestEffort("last seen update", personID, s.persons.TouchLastSeen(wctx, personID, s.now()))

	unlock := s.locks.Lock(personID)
	s.invalidate(personID)
	unlock()

	log.Printf("people: saved memory %s for %s (%s)", shortID(m.ID), shortID(personID), m.EmotionalTone)
	return m, nil
}

// Memories returns up to limit memories of a confirmed person.
func (s *Service) Memories(ctx context.Context, personID string, limit int) ([]database.Memory, error) {
	if _, err := s.Context(ctx, personID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultMemoryLimit
	}
	return s.memories.ListMemories(ctx, personID, limit)
}

// Cue produces the spoken reminder for a confirmed person. It never fails:
// problems are reported through Cue.Reason.
func (s *Service) Cue(ctx context.Context, personID string) *Cue {
	view, err := s.Context(ctx, personID)
	if err != nil {
		if !errors.Is(err, database.ErrPersonNotFound) && !errors.Is(err, ErrNotConfirmed) {
			log.Printf("people: cue lookup for %s failed: %v", shortID(personID), err)
		}
		return &Cue{Reason: CueReasonPersonNotFound}
	}

	req := ai.CueRequest{Name: view.Name, Relation: view.Relation, Note: view.ContextualNote}
	if m := s.latestMemory(ctx, personID); m != nil {
		req.RecentMemory = m.Summary
	}

	text := ai.FallbackCueText(view.Name)
	if s.text != nil {
		if generated, err := s.text.CueText(ctx, req); err != nil {
			log.Printf("people: cue text for %s failed, using fallback: %v", shortID(personID), err)
		} else {
			text = generated
		}
	}
	if strings.TrimSpace(text) == "" {
		return &Cue{Reason: CueReasonGenerationFailed}
	}

	if s.speech == nil {
		return &Cue{Text: text, Reason: CueReasonTTSFailed}
	}
	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil || len(audio) == 0 {
		log.Printf("people: speech synthesis for %s failed: %v", shortID(personID), err)
		return &Cue{Text: text, Reason: CueReasonTTSFailed}
	}
	return &Cue{Audio: audio, Text: text}
}
