package people

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/cue/internal/database"
)

const defaultLanguage = "en"

// PublicPerson is the only shape in which identity fields leave this
// package. It can only be built from a confirmed record.
type PublicPerson struct {
	ID               string     `json:"person_id"`
	Name             string     `json:"name"`
	Relation         string     `json:"relation"`
	ContextualNote   string     `json:"contextual_note,omitempty"`
	FamiliarityScore float64    `json:"familiarity_score"`
	InteractionCount int        `json:"interaction_count"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
}

func newPublicPerson(p *database.Person) (*PublicPerson, bool) {
	if p == nil || !p.IsConfirmed() {
		return nil, false
	}
	return &PublicPerson{
		ID:               p.ID,
		Name:             p.Name,
		Relation:         p.Relation,
		ContextualNote:   p.ContextualNote,
		FamiliarityScore: p.FamiliarityScore,
		InteractionCount: p.InteractionCount,
		ConfirmedAt:      p.ConfirmedAt,
		LastSeenAt:       p.LastSeenAt,
	}, true
}

// PendingPerson is the caregiver view of a temporary person. It carries no
// identity fields because a temporary person has none.
type PendingPerson struct {
	ID                string     `json:"person_id"`
	InteractionCount  int        `json:"interaction_count"`
	LastMemorySummary string     `json:"last_memory_summary,omitempty"`
	LastSeenAt        *time.Time `json:"last_seen,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// HUD is the patient overlay payload. A zero HUD means nothing may be shown.
type HUD struct {
	Name        string  `json:"name,omitempty"`
	Relation    string  `json:"relation,omitempty"`
	Routine     string  `json:"routine,omitempty"`
	Familiarity float64 `json:"familiarity"`
}

// Context returns the public view of a confirmed person. Unknown persons
// yield database.ErrPersonNotFound, temporary ones ErrNotConfirmed.
func (s *Service) Context(ctx context.Context, personID string) (*PublicPerson, error) {
	if v, ok := s.cache.Get(publicKey(personID)); ok {
		if view, ok := v.(*PublicPerson); ok {
			cp := *view
			return &cp, nil
		}
	}

	// Fill under the person lock so a concurrent confirm, update or delete
	// cannot be overwritten by an older read.
	unlock := s.locks.Lock(personID)
	defer unlock()

	p, err := s.persons.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	view, ok := newPublicPerson(p)
	if !ok {
		return nil, ErrNotConfirmed
	}
	s.cache.SetWithTTL(publicKey(personID), view, 1, s.cacheTTL)
	cp := *view
	return &cp, nil
}

// ListConfirmed returns every confirmed person.
func (s *Service) ListConfirmed(ctx context.Context) ([]PublicPerson, error) {
	persons, err := s.persons.ListPersons(ctx, database.PersonStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed persons: %w", err)
	}
	out := make([]PublicPerson, 0, len(persons))
	for i := range persons {
		if view, ok := newPublicPerson(&persons[i]); ok {
			out = append(out, *view)
		}
	}
	return out, nil
}

// ListPending returns temporary persons waiting for a caregiver, each with
// the summary of its latest memory.
func (s *Service) ListPending(ctx context.Context) ([]PendingPerson, error) {
	persons, err := s.persons.ListPersons(ctx, database.PersonStatusTemporary)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending persons: %w", err)
	}
	out := make([]PendingPerson, 0, len(persons))
	for _, p := range persons {
		if p.IsConfirmed() {
			continue
		}
		pending := PendingPerson{
			ID:               p.ID,
			InteractionCount: p.InteractionCount,
			LastSeenAt:       p.LastSeenAt,
			CreatedAt:        p.CreatedAt,
		}
		if m := s.latestMemory(ctx, p.ID); m != nil {
			pending.LastMemorySummary = m.Summary
		}
		out = append(out, pending)
	}
	return out, nil
}

// FindConfirmedByName looks up a confirmed person by normalized name.
func (s *Service) FindConfirmedByName(ctx context.Context, name string) (*PublicPerson, error) {
	want := NormalizeName(name)
	if want == "" {
		return nil, database.ErrPersonNotFound
	}
	confirmed, err := s.ListConfirmed(ctx)
	if err != nil {
		return nil, err
	}
	for i := range confirmed {
		if NormalizeName(confirmed[i].Name) == want {
			return &confirmed[i], nil
		}
	}
	return nil, database.ErrPersonNotFound
}

// HUDContext builds the overlay payload in the given language. Temporary
// persons get an empty HUD; unknown ones database.ErrPersonNotFound.
func (s *Service) HUDContext(ctx context.Context, personID, lang string) (*HUD, error) {
	if !s.relations.IsSupportedLanguage(lang) {
		lang = defaultLanguage
	}
	if v, ok := s.cache.Get(hudKey(personID, lang)); ok {
		if hud, ok := v.(*HUD); ok {
			cp := *hud
			return &cp, nil
		}
	}

	view, err := s.Context(ctx, personID)
	if errors.Is(err, ErrNotConfirmed) {
		return &HUD{}, nil
	}
	if err != nil {
		return nil, err
	}

	hud := &HUD{
		Name:        view.Name,
		Relation:    s.relations.TranslateRelation(view.Relation, lang),
		Routine:     s.routine(ctx, view.ContextualNote, lang),
		Familiarity: view.FamiliarityScore,
	}

	unlock := s.locks.Lock(personID)
	// Only cache if the person was not changed while the note was condensed.
	if current, err := s.persons.GetPerson(ctx, personID); err == nil && current.IsConfirmed() &&
		current.Name == view.Name && current.Relation == view.Relation && current.ContextualNote == view.ContextualNote {
		s.cache.SetWithTTL(hudKey(personID, lang), hud, 1, s.cacheTTL)
	}
	unlock()

	cp := *hud
	return &cp, nil
}

// routine condenses the contextual note and translates it. Failures fall
// back to the untouched note.
func (s *Service) routine(ctx context.Context, note, lang string) string {
	if note == "" || s.text == nil {
		return note
	}
	out, err := s.text.Condense(ctx, note)
	if err != nil || out == "" {
		if err != nil {
			log.Printf("people: condensing note failed: %v", err)
		}
		out = note
	}
	if lang == defaultLanguage {
		return out
	}
	info := s.relations.Languages[lang]
	translated, err := s.text.Translate(ctx, out, info.Name)
	if err != nil || translated == "" {
		if err != nil {
			log.Printf("people: translating note to %s failed: %v", lang, err)
		}
		return out
	}
	return translated
}

func (s *Service) latestMemory(ctx context.Context, personID string) *database.Memory {
	mems, err := s.memories.ListMemories(ctx, personID, 1)
	if err != nil {
		logBestEffort("memory lookup", personID, err)
		return nil
	}
	if len(mems) == 0 {
		return nil
	}
	return &mems[0]
}
