package people

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kozaktomas/cue/internal/database"
)

// EnrollRequest carries a caregiver enrollment.
type EnrollRequest struct {
	Image    []byte
	Name     string
	Relation string
	Note     string
}

// ConfirmRequest attaches an identity to a temporary person.
type ConfirmRequest struct {
	Name     string
	Relation string
	Note     string
}

// UpdateRequest changes a confirmed person. Nil fields are left unchanged;
// a non-empty Image replaces the stored embedding.
type UpdateRequest struct {
	Name     *string
	Relation *string
	Note     *string
	Image    []byte
}

// Enroll creates a confirmed person straight from a photo.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*PublicPerson, error) {
	name, relation := cleanField(req.Name), cleanField(req.Relation)
	if name == "" || relation == "" {
		return nil, fmt.Errorf("%w: name and relation are required", ErrInvalidInput)
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	emb, err := s.extract(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &database.Person{
		ID:             uuid.NewString(),
		Status:         database.PersonStatusConfirmed,
		Name:           name,
		Relation:       relation,
		ContextualNote: cleanField(req.Note),
		CreatedAt:      now,
		ConfirmedAt:    &now,
	}
	if err := s.createWithFace(ctx, p, emb); err != nil {
		return nil, err
	}
	s.saveThumbnail(p.ID, req.Image)

	log.Printf("people: enrolled %s (%s)", shortID(p.ID), relation)
	view, _ := newPublicPerson(p)
	return view, nil
}

// CreateTemporary stores an unmatched face as a new temporary person.
func (s *Service) CreateTemporary(ctx context.Context, emb []float32, image []byte) (*database.Person, error) {
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidInput)
	}
	p := &database.Person{
		ID:        uuid.NewString(),
		Status:    database.PersonStatusTemporary,
		CreatedAt: s.now(),
	}
	if err := s.createWithFace(ctx, p, emb); err != nil {
		return nil, err
	}
	if len(image) > 0 {
		s.saveThumbnail(p.ID, image)
	}
	log.Printf("people: created temporary person %s", shortID(p.ID))
	return p, nil
}

// createWithFace writes the person record, then its embedding, and rolls the
// record back if the embedding cannot be stored.
func (s *Service) createWithFace(ctx context.Context, p *database.Person, emb []float32) error {
	if err := s.persons.CreatePerson(ctx, p); err != nil {
		return fmt.Errorf("failed to create person: %w", err)
	}
	if err := s.faces.SaveFace(ctx, p.ID, p.Status, emb); err != nil {
		if rbErr := s.persons.DeletePerson(context.WithoutCancel(ctx), p.ID); rbErr != nil {
			return fmt.Errorf("%w: face not stored (%w), rollback failed: %w", ErrInconsistentStores, err, rbErr)
		}
		return fmt.Errorf("failed to store face: %w", err)
	}
	return nil
}

// Confirm moves a temporary person to confirmed. The embedding is kept and
// its status tag rewritten. Confirming an already confirmed person returns
// ErrAlreadyConfirmed after rewriting the face tag again, which repairs an
// earlier ErrInconsistentStores from Confirm.
func (s *Service) Confirm(ctx context.Context, personID string, req ConfirmRequest) (*PublicPerson, error) {
	name, relation := cleanField(req.Name), cleanField(req.Relation)
	if name == "" || relation == "" {
		return nil, fmt.Errorf("%w: name and relation are required", ErrInvalidInput)
	}

	unlock := s.locks.Lock(personID)
	defer unlock()
	defer s.invalidate(personID)

	p, err := s.persons.ConfirmPerson(ctx, personID, name, relation, cleanField(req.Note), s.now())
	if errors.Is(err, database.ErrAlreadyConfirmed) {
		// Repairs a confirm whose face status update failed earlier.
		if syncErr := s.faces.UpdateStatus(ctx, personID, database.PersonStatusConfirmed); syncErr != nil {
			log.Printf("people: re-sync of face status for %s failed: %v", shortID(personID), syncErr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err := s.faces.UpdateStatus(context.WithoutCancel(ctx), personID, database.PersonStatusConfirmed); err != nil {
		return nil, fmt.Errorf("%w: person confirmed but face status not updated: %w", ErrInconsistentStores, err)
	}

	log.Printf("people: confirmed %s as %s", shortID(personID), relation)
	view, _ := newPublicPerson(p)
	return view, nil
}

// Update changes identity fields and optionally the face of a confirmed person.
func (s *Service) Update(ctx context.Context, personID string, req UpdateRequest) (*PublicPerson, error) {
	unlock := s.locks.Lock(personID)
	defer unlock()

	p, err := s.persons.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !p.IsConfirmed() {
		return nil, ErrNotConfirmed
	}

	if req.Name != nil {
		p.Name = cleanField(*req.Name)
	}
	if req.Relation != nil {
		p.Relation = cleanField(*req.Relation)
	}
	if req.Note != nil {
		p.ContextualNote = cleanField(*req.Note)
	}
	if p.Name == "" || p.Relation == "" {
		return nil, fmt.Errorf("%w: name and relation cannot be empty", ErrInvalidInput)
	}

	// Extract before any write so a bad photo changes nothing.
	var emb []float32
	if len(req.Image) > 0 {
		if emb, err = s.extract(ctx, req.Image); err != nil {
			return nil, err
		}
	}

	defer s.invalidate(personID)
	if err := s.persons.UpdatePerson(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update person: %w", err)
	}
	if emb != nil {
		wctx := context.WithoutCancel(ctx)
		if err := s.faces.DeleteFaces(wctx, personID); err != nil {
			return nil, fmt.Errorf("%w: person updated but old face not removed: %w", ErrInconsistentStores, err)
		}
		if err := s.faces.SaveFace(wctx, personID, database.PersonStatusConfirmed, emb); err != nil {
			return nil, fmt.Errorf("%w: person updated but new face not stored: %w", ErrInconsistentStores, err)
		}
		s.saveThumbnail(personID, req.Image)
	}

	view, _ := newPublicPerson(p)
	return view, nil
}

// Delete removes a person from both stores. Embeddings go first so a failure
// never leaves a face that resolves to a missing record.
func (s *Service) Delete(ctx context.Context, personID string) error {
	unlock := s.locks.Lock(personID)
	defer unlock()

	if _, err := s.persons.GetPerson(ctx, personID); err != nil {
		return err
	}
	defer s.invalidate(personID)

	if err := s.faces.DeleteFaces(ctx, personID); err != nil {
		return fmt.Errorf("failed to delete faces: %w", err)
	}
	wctx := context.WithoutCancel(ctx)
	if err := s.memories.DeleteMemories(wctx, personID); err != nil {
		return fmt.Errorf("%w: faces deleted but memories remain: %w", ErrInconsistentStores, err)
	}
	if err := s.persons.DeletePerson(wctx, personID); err != nil && !errors.Is(err, database.ErrPersonNotFound) {
		return fmt.Errorf("%w: faces deleted but person remains: %w", ErrInconsistentStores, err)
	}
	if s.thumbs != nil {
		logBestEffort("thumbnail removal", personID, s.thumbs.Remove(personID))
	}

	log.Printf("people: deleted %s", shortID(personID))
	return nil
}

func (s *Service) extract(ctx context.Context, image []byte) ([]float32, error) {
	if s.extractor == nil {
		return nil, errors.New("people: no embedding extractor configured")
	}
	return s.extractor.ExtractEmbedding(ctx, image)
}

func (s *Service) saveThumbnail(personID string, image []byte) {
	if s.thumbs == nil {
		return
	}
	logBestEffort("thumbnail save", personID, s.thumbs.Save(personID, image))
}
