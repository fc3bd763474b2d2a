// Package recognition decides who a batch of camera frames belongs to.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
)

var (
	// ErrNoFrames is returned when Resolve is called with an empty batch.
	ErrNoFrames = errors.New("no frames provided")
	// ErrResolveFailed is returned when no frame could be searched because of
	// extraction or store failures. Frames without a face do not count.
	ErrResolveFailed = errors.New("recognition failed on every frame")
)

const (
	msgNotEnrolled = "Face not enrolled. Please enroll this person via the Caregiver Panel."
	msgNoFace      = "No face detected in any frame."
	msgPending     = "Face matches a person awaiting caregiver confirmation."
	msgDisagree    = "Frames matched different people."
)

// Stubber creates TEMPORARY persons for faces nobody has seen before.
type Stubber interface {
	CreateTemporary(ctx context.Context, emb []float32, image []byte) (*database.Person, error)
}

// Result is the outcome of one scanning episode.
type Result struct {
	Recognized bool                  `json:"recognized"`
	PersonID   string                `json:"person_id,omitempty"`
	Status     database.PersonStatus `json:"status,omitempty"`
	Confidence float64               `json:"confidence"`
	Message    string                `json:"message"`
}

// Options tune the resolver.
type Options struct {
	Threshold   float64
	SearchLimit int
	// RequireAgreement scans every frame and only accepts a CONFIRMED match
	// when all confirmed hits name the same person. On disagreement a
	// TEMPORARY match is reported if one was seen, otherwise no match.
	// Disagreeing known faces are never stubbed.
	RequireAgreement bool
}

// Resolver aggregates per-frame searches into one recognition decision.
type Resolver struct {
	extractor embedding.Extractor
	faces     database.FaceReader
	persons   database.PersonWriter
	stubs     Stubber
	opts      Options
}

// NewResolver creates a resolver. Zero options fall back to the defaults.
func NewResolver(
	extractor embedding.Extractor,
	faces database.FaceReader,
	persons database.PersonWriter,
	stubs Stubber,
	opts Options,
) *Resolver {
	if opts.Threshold <= 0 {
		opts.Threshold = constants.DefaultSimilarityThreshold
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = constants.DefaultSearchLimit
	}
	return &Resolver{
		extractor: extractor,
		faces:     faces,
		persons:   persons,
		stubs:     stubs,
		opts:      opts,
	}
}

// frameHit is the best candidate of a single frame.
type frameHit struct {
	match database.FaceMatch
	frame int
}

// Resolve scans frames in order and returns on the first CONFIRMED match at
// or above the threshold. Without one, a TEMPORARY match is reported as such;
// with no match at all a TEMPORARY person is created from the frame whose
// best raw similarity was highest and recognized=false is returned.
func (r *Resolver) Resolve(ctx context.Context, frames [][]byte) (*Result, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	var (
		searched  int
		lastErr   error
		temporary *frameHit
		confirmed []frameHit

		stubEmb   []float32
		stubFrame []byte
		stubScore = -2.0 // below any cosine similarity
	)

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emb, err := r.extractor.ExtractEmbedding(ctx, frame)
		if errors.Is(err, embedding.ErrNoFaceFound) {
			log.Printf("recognize: frame %d: no face detected", i+1)
			continue
		}
		if err != nil {
			log.Printf("recognize: frame %d: extraction failed: %v", i+1, err)
			lastErr = err
			continue
		}

		matches, err := r.faces.FindSimilar(ctx, emb, r.opts.SearchLimit)
		if err != nil {
			log.Printf("recognize: frame %d: similarity search failed: %v", i+1, err)
			lastErr = err
			continue
		}
		searched++

		if len(matches) == 0 {
			if stubEmb == nil {
				stubEmb, stubFrame = emb, frame
			}
			continue
		}

		top := matches[0]
		if top.Similarity > stubScore {
			stubScore = top.Similarity
			stubEmb, stubFrame = emb, frame
		}
		if top.Similarity < r.opts.Threshold {
			log.Printf("recognize: frame %d: best similarity %.3f below threshold", i+1, top.Similarity)
			continue
		}

		if top.Status != database.PersonStatusConfirmed {
			log.Printf("recognize: frame %d: temporary match %.8s (%.3f)", i+1, top.PersonID, top.Similarity)
			if temporary == nil {
				temporary = &frameHit{match: top, frame: i}
			}
			continue
		}

		// The metadata store has the final say on status and existence.
		person, err := r.persons.GetPerson(ctx, top.PersonID)
		if errors.Is(err, database.ErrPersonNotFound) {
			log.Printf("recognize: frame %d: match %.8s has no person record, ignoring", i+1, top.PersonID)
			continue
		}
		if err != nil {
			log.Printf("recognize: frame %d: person lookup failed: %v", i+1, err)
			lastErr = err
			continue
		}
		if !person.IsConfirmed() {
			if temporary == nil {
				top.Status = person.Status
				temporary = &frameHit{match: top, frame: i}
			}
			continue
		}

		log.Printf("recognize: frame %d: confirmed match %.8s (%.3f)", i+1, top.PersonID, top.Similarity)
		hit := frameHit{match: top, frame: i}
		if !r.opts.RequireAgreement {
			return r.accept(ctx, hit), nil
		}
		confirmed = append(confirmed, hit)
	}

	if len(confirmed) > 0 {
		if agreed(confirmed) {
			return r.accept(ctx, confirmed[0]), nil
		}
		if temporary == nil {
			log.Printf("recognize: %d confirmed hits disagree, reporting no match", len(confirmed))
			return &Result{Recognized: false, Message: msgDisagree}, nil
		}
		log.Printf("recognize: %d confirmed hits disagree, reporting the temporary match", len(confirmed))
	}

	if temporary != nil {
		return &Result{
			Recognized: true,
			PersonID:   temporary.match.PersonID,
			Status:     database.PersonStatusTemporary,
			Confidence: temporary.match.Similarity,
			Message:    msgPending,
		}, nil
	}

	if searched == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolveFailed, lastErr)
		}
		return &Result{Recognized: false, Message: msgNoFace}, nil
	}

	if r.stubs != nil && stubEmb != nil {
		p, err := r.stubs.CreateTemporary(ctx, stubEmb, stubFrame)
		if err != nil {
			log.Printf("recognize: failed to create temporary person: %v", err)
		} else {
			log.Printf("recognize: created temporary person %.8s", p.ID)
		}
	}
	return &Result{Recognized: false, Message: msgNotEnrolled}, nil
}

func (r *Resolver) accept(ctx context.Context, hit frameHit) *Result {
	if err := r.persons.TouchLastSeen(ctx, hit.match.PersonID, time.Now()); err != nil {
		log.Printf("recognize: failed to update last seen for %.8s: %v", hit.match.PersonID, err)
	}
	return &Result{
		Recognized: true,
		PersonID:   hit.match.PersonID,
		Status:     database.PersonStatusConfirmed,
		Confidence: hit.match.Similarity,
		Message:    "Recognized",
	}
}

func agreed(hits []frameHit) bool {
	for _, h := range hits[1:] {
		if h.match.PersonID != hits[0].match.PersonID {
			return false
		}
	}
	return true
}
