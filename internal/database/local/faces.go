package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/philippgille/chromem-go"
)

const (
	metaPersonID = "person_id"
	metaStatus   = "status"
)

// FaceStore keeps face records in badger under face/<personID>/<faceID> and
// mirrors their vectors into a chromem collection for search. Badger is the
// source of truth; the collection is rebuilt from it when the two disagree.
type FaceStore struct {
	store *Store
}

func faceKeyPrefix(personID string) []byte {
	return []byte(facePrefix + personID + "/")
}

func faceKey(personID string, id int64) []byte {
	return fmt.Appendf(faceKeyPrefix(personID), "%020d", id)
}

func faceDocument(f *database.StoredFace) chromem.Document {
	return chromem.Document{
		ID:        strconv.FormatInt(f.ID, 10),
		Embedding: f.Embedding,
		Metadata: map[string]string{
			metaPersonID: f.PersonID,
			metaStatus:   string(f.Status),
		},
	}
}

// Count returns the number of stored faces.
func (s *FaceStore) Count(_ context.Context) (int, error) {
	faces, err := s.store.loadFaces([]byte(facePrefix))
	if err != nil {
		return 0, err
	}
	return len(faces), nil
}

// FindSimilar queries the chromem collection. Similarity is cosine.
func (s *FaceStore) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]database.FaceMatch, error) {
	// chromem rejects nResults larger than the collection.
	n := min(limit, s.store.collection().Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := s.store.collection().QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}

	matches := make([]database.FaceMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, database.FaceMatch{
			PersonID:   r.Metadata[metaPersonID],
			Status:     database.PersonStatus(r.Metadata[metaStatus]),
			Similarity: float64(r.Similarity),
		})
	}
	return matches, nil
}

// SaveFace stores an embedding for a person.
func (s *FaceStore) SaveFace(
	ctx context.Context, personID string, status database.PersonStatus, embedding []float32,
) error {
	next, err := s.store.faceSeq.Next()
	if err != nil {
		return fmt.Errorf("next face id: %w", err)
	}
	face := database.StoredFace{
		ID:        int64(next) + 1,
		PersonID:  personID,
		Status:    status,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(face)
	if err != nil {
		return fmt.Errorf("failed to marshal face: %w", err)
	}

	key := faceKey(personID, face.ID)
	if err := update(s.store.db, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("store face: %w", err)
	}

	if err := s.store.collection().AddDocument(ctx, faceDocument(&face)); err != nil {
		// Keep badger and the index in step.
		_ = update(s.store.db, func(txn *badger.Txn) error { return txn.Delete(key) })
		return fmt.Errorf("index face: %w", err)
	}
	return nil
}

// UpdateStatus rewrites the status of every face of a person.
func (s *FaceStore) UpdateStatus(ctx context.Context, personID string, status database.PersonStatus) error {
	var updated []database.StoredFace
	err := update(s.store.db, func(txn *badger.Txn) error {
		updated = updated[:0]
		faces, err := facesWithPrefix(txn, faceKeyPrefix(personID))
		if err != nil {
			return err
		}
		for i := range faces {
			faces[i].Status = status
			data, err := json.Marshal(faces[i])
			if err != nil {
				return fmt.Errorf("failed to marshal face: %w", err)
			}
			if err := txn.Set(faceKey(personID, faces[i].ID), data); err != nil {
				return err
			}
		}
		updated = faces
		return nil
	})
	if err != nil {
		return fmt.Errorf("update face status: %w", err)
	}

	// Re-adding a document with the same ID replaces its metadata.
	for i := range updated {
		if err := s.store.collection().AddDocument(ctx, faceDocument(&updated[i])); err != nil {
			return fmt.Errorf("reindex face %d: %w", updated[i].ID, err)
		}
	}
	return nil
}

// DeleteFaces removes every face of a person.
func (s *FaceStore) DeleteFaces(ctx context.Context, personID string) error {
	var ids []string
	err := update(s.store.db, func(txn *badger.Txn) error {
		faces, err := facesWithPrefix(txn, faceKeyPrefix(personID))
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, f := range faces {
			ids = append(ids, strconv.FormatInt(f.ID, 10))
		}
		return deletePrefix(txn, faceKeyPrefix(personID))
	})
	if err != nil {
		return fmt.Errorf("delete faces: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.collection().Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("unindex faces: %w", err)
	}
	return nil
}

// Reindex rebuilds the chromem collection from badger.
func (s *FaceStore) Reindex(ctx context.Context) error {
	return s.store.rebuildFaceCollection(ctx)
}

// IndexCount returns the number of documents in the chromem collection.
func (s *FaceStore) IndexCount() int {
	return s.store.collection().Count()
}

func facesWithPrefix(txn *badger.Txn, prefix []byte) ([]database.StoredFace, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var faces []database.StoredFace
	for it.Rewind(); it.Valid(); it.Next() {
		var f database.StoredFace
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		}); err != nil {
			return nil, fmt.Errorf("failed to unmarshal face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, nil
}

func (s *Store) loadFaces(prefix []byte) ([]database.StoredFace, error) {
	var faces []database.StoredFace
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		faces, err = facesWithPrefix(txn, prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}
	return faces, nil
}

// reconcileFaces rebuilds the collection when its size differs from badger.
func (s *Store) reconcileFaces(ctx context.Context) error {
	faces, err := s.loadFaces([]byte(facePrefix))
	if err != nil {
		return err
	}
	if len(faces) == s.collection().Count() {
		return nil
	}
	fmt.Printf("Face index: %d documents, %d faces stored (will rebuild)\n", s.collection().Count(), len(faces))
	return s.rebuildFaceCollection(ctx)
}

func (s *Store) rebuildFaceCollection(ctx context.Context) error {
	faces, err := s.loadFaces([]byte(facePrefix))
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteCollection(faceCollection); err != nil {
		return fmt.Errorf("drop face collection: %w", err)
	}
	if err := s.openFaceCollection(); err != nil {
		return err
	}
	if len(faces) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(faces))
	for i := range faces {
		if len(faces[i].Embedding) == 0 {
			continue
		}
		docs = append(docs, faceDocument(&faces[i]))
	}
	if len(docs) == 0 {
		return errors.New("stored faces carry no embeddings")
	}
	if err := s.collection().AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index faces: %w", err)
	}
	return nil
}
