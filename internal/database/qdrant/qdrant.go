// Package qdrant implements database.FaceWriter on a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadPersonID = "person_id"
	payloadStatus   = "status"
)

// FaceStore stores one point per face embedding with the person ID and
// status in the payload.
type FaceStore struct {
	client     *qdrant.Client
	collection string
}

// NewFaceStore connects to Qdrant and creates the collection if missing.
func NewFaceStore(ctx context.Context, cfg *config.QdrantConfig, dim int) (*FaceStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	s := &FaceStore{client: client, collection: cfg.Collection}
	if err := s.ensureCollection(ctx, dim); err != nil {
		client.Close()
		return nil, err
	}
	log.Printf("Connected to Qdrant at %s:%d (collection: %s)", cfg.Host, cfg.Port, cfg.Collection)
	return s, nil
}

func (s *FaceStore) ensureCollection(ctx context.Context, dim int) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list Qdrant collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	log.Printf("Creating Qdrant collection: %s (vector_size: %d)", s.collection, dim)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create Qdrant collection: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *FaceStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing Qdrant client: %w", err)
	}
	return nil
}

// Ping runs a Qdrant health check.
func (s *FaceStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func personFilter(personID string) *qdrant.PointsSelector {
	return qdrant.NewPointsSelectorFilter(&qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadPersonID, personID)},
	})
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return s.StringValue
	}
	return ""
}

// FindSimilar returns the nearest points. Qdrant scores cosine collections
// by similarity, so the score is used directly.
func (s *FaceStore) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]database.FaceMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	n := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Qdrant: %w", err)
	}

	matches := make([]database.FaceMatch, 0, len(hits))
	for _, hit := range hits {
		personID := payloadString(hit.Payload, payloadPersonID)
		if personID == "" {
			continue
		}
		matches = append(matches, database.FaceMatch{
			PersonID:   personID,
			Status:     database.PersonStatus(payloadString(hit.Payload, payloadStatus)),
			Similarity: float64(hit.Score),
		})
	}
	return matches, nil
}

// SaveFace upserts a new point for the person.
func (s *FaceStore) SaveFace(
	ctx context.Context, personID string, status database.PersonStatus, embedding []float32,
) error {
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadPersonID: personID,
				payloadStatus:   string(status),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point to Qdrant: %w", err)
	}
	return nil
}

// UpdateStatus rewrites the status payload of every point of a person.
func (s *FaceStore) UpdateStatus(ctx context.Context, personID string, status database.PersonStatus) error {
	wait := true
	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Payload:        qdrant.NewValueMap(map[string]any{payloadStatus: string(status)}),
		PointsSelector: personFilter(personID),
	})
	if err != nil {
		return fmt.Errorf("failed to set status in Qdrant: %w", err)
	}
	return nil
}

// DeleteFaces removes every point of a person.
func (s *FaceStore) DeleteFaces(ctx context.Context, personID string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         personFilter(personID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points from Qdrant: %w", err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *FaceStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count Qdrant points: %w", err)
	}
	return int(n), nil
}
