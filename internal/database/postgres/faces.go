package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/cue/internal/database"
	"github.com/pgvector/pgvector-go"
)

// FaceRepository provides PostgreSQL-backed face storage with optional in-memory HNSW index.
type FaceRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// Count returns the total number of faces stored.
func (r *FaceRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// FindSimilar finds faces with similar embeddings using cosine distance.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *FaceRepository) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]database.FaceMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.hnswMu.RLock()
	index := r.hnswIndex
	hnswEnabled := r.hnswEnabled && index != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		if index.IsEmpty() {
			return nil, nil
		}
		matches, err := index.Search(embedding, limit)
		if err != nil {
			return nil, fmt.Errorf("HNSW search: %w", err)
		}
		return matches, nil
	}

	return r.findSimilarPostgres(ctx, embedding, limit)
}

// findSimilarPostgres uses PostgreSQL for similarity search with ef_search optimization.
func (r *FaceRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int,
) ([]database.FaceMatch, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Match the in-memory HNSW configuration.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT person_id, status, embedding <=> $1::vector AS distance
		FROM faces
		ORDER BY distance
		LIMIT $2
	`
	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var matches []database.FaceMatch
	for rows.Next() {
		var m database.FaceMatch
		var status string
		var distance float64
		if err := rows.Scan(&m.PersonID, &status, &distance); err != nil {
			return nil, fmt.Errorf("scan face match: %w", err)
		}
		m.Status = database.PersonStatus(status)
		m.Similarity = database.DistanceToSimilarity(distance)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face matches: %w", err)
	}
	return matches, nil
}

// SaveFace stores an embedding for a person and mirrors it into the HNSW index.
func (r *FaceRepository) SaveFace(
	ctx context.Context, personID string, status database.PersonStatus, embedding []float32,
) error {
	face := database.StoredFace{PersonID: personID, Status: status, Embedding: embedding}
	err := r.pool.QueryRow(ctx,
		"INSERT INTO faces (person_id, status, embedding) VALUES ($1, $2, $3) RETURNING id, created_at",
		personID, string(status), pgvector.NewVector(embedding),
	).Scan(&face.ID, &face.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert face: %w", err)
	}

	if index := r.activeIndex(); index != nil {
		index.Add(face)
	}
	return nil
}

// UpdateStatus rewrites the status of every face of a person.
func (r *FaceRepository) UpdateStatus(ctx context.Context, personID string, status database.PersonStatus) error {
	if _, err := r.pool.Exec(ctx,
		"UPDATE faces SET status = $2 WHERE person_id = $1", personID, string(status)); err != nil {
		return fmt.Errorf("update face status: %w", err)
	}
	if index := r.activeIndex(); index != nil {
		index.UpdatePersonStatus(personID, status)
	}
	return nil
}

// DeleteFaces removes every face of a person.
func (r *FaceRepository) DeleteFaces(ctx context.Context, personID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM faces WHERE person_id = $1", personID); err != nil {
		return fmt.Errorf("delete faces: %w", err)
	}
	if index := r.activeIndex(); index != nil {
		index.DeletePerson(personID)
	}
	return nil
}

func (r *FaceRepository) activeIndex() *database.HNSWIndex {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if !r.hnswEnabled {
		return nil
	}
	return r.hnswIndex
}

// GetAllFaces loads every face with its embedding, ordered by ID.
func (r *FaceRepository) GetAllFaces(ctx context.Context) ([]database.StoredFace, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, person_id, status, embedding, created_at FROM faces ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query all faces: %w", err)
	}
	defer rows.Close()

	var faces []database.StoredFace
	for rows.Next() {
		var f database.StoredFace
		var status string
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.PersonID, &status, &vec, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		f.Status = database.PersonStatus(status)
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

func (r *FaceRepository) faceStats(ctx context.Context) (database.HNSWIndexMetadata, error) {
	var m database.HNSWIndexMetadata
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(id), 0), COUNT(*) FILTER (WHERE status = 'confirmed')
		FROM faces
	`).Scan(&m.FaceCount, &m.MaxFaceID, &m.ConfirmedCount)
	if err != nil {
		return m, fmt.Errorf("failed to get face stats: %w", err)
	}
	return m, nil
}

// tryLoadFaceIndex attempts to load the face HNSW index from disk.
// Returns true if the cached index matches the database.
func (r *FaceRepository) tryLoadFaceIndex(indexPath string, stats database.HNSWIndexMetadata) bool {
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		fmt.Printf("Face index: metadata file error: %v (will rebuild)\n", err)
		return false
	}
	if metadata.FaceCount != stats.FaceCount || metadata.MaxFaceID != stats.MaxFaceID ||
		metadata.ConfirmedCount != stats.ConfirmedCount {
		fmt.Printf("Face index: stale (db: count=%d max_id=%d, cached: count=%d max_id=%d) (will rebuild)\n",
			stats.FaceCount, stats.MaxFaceID, metadata.FaceCount, metadata.MaxFaceID)
		return false
	}

	index := database.NewHNSWIndex()
	if err := index.LoadWithFaceMetadata(indexPath); err != nil {
		fmt.Printf("Face index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	if index.IsEmpty() {
		fmt.Printf("Face index: loaded graph is empty (will rebuild)\n")
		return false
	}
	r.hnswIndex = index
	fmt.Printf("Face index: loaded from disk (fresh)\n")
	return true
}

// EnableHNSW loads or builds an in-memory HNSW index for O(log N) similarity search.
func (r *FaceRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	stats, err := r.faceStats(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" && stats.FaceCount > 0 && r.tryLoadFaceIndex(indexPath, stats) {
		r.hnswEnabled = true
		return nil
	}

	faces, err := r.GetAllFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	index := database.NewHNSWIndex()
	index.BuildFromFaces(faces)
	r.hnswIndex = index

	if indexPath != "" && len(faces) > 0 {
		stats.BuildTime = time.Now()
		if err := index.SaveWithFaceMetadata(indexPath, stats); err != nil {
			fmt.Printf("Warning: failed to save HNSW index to disk: %v\n", err)
		}
	}

	r.hnswEnabled = true
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *FaceRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *FaceRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of faces in the HNSW index.
func (r *FaceRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *FaceRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *FaceRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" {
		fmt.Println("Face index save: no path configured, skipping")
		return nil
	}
	if r.hnswIndex == nil {
		return errors.New("HNSW index not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := r.faceStats(ctx)
	if err != nil {
		return err
	}
	stats.BuildTime = time.Now()
	if err := r.hnswIndex.SaveWithFaceMetadata(r.hnswIndexPath, stats); err != nil {
		return fmt.Errorf("saving face index: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (r *FaceRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
