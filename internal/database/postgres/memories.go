package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/cue/internal/database"
)

// MemoryRepository provides PostgreSQL-backed conversation memory storage.
type MemoryRepository struct {
	pool *Pool
}

// NewMemoryRepository creates a new PostgreSQL memory repository.
func NewMemoryRepository(pool *Pool) *MemoryRepository {
	return &MemoryRepository{pool: pool}
}

// SaveMemory inserts a memory.
func (r *MemoryRepository) SaveMemory(ctx context.Context, m *database.Memory) error {
	query := `
		INSERT INTO memories (id, person_id, summary, emotional_tone, important_event, raw_transcript, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		m.ID, m.PersonID, m.Summary, m.EmotionalTone, m.ImportantEvent, m.Transcript, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// ListMemories returns up to limit memories for a person, newest first.
func (r *MemoryRepository) ListMemories(ctx context.Context, personID string, limit int) ([]database.Memory, error) {
	query := `
		SELECT id, person_id, summary, emotional_tone, important_event, raw_transcript, created_at
		FROM memories
		WHERE person_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var memories []database.Memory
	for rows.Next() {
		var m database.Memory
		if err := rows.Scan(&m.ID, &m.PersonID, &m.Summary, &m.EmotionalTone,
			&m.ImportantEvent, &m.Transcript, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return memories, nil
}

// DeleteMemories removes all memories of a person.
func (r *MemoryRepository) DeleteMemories(ctx context.Context, personID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM memories WHERE person_id = $1", personID); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}
