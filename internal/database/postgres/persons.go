package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/cue/internal/database"
)

const personColumns = `id, status, name, relation, contextual_note, created_at,
	confirmed_at, last_seen_at, familiarity_score, interaction_count`

// PersonRepository provides PostgreSQL-backed person metadata storage.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new PostgreSQL person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

// GetPerson returns a person by ID.
func (r *PersonRepository) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+personColumns+" FROM persons WHERE id = $1", id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// ListPersons returns all persons with the given status, newest first.
func (r *PersonRepository) ListPersons(ctx context.Context, status database.PersonStatus) ([]database.Person, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+personColumns+" FROM persons WHERE status = $1 ORDER BY created_at DESC", string(status))
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []database.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// CreatePerson inserts a new person record.
func (r *PersonRepository) CreatePerson(ctx context.Context, p *database.Person) error {
	query := `
		INSERT INTO persons (id, status, name, relation, contextual_note, created_at, confirmed_at,
		                     last_seen_at, familiarity_score, interaction_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, string(p.Status), p.Name, p.Relation, p.ContextualNote, p.CreatedAt,
		nullTime(p.ConfirmedAt), nullTime(p.LastSeenAt), p.FamiliarityScore, p.InteractionCount,
	)
	if err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

// UpdatePerson overwrites the identity fields of a person.
func (r *PersonRepository) UpdatePerson(ctx context.Context, p *database.Person) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE persons SET name = $2, relation = $3, contextual_note = $4 WHERE id = $1",
		p.ID, p.Name, p.Relation, p.ContextualNote,
	)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	return expectOneRow(result)
}

// ConfirmPerson moves a temporary person to confirmed in a single statement,
// so two concurrent confirmations cannot both succeed.
func (r *PersonRepository) ConfirmPerson(
	ctx context.Context, id, name, relation, note string, at time.Time,
) (*database.Person, error) {
	query := `
		UPDATE persons
		SET status = 'confirmed', name = $2, relation = $3, contextual_note = $4, confirmed_at = $5
		WHERE id = $1 AND status = 'temporary'
		RETURNING ` + personColumns

	p, err := scanPerson(r.pool.QueryRow(ctx, query, id, name, relation, note, at))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("confirm person: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM persons WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check person exists: %w", err)
	}
	if !exists {
		return nil, database.ErrPersonNotFound
	}
	return nil, database.ErrAlreadyConfirmed
}

// DeletePerson removes a person. Memories cascade.
func (r *PersonRepository) DeletePerson(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM persons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return expectOneRow(result)
}

// TouchLastSeen records a sighting.
func (r *PersonRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE persons SET last_seen_at = $2, interaction_count = interaction_count + 1 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return expectOneRow(result)
}

// IncrementFamiliarity adds delta to the familiarity score, capped at 1.
func (r *PersonRepository) IncrementFamiliarity(ctx context.Context, id string, delta float64) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE persons SET familiarity_score = LEAST(1.0, familiarity_score + $2) WHERE id = $1", id, delta)
	if err != nil {
		return fmt.Errorf("increment familiarity: %w", err)
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrPersonNotFound
	}
	return nil
}

func scanPerson(scanner interface{ Scan(...any) error }) (*database.Person, error) {
	var p database.Person
	var status string
	var confirmedAt, lastSeenAt sql.NullTime
	err := scanner.Scan(
		&p.ID, &status, &p.Name, &p.Relation, &p.ContextualNote, &p.CreatedAt,
		&confirmedAt, &lastSeenAt, &p.FamiliarityScore, &p.InteractionCount,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap and test for sql.ErrNoRows
	}
	p.Status = database.PersonStatus(status)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		p.ConfirmedAt = &t
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		p.LastSeenAt = &t
	}
	return &p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
