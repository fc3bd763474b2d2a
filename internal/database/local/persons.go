package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/kozaktomas/cue/internal/database"
)

// maxTxnRetries bounds retries of optimistic badger transactions.
const maxTxnRetries = 5

// PersonStore keeps person records as JSON under person/<id>.
type PersonStore struct {
	db *badger.DB
}

func personKey(id string) []byte { return []byte(personPrefix + id) }

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getPerson(txn *badger.Txn, id string) (*database.Person, error) {
	item, err := txn.Get(personKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, database.ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person %s: %w", id, err)
	}
	var p database.Person
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal person: %w", err)
	}
	return &p, nil
}

func putPerson(txn *badger.Txn, p *database.Person) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal person: %w", err)
	}
	return txn.Set(personKey(p.ID), data)
}

// GetPerson returns a person by ID.
func (s *PersonStore) GetPerson(_ context.Context, id string) (*database.Person, error) {
	var p *database.Person
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getPerson(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPersons returns all persons with the given status, newest first.
func (s *PersonStore) ListPersons(_ context.Context, status database.PersonStatus) ([]database.Person, error) {
	var persons []database.Person
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(personPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p database.Person
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal person: %w", err)
			}
			if p.Status == status {
				persons = append(persons, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	sort.SliceStable(persons, func(i, j int) bool {
		return persons[i].CreatedAt.After(persons[j].CreatedAt)
	})
	return persons, nil
}

// CreatePerson inserts a new record. An existing ID is an error.
func (s *PersonStore) CreatePerson(_ context.Context, p *database.Person) error {
	return update(s.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(personKey(p.ID)); err == nil {
			return fmt.Errorf("person %s already exists", p.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check person %s: %w", p.ID, err)
		}
		return putPerson(txn, p)
	})
}

// UpdatePerson overwrites name, relation and contextual note.
func (s *PersonStore) UpdatePerson(_ context.Context, p *database.Person) error {
	return update(s.db, func(txn *badger.Txn) error {
		current, err := getPerson(txn, p.ID)
		if err != nil {
			return err
		}
		current.Name = p.Name
		current.Relation = p.Relation
		current.ContextualNote = p.ContextualNote
		return putPerson(txn, current)
	})
}

// ConfirmPerson moves a temporary person to confirmed. The status check and
// write share one transaction; a conflicting writer forces a retry, which
// then observes the confirmed status.
func (s *PersonStore) ConfirmPerson(
	_ context.Context, id, name, relation, note string, at time.Time,
) (*database.Person, error) {
	var confirmed *database.Person
	err := update(s.db, func(txn *badger.Txn) error {
		p, err := getPerson(txn, id)
		if err != nil {
			return err
		}
		if p.Status != database.PersonStatusTemporary {
			return database.ErrAlreadyConfirmed
		}
		p.Status = database.PersonStatusConfirmed
		p.Name = name
		p.Relation = relation
		p.ContextualNote = note
		p.ConfirmedAt = &at
		confirmed = p
		return putPerson(txn, p)
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// DeletePerson removes the record and its memories.
func (s *PersonStore) DeletePerson(_ context.Context, id string) error {
	return update(s.db, func(txn *badger.Txn) error {
		if _, err := getPerson(txn, id); err != nil {
			return err
		}
		if err := deletePrefix(txn, memoryKeyPrefix(id)); err != nil {
			return err
		}
		return txn.Delete(personKey(id))
	})
}

// TouchLastSeen records a sighting.
func (s *PersonStore) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	return update(s.db, func(txn *badger.Txn) error {
		p, err := getPerson(txn, id)
		if err != nil {
			return err
		}
		p.LastSeenAt = &at
		p.InteractionCount++
		return putPerson(txn, p)
	})
}

// IncrementFamiliarity adds delta to the familiarity score, capped at 1.
func (s *PersonStore) IncrementFamiliarity(_ context.Context, id string, delta float64) error {
	return update(s.db, func(txn *badger.Txn) error {
		p, err := getPerson(txn, id)
		if err != nil {
			return err
		}
		p.FamiliarityScore = min(1.0, p.FamiliarityScore+delta)
		return putPerson(txn, p)
	})
}

// deletePrefix removes every key under prefix inside txn.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}
