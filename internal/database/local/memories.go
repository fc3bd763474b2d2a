package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/kozaktomas/cue/internal/database"
)

// MemoryStore keeps memories under memory/<personID>/<created>/<id> so a
// prefix scan yields one person's memories in chronological order.
type MemoryStore struct {
	db *badger.DB
}

func memoryKeyPrefix(personID string) []byte {
	return []byte(memoryPrefix + personID + "/")
}

func memoryKey(m *database.Memory) []byte {
	return fmt.Appendf(memoryKeyPrefix(m.PersonID), "%020d/%s", m.CreatedAt.UnixNano(), m.ID)
}

// SaveMemory stores a memory. The person must exist.
func (s *MemoryStore) SaveMemory(_ context.Context, m *database.Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	return update(s.db, func(txn *badger.Txn) error {
		if _, err := getPerson(txn, m.PersonID); err != nil {
			return err
		}
		return txn.Set(memoryKey(m), data)
	})
}

// ListMemories returns up to limit memories for a person, newest first.
func (s *MemoryStore) ListMemories(_ context.Context, personID string, limit int) ([]database.Memory, error) {
	prefix := memoryKeyPrefix(personID)
	var memories []database.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(memories) >= limit {
				break
			}
			var m database.Memory
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal memory: %w", err)
			}
			memories = append(memories, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return memories, nil
}

// DeleteMemories removes all memories of a person.
func (s *MemoryStore) DeleteMemories(_ context.Context, personID string) error {
	return update(s.db, func(txn *badger.Txn) error {
		return deletePrefix(txn, memoryKeyPrefix(personID))
	})
}
