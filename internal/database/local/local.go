// Package local implements the storage contracts on an embedded badger
// key-value store with a chromem-go collection for face similarity search.
// It needs no external services and is meant for single-node deployments.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/philippgille/chromem-go"
)

const (
	personPrefix = "person/"
	memoryPrefix = "memory/"
	facePrefix   = "face/"
	faceSeqKey   = "seq/face"

	faceCollection = "faces"
)

// Store owns the badger and chromem handles shared by the repositories.
type Store struct {
	db      *badger.DB
	vectors *chromem.DB
	faceSeq *badger.Sequence

	facesMu sync.RWMutex
	faces   *chromem.Collection
}

// Open opens the local store under dataDir. An empty dataDir keeps
// everything in memory.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	var opts badger.Options
	var vectors *chromem.DB
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
		vectors = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(dataDir, "kv"))
		var err error
		vectors, err = chromem.NewPersistentDB(filepath.Join(dataDir, "vectors"), true)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(faceSeqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("face id sequence: %w", err)
	}

	s := &Store{db: db, vectors: vectors, faceSeq: seq}
	if err := s.openFaceCollection(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.reconcileFaces(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenFromConfig opens the store configured for the local backend.
func OpenFromConfig(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	return Open(ctx, cfg.DataDir)
}

func (s *Store) openFaceCollection() error {
	col, err := s.vectors.GetOrCreateCollection(faceCollection, nil, noTextEmbedding)
	if err != nil {
		return fmt.Errorf("open face collection: %w", err)
	}
	s.facesMu.Lock()
	s.faces = col
	s.facesMu.Unlock()
	return nil
}

func (s *Store) collection() *chromem.Collection {
	s.facesMu.RLock()
	defer s.facesMu.RUnlock()
	return s.faces
}

// noTextEmbedding is installed as the collection embedding function. Face
// documents always carry their own vectors, so text queries are rejected.
func noTextEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("face collection does not embed text")
}

// Close releases the sequence and closes badger.
func (s *Store) Close() error {
	if s.faceSeq != nil {
		_ = s.faceSeq.Release()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing badger: %w", err)
		}
	}
	return nil
}

// Ping reports whether the key-value store is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// Persons returns the person repository.
func (s *Store) Persons() *PersonStore { return &PersonStore{db: s.db} }

// Memories returns the memory repository.
func (s *Store) Memories() *MemoryStore { return &MemoryStore{db: s.db} }

// Faces returns the face repository.
func (s *Store) Faces() *FaceStore { return &FaceStore{store: s} }
