package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/database/local"
	"github.com/kozaktomas/cue/internal/database/postgres"
	"github.com/kozaktomas/cue/internal/database/qdrant"
)

// stores are the repositories of the selected backend.
type stores struct {
	faces    database.FaceWriter
	persons  database.PersonWriter
	memories database.MemoryWriter
	closers  []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			fmt.Printf("Warning: failed to close store: %v\n", err)
		}
	}
}

// localIndex exposes the chromem collection of the local backend as a
// rebuildable face index.
type localIndex struct {
	faces *local.FaceStore
}

func (l localIndex) RebuildHNSW(ctx context.Context) error { return l.faces.Reindex(ctx) }
func (l localIndex) HNSWCount() int                       { return l.faces.IndexCount() }
func (l localIndex) IsHNSWEnabled() bool                  { return true }

// SaveHNSWIndex is a no-op: chromem persists on every write.
func (l localIndex) SaveHNSWIndex() error { return nil }

// initFaceHNSW builds or loads the face HNSW index for fast similarity search.
func initFaceHNSW(ctx context.Context, faceRepo *postgres.FaceRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading face HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for face matching...\n")
	}
	if err := faceRepo.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build face HNSW index: %v\n", err)
		fmt.Printf("Face matching will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Face HNSW index ready with %d faces (persisted to %s)\n", faceRepo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Face HNSW index built with %d faces (in-memory only)\n", faceRepo.HNSWCount())
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres backend")
	}
	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	faceRepo := postgres.NewFaceRepository(pool)
	personRepo := postgres.NewPersonRepository(pool)
	memoryRepo := postgres.NewMemoryRepository(pool)

	initFaceHNSW(ctx, faceRepo, cfg.Database.HNSWIndexPath)
	database.RegisterBackend("postgres",
		func() database.FaceWriter { return faceRepo },
		func() database.PersonWriter { return personRepo },
		func() database.MemoryWriter { return memoryRepo },
	)
	database.RegisterFaceHNSWRebuilder(faceRepo)
	database.RegisterPinger("postgres", pool)
	fmt.Printf("Using PostgreSQL backend\n")

	return &stores{
		faces:    faceRepo,
		persons:  personRepo,
		memories: memoryRepo,
		closers:  []func() error{pool.Close},
	}, nil
}

func openLocal(ctx context.Context, cfg *config.Config) (*stores, error) {
	store, err := local.OpenFromConfig(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	faces, persons, memories := store.Faces(), store.Persons(), store.Memories()

	database.RegisterBackend("local",
		func() database.FaceWriter { return faces },
		func() database.PersonWriter { return persons },
		func() database.MemoryWriter { return memories },
	)
	database.RegisterFaceHNSWRebuilder(localIndex{faces: faces})
	database.RegisterPinger("local", store)
	if cfg.Database.DataDir == "" {
		fmt.Printf("Using local backend (in-memory, nothing is persisted)\n")
	} else {
		fmt.Printf("Using local backend in %s\n", cfg.Database.DataDir)
	}

	return &stores{
		faces:    faces,
		persons:  persons,
		memories: memories,
		closers:  []func() error{store.Close},
	}, nil
}

// openStores selects the storage backend from the configuration and
// registers it. When QDRANT_HOST is set, face vectors move to qdrant while
// person and memory records stay in the selected backend.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var (
		s   *stores
		err error
	)
	switch cfg.Database.Backend {
	case "postgres":
		s, err = openPostgres(ctx, cfg)
	case "local":
		s, err = openLocal(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database backend: %s (supported: postgres, local)", cfg.Database.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Qdrant.Host != "" {
		faces, err := qdrant.NewFaceStore(ctx, &cfg.Qdrant, cfg.Embedding.Dim)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		s.faces = faces
		s.closers = append(s.closers, faces.Close)
		database.RegisterFaceWriter(func() database.FaceWriter { return faces })
		// Qdrant indexes on its own; the backend index no longer sees writes.
		database.RegisterFaceHNSWRebuilder(nil)
		database.RegisterPinger("qdrant", faces)
		fmt.Printf("Face vectors stored in qdrant at %s:%d (%s)\n", cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
	}
	return s, nil
}

// saveFaceIndex saves the face HNSW index to disk during shutdown.
func saveFaceIndex() {
	rebuilder := database.GetFaceHNSWRebuilder()
	if rebuilder == nil {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		fmt.Printf("Warning: failed to save face HNSW index: %v\n", err)
		return
	}
	fmt.Println("Face HNSW index saved to disk")
}
