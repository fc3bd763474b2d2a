package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var errNotInitialized = errors.New("storage backend not initialized: configure DATABASE_URL or DATABASE_BACKEND=local")

var (
	backendName  string
	faceWriter   func() FaceWriter
	personWriter func() PersonWriter
	memoryWriter func() MemoryWriter
	faceHNSW     HNSWRebuilder // Singleton for face HNSW rebuilding
	pingers      map[string]Pinger
	registryMu   sync.RWMutex
)

// RegisterBackend registers repository constructors for the active backend.
// Backends call this from the cmd layer to avoid import cycles.
func RegisterBackend(
	name string,
	faces func() FaceWriter,
	persons func() PersonWriter,
	memories func() MemoryWriter,
) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backendName = name
	faceWriter = faces
	personWriter = persons
	memoryWriter = memories
}

// RegisterFaceWriter overrides the face store of the active backend.
// Used when face vectors live in a separate service (qdrant).
func RegisterFaceWriter(faces func() FaceWriter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	faceWriter = faces
}

// RegisterPinger registers a health check under a display name.
func RegisterPinger(name string, p Pinger) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if pingers == nil {
		pingers = make(map[string]Pinger)
	}
	pingers[name] = p
}

// Pingers returns a copy of the registered health checks.
func Pingers() map[string]Pinger {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]Pinger, len(pingers))
	for k, v := range pingers {
		out[k] = v
	}
	return out
}

// RegisterFaceHNSWRebuilder registers the HNSW rebuilder for the face repository.
// This allows rebuilding the in-memory HNSW index without knowing the concrete type.
func RegisterFaceHNSWRebuilder(rebuilder HNSWRebuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	faceHNSW = rebuilder
}

// GetFaceHNSWRebuilder returns the registered face HNSW rebuilder, or nil if not registered.
func GetFaceHNSWRebuilder() HNSWRebuilder {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return faceHNSW
}

// BackendName returns the name of the registered backend, or "" if none.
func BackendName() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return backendName
}

// ResetRegistry clears all registrations. Intended for tests.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	backendName = ""
	faceWriter = nil
	personWriter = nil
	memoryWriter = nil
	faceHNSW = nil
	pingers = nil
}

// GetFaceWriter returns the FaceWriter of the active backend
func GetFaceWriter(ctx context.Context) (FaceWriter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if faceWriter == nil {
		return nil, fmt.Errorf("face store: %w", errNotInitialized)
	}
	return faceWriter(), nil
}

// GetPersonWriter returns the PersonWriter of the active backend
func GetPersonWriter(ctx context.Context) (PersonWriter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if personWriter == nil {
		return nil, fmt.Errorf("person store: %w", errNotInitialized)
	}
	return personWriter(), nil
}

// GetMemoryWriter returns the MemoryWriter of the active backend
func GetMemoryWriter(ctx context.Context) (MemoryWriter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if memoryWriter == nil {
		return nil, fmt.Errorf("memory store: %w", errNotInitialized)
	}
	return memoryWriter(), nil
}
