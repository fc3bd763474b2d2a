// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// MaxFramesPerRequest caps the number of frames accepted by /recognize-face
	MaxFramesPerRequest = 10

	// DefaultMemoryLimit is the number of memories fetched for context views
	DefaultMemoryLimit = 5
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Upload constants
const (
	// MaxUploadSize is the maximum request body size in bytes (20MB)
	MaxUploadSize = 20 << 20
)
