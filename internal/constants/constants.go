// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Presence detection constants
const (
	// FaceStableFrames is the number of consecutive face frames required
	// before a capture episode starts
	FaceStableFrames = 10

	// CaptureFrameCount is the number of frames collected per capture episode
	CaptureFrameCount = 5

	// CaptureInterval is the spacing between captured frames
	CaptureInterval = 300 * time.Millisecond

	// FaceLostFrames is the number of consecutive no-face frames that end a
	// RECOGNIZED or NOT_FOUND presentation
	FaceLostFrames = 30

	// PositionSmoothing is the exponential smoothing factor for the overlay anchor
	PositionSmoothing = 0.08

	// ResolveTimeout bounds a single resolve round trip from the client
	ResolveTimeout = 15 * time.Second
)

// Passive session constants
const (
	// CueDelay is how long after entering RECOGNIZED the audio cue is requested
	CueDelay = 400 * time.Millisecond
)

// Face matching constants
const (
	// FaceEmbeddingDim is the dimension of face embeddings produced by the embedding server
	FaceEmbeddingDim = 512

	// DefaultSimilarityThreshold is the minimum cosine similarity for an identity match
	DefaultSimilarityThreshold = 0.8

	// DefaultSearchLimit is the number of nearest neighbours fetched per frame
	DefaultSearchLimit = 5
)

// Lifecycle constants
const (
	// FamiliarityIncrement is added to a person's familiarity score per saved memory
	FamiliarityIncrement = 0.05

	// ThumbnailSize is the edge length in pixels of stored face thumbnails
	ThumbnailSize = 200

	// ContextCacheTTL bounds how long a public person view stays cached
	ContextCacheTTL = 10 * time.Minute
)

// Overlay bridge constants
const (
	// OverlayWriteWait is the time allowed to write one message to the overlay peer
	OverlayWriteWait = 10 * time.Second

	// OverlayPongWait is the time allowed between pongs from the overlay peer
	OverlayPongWait = 60 * time.Second

	// OverlayPingPeriod must be shorter than OverlayPongWait
	OverlayPingPeriod = OverlayPongWait * 9 / 10

	// OverlayMaxMessageSize caps one inbound overlay message (frames are JPEG)
	OverlayMaxMessageSize = 4 << 20

	// RecordingFlushTimeout is how long Stop waits for the final audio chunk
	RecordingFlushTimeout = 3 * time.Second
)
