// Package presence drives when frames are sampled and submitted for
// recognition. The Controller is a plain state machine with no goroutines;
// Session wraps it in a single owning goroutine.
package presence

import (
	"time"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/recognition"
)

// State is a session state.
type State string

// Session states.
const (
	StateIdle       State = "IDLE"
	StateCapturing  State = "CAPTURING"
	StateScanning   State = "SCANNING"
	StateRecognized State = "RECOGNIZED"
	StateNotFound   State = "NOT_FOUND"
)

// Box is a face bounding box in frame coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Observation is one per-frame presence classification.
type Observation struct {
	FacePresent bool
	Box         *Box
	// Frame is the encoded camera frame, kept as the latest capture candidate.
	Frame []byte
}

// Transition describes a state change.
type Transition struct {
	From    State
	To      State
	Episode uint64
	// PersonID is set when entering RECOGNIZED.
	PersonID string
	// Result is the resolver answer when leaving SCANNING, nil on failure.
	Result *recognition.Result
	// Err is the resolver error when leaving SCANNING.
	Err error
	// Frames is the captured batch when entering SCANNING.
	Frames [][]byte
	At     time.Time
}

// Config holds the controller thresholds.
type Config struct {
	StableFrames int
	CaptureCount int
	LostFrames   int
	Smoothing    float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		StableFrames: constants.FaceStableFrames,
		CaptureCount: constants.CaptureFrameCount,
		LostFrames:   constants.FaceLostFrames,
		Smoothing:    constants.PositionSmoothing,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StableFrames <= 0 {
		c.StableFrames = d.StableFrames
	}
	if c.CaptureCount <= 0 {
		c.CaptureCount = d.CaptureCount
	}
	if c.LostFrames <= 0 {
		c.LostFrames = d.LostFrames
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = d.Smoothing
	}
	return c
}

// Controller is the presence/capture state machine. It is not safe for
// concurrent use; exactly one goroutine must own it.
type Controller struct {
	cfg Config

	state        State
	faceFrames   int
	noFaceFrames int

	// captureInProgress is held from the start of a capture until its
	// resolution returns, even if a retry abandoned the episode meanwhile.
	captureInProgress bool
	captured          [][]byte
	episode           uint64
	inFlight          uint64

	personID string
	smoother *Smoother
	now      func() time.Time
}

// NewController creates a controller in IDLE.
func NewController(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:      cfg,
		state:    StateIdle,
		smoother: NewSmoother(cfg.Smoothing),
		now:      time.Now,
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Counters returns the consecutive face and no-face frame counts.
func (c *Controller) Counters() (face, noFace int) { return c.faceFrames, c.noFaceFrames }

// CaptureInProgress reports whether a capture episode is mid-flight.
func (c *Controller) CaptureInProgress() bool { return c.captureInProgress }

// Episode returns the number of the latest capture episode.
func (c *Controller) Episode() uint64 { return c.episode }

// PersonID returns the recognized person while in RECOGNIZED.
func (c *Controller) PersonID() string { return c.personID }

// Position returns the smoothed face position, if any face was seen.
func (c *Controller) Position() (Box, bool) { return c.smoother.Value() }

// Observe records one frame classification and applies any transition the
// counters trigger.
func (c *Controller) Observe(obs Observation) (Transition, bool) {
	if obs.FacePresent {
		c.faceFrames++
		c.noFaceFrames = 0
		if obs.Box != nil {
			c.smoother.Update(*obs.Box)
		}
	} else {
		c.noFaceFrames++
		c.faceFrames = 0
	}

	switch c.state {
	case StateIdle:
		if c.faceFrames >= c.cfg.StableFrames && !c.captureInProgress {
			return c.startCapture(), true
		}
	case StateRecognized, StateNotFound:
		if c.noFaceFrames >= c.cfg.LostFrames {
			return c.toIdle(), true
		}
	}
	return Transition{}, false
}

func (c *Controller) startCapture() Transition {
	c.episode++
	c.inFlight = c.episode
	c.captureInProgress = true
	c.captured = make([][]byte, 0, c.cfg.CaptureCount)
	return c.transition(StateCapturing)
}

// CaptureFrame adds one frame to the running capture. Frames are taken as
// given, face or not. Once the batch is full the controller moves to
// SCANNING and the transition carries the frames to submit.
func (c *Controller) CaptureFrame(frame []byte) (Transition, bool) {
	if c.state != StateCapturing {
		return Transition{}, false
	}
	c.captured = append(c.captured, frame)
	if len(c.captured) < c.cfg.CaptureCount {
		return Transition{}, false
	}
	t := c.transition(StateScanning)
	t.Frames = c.captured
	c.captured = nil
	return t, true
}

// ResolutionDone applies the answer for a capture episode. Answers for
// abandoned or older episodes only release the capture guard.
func (c *Controller) ResolutionDone(episode uint64, res *recognition.Result, err error) (Transition, bool) {
	if episode == c.inFlight {
		c.captureInProgress = false
	}
	if c.state != StateScanning || episode != c.episode {
		return Transition{}, false
	}

	if err == nil && res != nil && res.Recognized &&
		res.Status == database.PersonStatusConfirmed && res.PersonID != "" {
		c.personID = res.PersonID
		t := c.transition(StateRecognized)
		t.PersonID = res.PersonID
		t.Result = res
		return t, true
	}

	t := c.transition(StateNotFound)
	t.Result = res
	t.Err = err
	return t, true
}

// Retry forces IDLE and clears the counters. A capture that has not been
// submitted yet is abandoned; one awaiting resolution keeps the guard until
// its answer arrives.
func (c *Controller) Retry() (Transition, bool) {
	if c.state == StateCapturing {
		c.captureInProgress = false
	}
	if c.state == StateIdle {
		c.resetCounters()
		return Transition{}, false
	}
	return c.toIdle(), true
}

func (c *Controller) toIdle() Transition {
	c.captured = nil
	c.personID = ""
	c.smoother.Reset()
	return c.transition(StateIdle)
}

func (c *Controller) resetCounters() {
	c.faceFrames = 0
	c.noFaceFrames = 0
}

// transition moves to the target state. Counters restart at every boundary.
func (c *Controller) transition(to State) Transition {
	t := Transition{From: c.state, To: to, Episode: c.episode, At: c.now()}
	c.state = to
	c.resetCounters()
	return t
}
