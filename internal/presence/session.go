package presence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/recognition"
)

// ErrSessionStarted is returned when Start is called twice.
var ErrSessionStarted = errors.New("session already started")

// Resolver answers one capture episode.
type Resolver interface {
	Resolve(ctx context.Context, frames [][]byte) (*recognition.Result, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Controller      Config
	CaptureInterval time.Duration
	ResolveTimeout  time.Duration
}

type resolution struct {
	episode uint64
	result  *recognition.Result
	err     error
}

// Session runs one Controller on a single goroutine. Frame observations,
// capture ticks, resolver answers and retries are all serialized through
// its loop, so the Controller is never touched concurrently.
type Session struct {
	cfg      SessionConfig
	resolver Resolver
	ctrl     *Controller
	frames   LatestFrame
	events   Broadcaster

	observations chan Observation
	retries      chan struct{}
	results      chan resolution

	// Owned by the loop goroutine.
	ticker *time.Ticker
	tickC  <-chan time.Time
	// lastSeq is the sequence of the newest frame already captured or
	// discarded; only frames published after it may be captured.
	lastSeq uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu    sync.RWMutex
	state State
}

// NewSession creates a session; call Start to run it.
func NewSession(resolver Resolver, cfg SessionConfig) *Session {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = constants.CaptureInterval
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = constants.ResolveTimeout
	}
	return &Session{
		cfg:          cfg,
		resolver:     resolver,
		ctrl:         NewController(cfg.Controller),
		observations: make(chan Observation),
		retries:      make(chan struct{}, 1),
		results:      make(chan resolution),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateIdle,
	}
}

// Start launches the session loop. It stops when ctx ends or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		go s.run(ctx)
	})
	if !started {
		return ErrSessionStarted
	}
	return nil
}

// Stop ends the session and waits for its loop to exit. In-flight
// resolutions are left to finish; their answers are discarded.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the latest state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel of session events. Listeners that do not ask
// for positions only receive state changes.
func (s *Session) Subscribe(positions bool) chan Event {
	return s.events.AddListener(positions)
}

// Unsubscribe removes a listener.
func (s *Session) Unsubscribe(ch chan Event) {
	s.events.RemoveListener(ch)
}

// Observe feeds one frame classification into the session. It blocks until
// the loop accepts it and is a no-op after Stop.
func (s *Session) Observe(obs Observation) {
	s.frames.Publish(obs.Frame)
	select {
	case s.observations <- obs:
	case <-s.done:
	}
}

// Retry forces the session back to IDLE.
func (s *Session) Retry() {
	select {
	case s.retries <- struct{}{}:
	default:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.events.Close()
	defer s.stopTicker()

	for {
		var (
			t  Transition
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return

		case obs := <-s.observations:
			t, ok = s.ctrl.Observe(obs)
			if obs.FacePresent && obs.Box != nil {
				if pos, seen := s.ctrl.Position(); seen {
					s.events.SendEvent(Event{Type: EventPosition, State: s.ctrl.State(), Position: &pos})
				}
			}

		case <-s.tickC:
			t, ok = s.captureFrame()

		case r := <-s.results:
			t, ok = s.ctrl.ResolutionDone(r.episode, r.result, r.err)
			if !ok {
				log.Printf("presence: dropped stale result for episode %d", r.episode)
			}

		case <-s.retries:
			t, ok = s.ctrl.Retry()
		}

		if ok {
			s.handle(ctx, t)
		}
	}
}

// handle publishes a transition and schedules what the new state needs.
func (s *Session) handle(ctx context.Context, t Transition) {
	s.publish(t)
	switch t.To {
	case StateCapturing:
		// First frame right away, the rest on the interval.
		s.stopTicker()
		s.ticker = time.NewTicker(s.cfg.CaptureInterval)
		s.tickC = s.ticker.C
		if next, ok := s.captureFrame(); ok {
			s.handle(ctx, next)
		}
	case StateScanning:
		s.stopTicker()
		go s.resolve(ctx, t.Episode, t.Frames)
	case StateIdle:
		s.stopTicker()
		s.forgetFrames()
	default:
		s.stopTicker()
	}
}

// forgetFrames drops the held frame so nothing seen before IDLE can be
// captured for the next visitor.
func (s *Session) forgetFrames() {
	s.lastSeq = s.frames.Clear()
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker, s.tickC = nil, nil
	}
}

// captureFrame takes the newest frame if it arrived since the last capture.
// A slot without a fresh frame stays empty and is dropped before resolving.
func (s *Session) captureFrame() (Transition, bool) {
	frame, seq := s.frames.Latest()
	if seq <= s.lastSeq {
		frame = nil
	} else {
		s.lastSeq = seq
	}
	return s.ctrl.CaptureFrame(frame)
}

func (s *Session) resolve(ctx context.Context, episode uint64, frames [][]byte) {
	batch := make([][]byte, 0, len(frames))
	for _, f := range frames {
		if len(f) > 0 {
			batch = append(batch, f)
		}
	}

	// A stopped session must not abort a resolution that may be writing.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ResolveTimeout)
	defer cancel()

	var (
		res *recognition.Result
		err error
	)
	if len(batch) == 0 {
		err = errors.New("no frames captured")
	} else {
		res, err = s.resolver.Resolve(rctx, batch)
	}
	if err != nil {
		log.Printf("presence: resolution for episode %d failed: %v", episode, err)
	}

	select {
	case s.results <- resolution{episode: episode, result: res, err: err}:
	case <-s.done:
	}
}

func (s *Session) publish(t Transition) {
	s.mu.Lock()
	s.state = t.To
	s.mu.Unlock()
	s.events.SendEvent(Event{Type: EventState, State: t.To, Transition: &t})
}
