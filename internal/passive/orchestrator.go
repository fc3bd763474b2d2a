// Package passive runs the side effects of a recognition session: recording
// a visit while a confirmed person is in view, playing one audio cue per
// visit and handing the recording off for summarization. Every failure here
// is logged and swallowed; the patient only ever experiences silence.
package passive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/cue/internal/constants"
	"github.com/kozaktomas/cue/internal/presence"
)

// Recorder captures audio between Start and Stop.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop ends the recording and returns what was captured, possibly nothing.
	Stop(ctx context.Context) ([]byte, error)
}

// CueSource produces the spoken cue for a person. Nil audio means skip.
type CueSource interface {
	Cue(ctx context.Context, personID string) ([]byte, error)
}

// Player plays audio.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// MemorySink stores a visit recording for a person.
type MemorySink interface {
	SaveMemory(ctx context.Context, personID string, audio []byte) error
}

// Config toggles the orchestrator features.
type Config struct {
	RecordingEnabled bool
	CueEnabled       bool
	CueDelay         time.Duration
}

// Orchestrator reacts to presence transitions.
type Orchestrator struct {
	cfg      Config
	recorder Recorder
	cues     CueSource
	player   Player
	sink     MemorySink

	mu              sync.Mutex
	recording       bool
	recordingPerson string
	cuePlayed       bool
	cancelCue       context.CancelFunc

	wg sync.WaitGroup
}

// New creates an orchestrator. Collaborators for disabled features may be nil.
func New(cfg Config, recorder Recorder, cues CueSource, player Player, sink MemorySink) *Orchestrator {
	if cfg.CueDelay <= 0 {
		cfg.CueDelay = constants.CueDelay
	}
	if recorder == nil || sink == nil {
		cfg.RecordingEnabled = false
	}
	if cues == nil || player == nil {
		cfg.CueEnabled = false
	}
	return &Orchestrator{cfg: cfg, recorder: recorder, cues: cues, player: player, sink: sink}
}

// Run consumes session events until the channel closes or ctx ends, then
// finishes any pending recording.
func (o *Orchestrator) Run(ctx context.Context, events <-chan presence.Event) {
	for {
		select {
		case <-ctx.Done():
			o.finish(context.WithoutCancel(ctx))
			return
		case ev, ok := <-events:
			if !ok {
				o.finish(ctx)
				return
			}
			if ev.Type == presence.EventState && ev.Transition != nil {
				o.HandleTransition(ctx, *ev.Transition)
			}
		}
	}
}

// HandleTransition applies one state change.
func (o *Orchestrator) HandleTransition(ctx context.Context, t presence.Transition) {
	switch t.To {
	case presence.StateRecognized:
		o.onRecognized(ctx, t.PersonID)
	case presence.StateIdle:
		o.onIdle(ctx)
	}
}

// Wait blocks until background cue playback and memory saves are done.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) onRecognized(ctx context.Context, personID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cfg.RecordingEnabled && !o.recording {
		if err := o.recorder.Start(ctx); err != nil {
			log.Printf("passive: recording start failed: %v", err)
		} else {
			o.recording = true
			o.recordingPerson = personID
		}
	}

	if o.cfg.CueEnabled && !o.cuePlayed {
		o.cuePlayed = true
		cueCtx, cancel := context.WithCancel(ctx)
		o.cancelCue = cancel
		o.wg.Add(1)
		go o.playCue(cueCtx, personID)
	}
}

func (o *Orchestrator) playCue(ctx context.Context, personID string) {
	defer o.wg.Done()

	timer := time.NewTimer(o.cfg.CueDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	audio, err := o.cues.Cue(ctx, personID)
	if err != nil {
		log.Printf("passive: cue for %s failed: %v", shortID(personID), err)
		return
	}
	if len(audio) == 0 || ctx.Err() != nil {
		return
	}
	if err := o.player.Play(ctx, audio); err != nil {
		log.Printf("passive: cue playback failed: %v", err)
	}
}

func (o *Orchestrator) onIdle(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelCue != nil {
		o.cancelCue()
		o.cancelCue = nil
	}
	o.cuePlayed = false
	o.stopRecording(ctx)
}

// finish stops a recording left open when the session ends.
func (o *Orchestrator) finish(ctx context.Context) {
	o.onIdle(ctx)
}

// stopRecording must be called with o.mu held.
func (o *Orchestrator) stopRecording(ctx context.Context) {
	if !o.recording {
		return
	}
	personID := o.recordingPerson
	o.recording = false
	o.recordingPerson = ""

	audio, err := o.recorder.Stop(ctx)
	if err != nil {
		log.Printf("passive: recording stop failed: %v", err)
		return
	}
	if len(audio) == 0 {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sink.SaveMemory(context.WithoutCancel(ctx), personID, audio); err != nil {
			log.Printf("passive: saving memory for %s failed: %v", shortID(personID), err)
			return
		}
		log.Printf("passive: saved %d bytes of audio for %s", len(audio), shortID(personID))
	}()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
