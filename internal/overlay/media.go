package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/cue/internal/constants"
)

type recState int

const (
	recIdle recState = iota
	recActive
	recStopping
)

// recorder collects audio chunks streamed by the overlay page between a
// record start and the final chunk after record stop.
type recorder struct {
	bridge *Bridge

	mu    sync.Mutex
	state recState
	buf   bytes.Buffer
	final chan struct{}
	// flushTimeout overrides RecordingFlushTimeout in tests.
	flushTimeout time.Duration
}

func (r *recorder) chunk(data string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == recIdle {
		return
	}
	if data != "" {
		audio, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			log.Printf("overlay: dropping invalid audio chunk: %v", err)
		} else {
			r.buf.Write(audio)
		}
	}
	if final && r.state == recStopping && r.final != nil {
		close(r.final)
		r.final = nil
	}
}

// Recorder records through the overlay page.
type Recorder struct{ b *Bridge }

// Start asks the page to start recording. Audio from an earlier recording
// that was never stopped is discarded.
func (r *Recorder) Start(_ context.Context) error {
	rec := &r.b.rec
	rec.mu.Lock()
	rec.buf.Reset()
	rec.state = recActive
	rec.final = nil
	rec.mu.Unlock()

	if err := r.b.send(outbound{Type: msgRecord, Action: "start"}); err != nil {
		rec.mu.Lock()
		rec.state = recIdle
		rec.mu.Unlock()
		return err
	}
	return nil
}

// Stop asks the page to stop and waits briefly for its last chunk.
func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	rec := &r.b.rec
	rec.mu.Lock()
	if rec.state != recActive {
		rec.mu.Unlock()
		return nil, nil
	}
	rec.state = recStopping
	final := make(chan struct{})
	rec.final = final
	timeout := rec.flushTimeout
	rec.mu.Unlock()
	if timeout <= 0 {
		timeout = constants.RecordingFlushTimeout
	}

	if err := r.b.send(outbound{Type: msgRecord, Action: "stop"}); err == nil {
		timer := time.NewTimer(timeout)
		select {
		case <-final:
		case <-timer.C:
			log.Printf("overlay: no final audio chunk after %s", timeout)
		case <-ctx.Done():
		}
		timer.Stop()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	audio := bytes.Clone(rec.buf.Bytes())
	rec.buf.Reset()
	rec.state = recIdle
	rec.final = nil
	if len(audio) == 0 {
		return nil, nil
	}
	return audio, nil
}

// Player plays audio on the overlay page.
type Player struct{ b *Bridge }

// Play sends the audio to the page. It does not wait for playback.
func (p *Player) Play(_ context.Context, audio []byte) error {
	return p.b.send(outbound{Type: msgPlay, Audio: base64.StdEncoding.EncodeToString(audio)})
}
