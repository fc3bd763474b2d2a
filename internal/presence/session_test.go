package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/cue/internal/recognition"
)

type fakeResolver struct {
	mu      sync.Mutex
	batches [][][]byte
	result  *recognition.Result
	err     error
	// release, when set, blocks Resolve until closed.
	release chan struct{}
	called  chan struct{}
}

func newFakeResolver(result *recognition.Result) *fakeResolver {
	return &fakeResolver{result: result, called: make(chan struct{}, 10)}
}

func (f *fakeResolver) Resolve(ctx context.Context, frames [][]byte) (*recognition.Result, error) {
	f.mu.Lock()
	f.batches = append(f.batches, frames)
	f.mu.Unlock()
	f.called <- struct{}{}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeResolver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testSession(r Resolver) *Session {
	return NewSession(r, SessionConfig{
		Controller:      DefaultConfig(),
		CaptureInterval: 5 * time.Millisecond,
		ResolveTimeout:  time.Second,
	})
}

// waitState reads events until the given state arrives.
func waitState(t *testing.T, events chan Event, want State) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == EventState && ev.State == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func observeFaces(s *Session, n int) {
	for i := range n {
		s.Observe(Observation{
			FacePresent: true,
			Box:         &Box{X: float64(i), Y: 0, Width: 40, Height: 40},
			Frame:       []byte{byte('a' + i)},
		})
	}
}

func TestSession_RecognizesStableFace(t *testing.T) {
	r := newFakeResolver(confirmed("p1"))
	s := testSession(r)
	events := s.Subscribe(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	observeFaces(s, 10)
	waitState(t, events, StateCapturing)
	scan := waitState(t, events, StateScanning)
	if len(scan.Transition.Frames) != 5 {
		t.Errorf("expected 5 captured frames, got %d", len(scan.Transition.Frames))
	}
	ev := waitState(t, events, StateRecognized)
	if ev.Transition.PersonID != "p1" {
		t.Errorf("unexpected transition %+v", ev.Transition)
	}
	if s.State() != StateRecognized {
		t.Errorf("State() = %s", s.State())
	}
	if r.calls() != 1 {
		t.Errorf("expected one resolve call, got %d", r.calls())
	}

	s.Retry()
	waitState(t, events, StateIdle)
}

func TestSession_PositionEvents(t *testing.T) {
	s := testSession(newFakeResolver(confirmed("p1")))
	positions := s.Subscribe(true)
	states := s.Subscribe(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	observeFaces(s, 1)
	select {
	case ev := <-positions:
		if ev.Type != EventPosition || ev.Position == nil {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no position event")
	}
	select {
	case ev := <-states:
		t.Errorf("state-only listener got %+v", ev)
	default:
	}
}

func TestSession_StoppedSessionIgnoresLateResult(t *testing.T) {
	r := newFakeResolver(confirmed("p1"))
	r.release = make(chan struct{})
	s := testSession(r)
	events := s.Subscribe(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	observeFaces(s, 10)
	waitState(t, events, StateScanning)
	<-r.called

	s.Stop()
	close(r.release)

	// The stream is closed by Stop and nothing after SCANNING was published.
	for ev := range events {
		if ev.State == StateRecognized {
			t.Errorf("late result reached a stopped session: %+v", ev)
		}
	}
	if s.State() != StateScanning {
		t.Errorf("state changed after stop: %s", s.State())
	}
	// Observe after stop must not block.
	s.Observe(Observation{FacePresent: true})
}

func TestSession_StartTwice(t *testing.T) {
	s := testSession(newFakeResolver(nil))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err != ErrSessionStarted {
		t.Errorf("second Start = %v", err)
	}
}

func TestSession_StopWithoutStart(t *testing.T) {
	s := testSession(newFakeResolver(nil))
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed")
	}
}

func (f *fakeResolver) batch(i int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func TestSession_CapturesEachFrameOnce(t *testing.T) {
	r := newFakeResolver(confirmed("p1"))
	s := testSession(r)
	events := s.Subscribe(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// No frames arrive after the tenth, so only that one may be submitted.
	observeFaces(s, 10)
	waitState(t, events, StateRecognized)
	if got := r.batch(0); len(got) != 1 || string(got[0]) != "j" {
		t.Errorf("expected the single fresh frame, got %q", got)
	}
}

func TestSession_NewVisitNeverReusesPreviousFrame(t *testing.T) {
	r := newFakeResolver(confirmed("visitor-a"))
	s := testSession(r)
	events := s.Subscribe(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for range 10 {
		s.Observe(Observation{FacePresent: true, Box: &Box{Width: 40, Height: 40}, Frame: []byte("visitor-a")})
	}
	waitState(t, events, StateRecognized)

	for range DefaultConfig().LostFrames {
		s.Observe(Observation{})
	}
	waitState(t, events, StateIdle)

	// The next visitor's detections carry no image.
	for range 10 {
		s.Observe(Observation{FacePresent: true, Box: &Box{Width: 40, Height: 40}})
	}
	ev := waitState(t, events, StateNotFound)
	if ev.Transition.Err == nil {
		t.Errorf("expected an empty capture error, got result %+v", ev.Transition.Result)
	}
	if r.calls() != 1 {
		t.Errorf("expected the resolver to see only the first visit, got %d calls", r.calls())
	}
}
