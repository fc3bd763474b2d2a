package overlay

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/cue/internal/client"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/presence"
	"github.com/kozaktomas/cue/internal/recognition"
)

type staticResolver struct {
	result *recognition.Result
}

func (r staticResolver) Resolve(_ context.Context, _ [][]byte) (*recognition.Result, error) {
	return r.result, nil
}

type fakeHUD struct {
	hud *client.HUD
}

func (f fakeHUD) HUD(_ context.Context, _ string, _ database.PersonStatus, _ string) (*client.HUD, error) {
	return f.hud, nil
}

func newTestBridge(t *testing.T, hud HUDSource) (*Bridge, *presence.Session, *httptest.Server) {
	t.Helper()
	session := presence.NewSession(staticResolver{result: &recognition.Result{
		Recognized: true,
		PersonID:   "3f0c7a9e-5a0e-4c1b-9d55-1f9b2a6c8e11",
		Status:     database.PersonStatusConfirmed,
		Confidence: 0.93,
	}}, presence.SessionConfig{
		Controller:      presence.DefaultConfig(),
		CaptureInterval: 5 * time.Millisecond,
		ResolveTimeout:  time.Second,
	})
	bridge := NewBridge(session, hud, "en")
	srv := httptest.NewServer(bridge.Handler())
	t.Cleanup(srv.Close)
	return bridge, session, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	// The current state is always sent first.
	first := readUntil(t, conn, func(m outbound) bool { return true })
	if first.Type != msgState {
		t.Fatalf("expected initial state message, got %+v", first)
	}
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(outbound) bool) outbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg outbound
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestBridge_RecognizedPersonIsShown(t *testing.T) {
	bridge, session, srv := newTestBridge(t, fakeHUD{hud: &client.HUD{Name: "Asha", Relation: "daughter", Familiarity: 0.3}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer session.Stop()
	go bridge.Run(ctx)

	conn := dial(t, srv)
	image := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	for i := range presence.DefaultConfig().StableFrames {
		err := conn.WriteJSON(inbound{
			Type:  msgFrame,
			Face:  true,
			Box:   &presence.Box{X: float64(i), Y: 10, Width: 50, Height: 50},
			Image: image,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	readUntil(t, conn, func(m outbound) bool { return m.Type == msgPosition && m.Position != nil })
	recognized := readUntil(t, conn, func(m outbound) bool { return m.Type == msgState && m.State == presence.StateRecognized })
	person := readUntil(t, conn, func(m outbound) bool { return m.Type == msgPerson })
	if person.Person == nil || person.Person.Name != "Asha" || person.Person.Relation != "daughter" {
		t.Errorf("unexpected person payload %+v", person.Person)
	}
	if person.Episode != recognized.Episode {
		t.Errorf("person episode %d, recognized episode %d", person.Episode, recognized.Episode)
	}

	if err := conn.WriteJSON(inbound{Type: msgRetry}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m outbound) bool { return m.Type == msgState && m.State == presence.StateIdle })
}

func TestRecorder_CollectsChunksUntilFinal(t *testing.T) {
	bridge, _, srv := newTestBridge(t, nil)
	conn := dial(t, srv)
	ctx := context.Background()
	rec := bridge.Recorder()

	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	readUntil(t, conn, func(m outbound) bool { return m.Type == msgRecord && m.Action == "start" })
	if err := conn.WriteJSON(inbound{Type: msgRecording, Data: base64.StdEncoding.EncodeToString([]byte("abc"))}); err != nil {
		t.Fatal(err)
	}

	type stopResult struct {
		audio []byte
		err   error
	}
	done := make(chan stopResult, 1)
	go func() {
		audio, err := rec.Stop(ctx)
		done <- stopResult{audio, err}
	}()

	readUntil(t, conn, func(m outbound) bool { return m.Type == msgRecord && m.Action == "stop" })
	if err := conn.WriteJSON(inbound{Type: msgRecording, Data: base64.StdEncoding.EncodeToString([]byte("def")), Final: true}); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if res.err != nil || string(res.audio) != "abcdef" {
			t.Errorf("Stop = %q, %v", res.audio, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the final chunk")
	}
}

func TestRecorder_StopWithoutFinalChunk(t *testing.T) {
	bridge, _, srv := newTestBridge(t, nil)
	dial(t, srv)
	bridge.rec.flushTimeout = 20 * time.Millisecond
	rec := bridge.Recorder()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	audio, err := rec.Stop(context.Background())
	if err != nil || audio != nil {
		t.Errorf("expected no audio, got %q, %v", audio, err)
	}
}

func TestRecorder_NoPeer(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)
	rec := bridge.Recorder()

	if err := rec.Start(context.Background()); err != errNoPeer {
		t.Errorf("expected errNoPeer, got %v", err)
	}
	audio, err := rec.Stop(context.Background())
	if err != nil || audio != nil {
		t.Errorf("Stop after failed Start = %q, %v", audio, err)
	}
	if err := bridge.Player().Play(context.Background(), []byte("mp3")); err != errNoPeer {
		t.Errorf("expected errNoPeer from Play, got %v", err)
	}
}

func TestPlayer_SendsAudio(t *testing.T) {
	bridge, _, srv := newTestBridge(t, nil)
	conn := dial(t, srv)

	if err := bridge.Player().Play(context.Background(), []byte("mp3")); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, func(m outbound) bool { return m.Type == msgPlay })
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil || string(audio) != "mp3" {
		t.Errorf("play payload = %q, %v", audio, err)
	}
}

func TestBridge_NewConnectionReplacesOld(t *testing.T) {
	_, _, srv := newTestBridge(t, nil)
	first := dial(t, srv)
	dial(t, srv)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg outbound
	if err := first.ReadJSON(&msg); err == nil {
		t.Errorf("old connection still open, got %+v", msg)
	}
}

func TestCheckLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "127.0.0.1:8090", true},
		{"http://localhost:3000", "127.0.0.1:8090", true},
		{"http://127.0.0.1:8090", "127.0.0.1:8090", true},
		{"http://kiosk.lan:8090", "kiosk.lan:8090", true},
		{"https://evil.example", "127.0.0.1:8090", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkLocalOrigin(r); got != tt.want {
				t.Errorf("checkLocalOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
