// Package overlay bridges a presence session to the local overlay page over a
// websocket. The page streams per-frame face detections and audio, and the
// bridge streams back session state, the smoothed face anchor and the
// display fields of whoever was recognized.
package overlay

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kozaktomas/cue/internal/client"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/presence"
)

var errNoPeer = errors.New("no overlay connected")

// HUDSource fetches display fields for a recognized person.
type HUDSource interface {
	HUD(ctx context.Context, personID string, status database.PersonStatus, lang string) (*client.HUD, error)
}

// Bridge connects one session to at most one overlay page at a time. A new
// connection replaces the previous one.
type Bridge struct {
	session  *presence.Session
	hud      HUDSource
	lang     string
	upgrader websocket.Upgrader
	events   chan presence.Event

	mu      sync.Mutex
	peer    *peer
	state   presence.State
	episode uint64

	rec recorder
}

// NewBridge creates a bridge. hud may be nil, in which case no person
// details are sent.
func NewBridge(session *presence.Session, hud HUDSource, lang string) *Bridge {
	b := &Bridge{
		session: session,
		hud:     hud,
		lang:    lang,
		state:   presence.StateIdle,
		events:  session.Subscribe(true),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLocalOrigin,
	}
	b.rec.bridge = b
	return b
}

// Handler returns the bridge HTTP handler serving /ws.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", b.serveWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Recorder returns the recorder backed by the overlay page microphone.
func (b *Bridge) Recorder() *Recorder { return &Recorder{b: b} }

// Player returns the player backed by the overlay page speaker.
func (b *Bridge) Player() *Player { return &Player{b: b} }

// checkLocalOrigin accepts same-host and loopback pages only.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("overlay: upgrade failed: %v", err)
		return
	}
	p := newPeer(conn)

	b.mu.Lock()
	old := b.peer
	b.peer = p
	current := outbound{Type: msgState, State: b.state, Episode: b.episode}
	b.mu.Unlock()
	if old != nil {
		old.close()
	}
	log.Printf("overlay: connected from %s", r.RemoteAddr)

	_ = p.enqueue(current)
	go p.writePump()
	p.readPump(b.handle)

	b.mu.Lock()
	if b.peer == p {
		b.peer = nil
	}
	b.mu.Unlock()
	log.Printf("overlay: disconnected")
}

func (b *Bridge) handle(msg inbound) {
	switch msg.Type {
	case msgFrame:
		obs := presence.Observation{FacePresent: msg.Face, Box: msg.Box}
		if msg.Image != "" {
			frame, err := embedding.DecodeImagePayload(msg.Image)
			if err != nil {
				log.Printf("overlay: dropping invalid frame image: %v", err)
			} else {
				obs.Frame = frame
			}
		}
		b.session.Observe(obs)
	case msgRetry:
		b.session.Retry()
	case msgRecording:
		b.rec.chunk(msg.Data, msg.Final)
	default:
		log.Printf("overlay: unknown message type %q", msg.Type)
	}
}

// send queues a message to the current peer.
func (b *Bridge) send(msg outbound) error {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p == nil {
		return errNoPeer
	}
	return p.enqueue(msg)
}

// Run forwards session events to the overlay until ctx ends. Events
// published between NewBridge and Run are buffered.
func (b *Bridge) Run(ctx context.Context) {
	defer b.session.Unsubscribe(b.events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.forward(ctx, ev)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev presence.Event) {
	if ev.Type == presence.EventPosition {
		_ = b.send(outbound{Type: msgPosition, Position: ev.Position})
		return
	}

	var episode uint64
	if ev.Transition != nil {
		episode = ev.Transition.Episode
	}
	b.mu.Lock()
	b.state = ev.State
	b.episode = episode
	b.mu.Unlock()

	_ = b.send(outbound{Type: msgState, State: ev.State, Episode: episode})

	if ev.State == presence.StateRecognized && b.hud != nil && ev.Transition != nil && ev.Transition.PersonID != "" {
		go b.sendPerson(ctx, episode, ev.Transition.PersonID)
	}
}

// sendPerson fetches display fields once per recognized episode and drops
// them if the session moved on in the meantime.
func (b *Bridge) sendPerson(ctx context.Context, episode uint64, personID string) {
	hud, err := b.hud.HUD(ctx, personID, database.PersonStatusConfirmed, b.lang)
	if err != nil {
		log.Printf("overlay: could not load display fields: %v", err)
		return
	}
	if hud.Name == "" {
		return
	}

	b.mu.Lock()
	current := b.state == presence.StateRecognized && b.episode == episode
	b.mu.Unlock()
	if !current {
		return
	}
	_ = b.send(outbound{
		Type:    msgPerson,
		Episode: episode,
		Person: &Person{
			Name:        hud.Name,
			Relation:    hud.Relation,
			Routine:     hud.Routine,
			Familiarity: hud.Familiarity,
		},
	})
}
