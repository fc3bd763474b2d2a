package presence

import (
	"log"
	"sync"

	"github.com/kozaktomas/cue/internal/constants"
)

// Event types.
const (
	EventState    = "state"
	EventPosition = "position"
)

// Event is published to session listeners.
type Event struct {
	Type       string      `json:"type"`
	State      State       `json:"state"`
	Position   *Box        `json:"position,omitempty"`
	Transition *Transition `json:"-"`
}

type listener struct {
	ch        chan Event
	positions bool
}

// Broadcaster fans session events out to listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []listener
	closed    bool
}

// AddListener adds an event listener. Listeners that skip positions only
// receive state events.
func (b *Broadcaster) AddListener(positions bool) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, listener{ch: ch, positions: positions})
	return ch
}

// RemoveListener removes and closes an event listener.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.ch == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all interested listeners without blocking.
// A full listener drops position events. A state event instead evicts the
// listener's oldest queued event, so the newest state always arrives.
func (b *Broadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if event.Type == EventPosition && !l.positions {
			continue
		}
		select {
		case l.ch <- event:
			continue
		default:
		}
		if event.Type != EventState {
			continue
		}
		select {
		case old := <-l.ch:
			if old.Type == EventState {
				log.Printf("presence: listener full, dropped %s event", old.State)
			}
		default:
		}
		select {
		case l.ch <- event:
		default:
			log.Printf("presence: listener full, dropped %s event", event.State)
		}
	}
}

// Close closes every listener; later listeners are returned closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, l := range b.listeners {
		close(l.ch)
	}
	b.listeners = nil
}
