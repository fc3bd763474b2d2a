package overlay

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/cue/internal/constants"
)

var errPeerClosed = errors.New("overlay peer closed")

// peer is one connected overlay page. Writes go through send so that only
// writePump touches the connection for writing.
type peer struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		conn:   conn,
		send:   make(chan []byte, constants.EventChannelBuffer),
		closed: make(chan struct{}),
	}
}

// enqueue queues a message without blocking. A peer that cannot keep up
// loses the message.
func (p *peer) enqueue(msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-p.closed:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.closed:
		return errPeerClosed
	default:
		log.Printf("overlay: peer send buffer full, dropped %s message", msg.Type)
		return nil
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

// readPump decodes inbound messages until the connection fails.
func (p *peer) readPump(handle func(inbound)) {
	defer p.close()
	p.conn.SetReadLimit(constants.OverlayMaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(constants.OverlayPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(constants.OverlayPongWait))
	})
	for {
		var msg inbound
		if err := p.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("overlay: read error: %v", err)
			}
			return
		}
		handle(msg)
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (p *peer) writePump() {
	ticker := time.NewTicker(constants.OverlayPingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()
	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(constants.OverlayWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(constants.OverlayWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
