package presence

import "sync"

// LatestFrame is a single-slot mailbox: writers overwrite, readers always get
// the newest frame. Capture never queues stale frames.
type LatestFrame struct {
	mu    sync.Mutex
	frame []byte
	seq   uint64
}

// Publish replaces the held frame. Empty frames are ignored.
func (l *LatestFrame) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}
	l.mu.Lock()
	l.frame = frame
	l.seq++
	l.mu.Unlock()
}

// Latest returns the newest frame and its sequence number; zero when none.
func (l *LatestFrame) Latest() ([]byte, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.seq
}

// Clear drops the held frame and returns the sequence it had reached.
func (l *LatestFrame) Clear() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = nil
	return l.seq
}
