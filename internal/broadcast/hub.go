// Package broadcast fans meeting updates out to every connected listener,
// and optionally to other daemon instances through Redis.
package broadcast

import (
	"sync"

	"github.com/kalambet/opscribe/internal/metrics"
)

// DefaultBuffer is the per-listener queue length.
const DefaultBuffer = 32

// Forwarder receives every locally published message for delivery to other
// instances. Forward must not block.
type Forwarder interface {
	Forward(meetingID string, payload []byte)
}

// Listener is one subscriber to a meeting's updates. Messages arrive on C
// until the listener is removed, at which point C is closed.
type Listener struct {
	C <-chan []byte

	meetingID string
	ch        chan []byte
}

// Hub tracks listeners per meeting. Delivery never blocks: a listener whose
// buffer is full misses the message.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[*Listener]struct{}
	buffer    int
	forwarder Forwarder
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{listeners: make(map[string]map[*Listener]struct{}), buffer: buffer}
}

// SetForwarder installs the cross-instance relay. Call before serving.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Subscribe registers a listener for meetingID.
func (h *Hub) Subscribe(meetingID string) *Listener {
	ch := make(chan []byte, h.buffer)
	l := &Listener{C: ch, meetingID: meetingID, ch: ch}

	h.mu.Lock()
	set, ok := h.listeners[meetingID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[meetingID] = set
	}
	set[l] = struct{}{}
	h.mu.Unlock()

	metrics.Listeners.Inc()
	return l
}

// Unsubscribe removes l and closes its channel. Removing twice is a no-op.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.listeners[l.meetingID]
	if !ok {
		return
	}
	if _, ok := set[l]; !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(h.listeners, l.meetingID)
	}
	close(l.ch)
	metrics.Listeners.Dec()
}

// Close removes every listener of meetingID.
func (h *Hub) Close(meetingID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for l := range h.listeners[meetingID] {
		close(l.ch)
		metrics.Listeners.Dec()
	}
	delete(h.listeners, meetingID)
}

// Publish delivers payload to local listeners and hands it to the
// forwarder. It returns the number of local listeners reached.
func (h *Hub) Publish(meetingID string, payload []byte) int {
	n := h.Deliver(meetingID, payload)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f != nil {
		f.Forward(meetingID, payload)
	}
	return n
}

// Deliver sends payload to local listeners only.
func (h *Hub) Deliver(meetingID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for l := range h.listeners[meetingID] {
		select {
		case l.ch <- payload:
			delivered++
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
	return delivered
}

// Count returns the number of listeners on meetingID.
func (h *Hub) Count(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[meetingID])
}
