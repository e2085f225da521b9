// Package events implements the in-process run event hub: ordered
// publish/subscribe of per-run events to SSE subscribers. The ledger, not the
// hub, is the replay source; new subscribers receive only future events.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/trcoder/trcoder/pkg/types"
)

// subscriberBuffer bounds each subscriber's channel. A subscriber that falls
// this far behind is closed rather than ever blocking the emitter.
const subscriberBuffer = 64

// Subscriber receives the ordered event stream for one run. The channel is
// closed when the subscriber is detached or overflows.
type Subscriber struct {
	C      chan *types.StreamEvent
	runID  string
	closed bool
}

// Hub manages per-run topics
type Hub struct {
	mu     sync.RWMutex
	topics map[string][]*Subscriber
	seq    map[string]*uint64
}

// NewHub creates a new run event hub
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string][]*Subscriber),
		seq:    make(map[string]*uint64),
	}
}

// Attach subscribes to a run's event stream
func (h *Hub) Attach(runID string) *Subscriber {
	sub := &Subscriber{
		C:     make(chan *types.StreamEvent, subscriberBuffer),
		runID: runID,
	}
	h.mu.Lock()
	h.topics[runID] = append(h.topics[runID], sub)
	h.mu.Unlock()
	return sub
}

// Detach removes a subscriber and closes its channel. Detaching twice is
// safe.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(sub)
}

func (h *Hub) detachLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	subs := h.topics[sub.runID]
	for i, s := range subs {
		if s == sub {
			h.topics[sub.runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	sub.closed = true
	close(sub.C)
}

// Emit delivers an event to every current subscriber of the run, in emission
// order. Delivery never blocks: a subscriber whose buffer is full is detached
// and closed so the rest keep receiving.
func (h *Hub) Emit(runID, eventType string, payload map[string]interface{}) *types.StreamEvent {
	event := &types.StreamEvent{
		RunID:   runID,
		Type:    eventType,
		TS:      time.Now().UnixMilli(),
		Payload: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	counter, ok := h.seq[runID]
	if !ok {
		counter = new(uint64)
		h.seq[runID] = counter
	}
	event.Seq = atomic.AddUint64(counter, 1)

	var overflowed []*Subscriber
	for _, sub := range h.topics[runID] {
		select {
		case sub.C <- event:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		h.detachLocked(sub)
	}
	return event
}

// SubscriberCount returns the number of live subscribers for a run
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[runID])
}

// CloseRun detaches every subscriber of a finished run
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range append([]*Subscriber(nil), h.topics[runID]...) {
		h.detachLocked(sub)
	}
	delete(h.topics, runID)
	delete(h.seq, runID)
}
