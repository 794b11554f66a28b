// Package broadcaster implements the stream broadcaster hub: it fans out
// StreamEvents to long-lived client sinks keyed by streamingId, including
// the "global" publish-time wildcard.
package broadcaster

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nstogner/operative/pkg/session"
)

const heartbeatInterval = 30 * time.Second

// Sink is an abstract write-only event target. Implementations (SSE
// response writers, WebSocket connections) must make Write and Close safe
// for concurrent use.
type Sink interface {
	// Write sends one framed event. An error marks the sink dead.
	Write(event session.Event) error
	// Heartbeat sends a protocol-level liveness ping. An error marks the
	// sink dead.
	Heartbeat() error
	// Close terminates the sink.
	Close() error
}

// Hub fans out events to sinks grouped by streamingId.
type Hub struct {
	mu        sync.Mutex
	sinks     map[string]map[Sink]struct{}
	heartbeat *time.Timer
	stopHB    chan struct{}
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		sinks: make(map[string]map[Sink]struct{}),
	}
}

// AddClient registers sink under streamingId, sends the initial connected
// handshake, and starts the heartbeat if this is the first client overall.
// If the handshake write fails, the sink is removed immediately.
func (h *Hub) AddClient(streamingID string, sink Sink) {
	h.mu.Lock()

	if h.sinks[streamingID] == nil {
		h.sinks[streamingID] = make(map[Sink]struct{})
	}
	h.sinks[streamingID][sink] = struct{}{}

	first := h.totalSinksLocked() == 1
	if first {
		h.startHeartbeatLocked()
	}
	h.mu.Unlock()

	if err := sink.Write(session.ConnectedEvent(streamingID, time.Now())); err != nil {
		h.removeClient(streamingID, sink)
	}
}

// RemoveClient deregisters sink from streamingId.
func (h *Hub) RemoveClient(streamingID string, sink Sink) {
	h.removeClient(streamingID, sink)
}

func (h *Hub) removeClient(streamingID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeClientLocked(streamingID, sink)
}

func (h *Hub) removeClientLocked(streamingID string, sink Sink) {
	set, ok := h.sinks[streamingID]
	if !ok {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(h.sinks, streamingID)
	}
	if h.totalSinksLocked() == 0 {
		h.stopHeartbeatLocked()
	}
}

func (h *Hub) totalSinksLocked() int {
	n := 0
	for _, set := range h.sinks {
		n += len(set)
	}
	return n
}

// Broadcast sends event to every sink registered under streamingId. If
// none are registered, the event is silently dropped.
func (h *Hub) Broadcast(streamingID string, event session.Event) {
	h.deliver(streamingID, event)
}

// PublishGlobal sends event to every sink across every streamingId. The
// "global" channel is a publish-time wildcard, not a subscription key.
func (h *Hub) PublishGlobal(event session.Event) {
	h.mu.Lock()
	type target struct {
		id   string
		sink Sink
	}
	var targets []target
	for id, set := range h.sinks {
		for sink := range set {
			targets = append(targets, target{id, sink})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		h.writeOrEvict(t.id, t.sink, event)
	}
}

func (h *Hub) deliver(streamingID string, event session.Event) {
	h.mu.Lock()
	set := h.sinks[streamingID]
	sinks := make([]Sink, 0, len(set))
	for sink := range set {
		sinks = append(sinks, sink)
	}
	h.mu.Unlock()

	for _, sink := range sinks {
		h.writeOrEvict(streamingID, sink, event)
	}
}

func (h *Hub) writeOrEvict(streamingID string, sink Sink, event session.Event) {
	if err := sink.Write(event); err != nil {
		slog.Warn("stream sink write failed, evicting", "streamingId", streamingID, "error", err)
		h.removeClient(streamingID, sink)
	}
}

// CloseSession sends a final closed event to every sink registered under
// streamingId, tears them down, and drops the id from the hub.
func (h *Hub) CloseSession(streamingID string) {
	h.mu.Lock()
	set := h.sinks[streamingID]
	sinks := make([]Sink, 0, len(set))
	for sink := range set {
		sinks = append(sinks, sink)
	}
	delete(h.sinks, streamingID)
	empty := h.totalSinksLocked() == 0
	if empty {
		h.stopHeartbeatLocked()
	}
	h.mu.Unlock()

	closed := session.ClosedEvent(streamingID, time.Now())
	for _, sink := range sinks {
		sink.Write(closed)
		sink.Close()
	}
}

func (h *Hub) startHeartbeatLocked() {
	h.stopHB = make(chan struct{})
	stop := h.stopHB
	go h.heartbeatLoop(stop)
}

func (h *Hub) stopHeartbeatLocked() {
	if h.stopHB != nil {
		close(h.stopHB)
		h.stopHB = nil
	}
}

func (h *Hub) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.Lock()
	type target struct {
		id   string
		sink Sink
	}
	var targets []target
	for id, set := range h.sinks {
		for sink := range set {
			targets = append(targets, target{id, sink})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		if err := t.sink.Heartbeat(); err != nil {
			h.removeClient(t.id, t.sink)
		}
	}
}

