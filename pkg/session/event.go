package session

import "time"

// EventType enumerates the StreamEvent shapes broadcast over the client
// stream protocol (spec §6).
type EventType string

const (
	EventConnected            EventType = "connected"
	EventClosed               EventType = "closed"
	EventIndexUpdate          EventType = "index_update"
	EventSessionListUpdate    EventType = "session_list_update"
	EventSessionContentUpdate EventType = "session_content_update"
)

// SessionListEventType distinguishes why a session_list_update fired.
type SessionListEventType string

const (
	SessionCreated  SessionListEventType = "created"
	SessionModified SessionListEventType = "modified"
)

// Event is the tagged union broadcast to stream clients. Data holds the
// type-specific payload, or nil for the bare connected/closed/index_update
// shapes that carry their fields inline.
type Event struct {
	Type        EventType `json:"type"`
	StreamingID string    `json:"streaming_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id,omitempty"`
	Data        any       `json:"data,omitempty"`
}

// SessionListUpdate is the payload of a session_list_update event.
type SessionListUpdate struct {
	SessionID string               `json:"sessionId"`
	EventType SessionListEventType `json:"eventType"`
	Metadata  *Record              `json:"metadata,omitempty"`
}

// SessionContentUpdate is the payload of a session_content_update event,
// published on the per-session channel "session-<sessionId>".
type SessionContentUpdate struct {
	Messages []Message `json:"messages"`
}

// ConnectedEvent builds the handshake event sent immediately after a client
// attaches to a streamingId.
func ConnectedEvent(streamingID string, now time.Time) Event {
	return Event{Type: EventConnected, StreamingID: streamingID, Timestamp: now}
}

// ClosedEvent builds the teardown event sent when a streamingId's session
// is explicitly closed.
func ClosedEvent(streamingID string, now time.Time) Event {
	return Event{Type: EventClosed, StreamingID: streamingID, Timestamp: now}
}

// IndexUpdateEvent builds the event published on every successful per-file
// re-index.
func IndexUpdateEvent(sessionID string, now time.Time) Event {
	return Event{Type: EventIndexUpdate, SessionID: sessionID, Timestamp: now}
}

// SessionContentChannel returns the per-session streamingId that
// session_content_update events are published on.
func SessionContentChannel(sessionID string) string {
	return "session-" + sessionID
}
