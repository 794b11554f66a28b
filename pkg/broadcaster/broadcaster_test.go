package broadcaster

import (
	"sync"
	"testing"
	"time"

	"github.com/nstogner/operative/pkg/session"
)

// fakeSink records every event written to it.
type fakeSink struct {
	mu     sync.Mutex
	events []session.Event
	closed bool
	fail   bool
}

func (s *fakeSink) Write(e session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errFake
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) Heartbeat() error { return nil }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFake = fakeErr("fake sink failure")

func TestBroadcastNoSubscribersIsNoop(t *testing.T) {
	h := New()
	h.Broadcast("nobody", session.IndexUpdateEvent("sess-1", time.Now()))
	// No panic, no error: success.
}

func TestPublishGlobalFansOutToAllSinks(t *testing.T) {
	h := New()
	var sinks []*fakeSink
	for i := 0; i < 3; i++ {
		s := &fakeSink{}
		h.AddClient("x", s)
		sinks = append(sinks, s)
	}
	y := &fakeSink{}
	h.AddClient("y", y)
	sinks = append(sinks, y)

	h.PublishGlobal(session.IndexUpdateEvent("sess-1", time.Now()))

	for i, s := range sinks {
		// connected handshake + 1 broadcast = 2
		if got := s.count(); got != 2 {
			t.Errorf("sink %d got %d events, want 2", i, got)
		}
	}

	h.Broadcast("x", session.IndexUpdateEvent("sess-2", time.Now()))
	for i, s := range sinks[:3] {
		if got := s.count(); got != 3 {
			t.Errorf("x sink %d got %d events, want 3", i, got)
		}
	}
	if got := y.count(); got != 2 {
		t.Errorf("y sink got %d events, want 2 (must not receive x's broadcast)", got)
	}
}

func TestCloseSessionStopsDelivery(t *testing.T) {
	h := New()
	s := &fakeSink{}
	h.AddClient("x", s)

	h.CloseSession("x")
	if !s.closed {
		t.Error("sink not closed after CloseSession")
	}

	before := s.count()
	h.Broadcast("x", session.IndexUpdateEvent("sess-1", time.Now()))
	if s.count() != before {
		t.Error("sink received an event after its session was closed")
	}
}

func TestDeadSinkEvicted(t *testing.T) {
	h := New()
	s := &fakeSink{}
	h.AddClient("x", s)
	s.fail = true

	h.Broadcast("x", session.IndexUpdateEvent("sess-1", time.Now()))

	h.mu.Lock()
	_, stillPresent := h.sinks["x"][s]
	h.mu.Unlock()
	if stillPresent {
		t.Error("dead sink was not evicted")
	}
}
