package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temzero/chatter-sub006/internal/model"
)

type fakeSender struct {
	mu     sync.Mutex
	events []model.ServerEvent
	closed bool
}

func (s *fakeSender) Send(ev model.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSender) Events() []model.ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ServerEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSender) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registry event")
		return Event{}
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("first handle sets First flag", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()
		events := r.Subscribe(4)

		connID := r.Register("user-1", &fakeSender{})
		require.NotEmpty(t, connID)

		ev := recvEvent(t, events)
		assert.Equal(t, EventRegistered, ev.Type)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, connID, ev.ConnectionID)
		assert.True(t, ev.First)
	})

	t.Run("second handle for same user is not First", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()
		events := r.Subscribe(4)

		r.Register("user-1", &fakeSender{})
		recvEvent(t, events)

		r.Register("user-1", &fakeSender{})
		ev := recvEvent(t, events)
		assert.False(t, ev.First)
		assert.Len(t, r.HandlesFor("user-1"), 2)
	})
}

func TestRegistryUnregister(t *testing.T) {
	t.Run("last handle sets Last flag and closes sender", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()
		events := r.Subscribe(4)

		sender := &fakeSender{}
		connID := r.Register("user-1", sender)
		recvEvent(t, events)

		r.Unregister(connID)
		ev := recvEvent(t, events)
		assert.Equal(t, EventUnregistered, ev.Type)
		assert.True(t, ev.Last)
		assert.True(t, sender.Closed())
		assert.False(t, r.Online("user-1"))
	})

	t.Run("user stays online while another handle remains", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()
		events := r.Subscribe(8)

		first := r.Register("user-1", &fakeSender{})
		recvEvent(t, events)
		r.Register("user-1", &fakeSender{})
		recvEvent(t, events)

		r.Unregister(first)
		ev := recvEvent(t, events)
		assert.False(t, ev.Last)
		assert.True(t, r.Online("user-1"))
	})

	t.Run("is idempotent", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()
		events := r.Subscribe(8)

		connID := r.Register("user-1", &fakeSender{})
		recvEvent(t, events)

		r.Unregister(connID)
		recvEvent(t, events)
		r.Unregister(connID)

		select {
		case ev := <-events:
			t.Fatalf("unexpected second event: %+v", ev)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestRegistryHeartbeat(t *testing.T) {
	t.Run("missed deadline evicts the connection", func(t *testing.T) {
		r := NewRegistry(30 * time.Millisecond)
		defer r.Close()
		events := r.Subscribe(4)

		sender := &fakeSender{}
		r.Register("user-1", sender)
		recvEvent(t, events)

		ev := recvEvent(t, events)
		assert.Equal(t, EventUnregistered, ev.Type)
		assert.True(t, ev.Last)
		assert.True(t, sender.Closed())
	})

	t.Run("heartbeat extends the deadline", func(t *testing.T) {
		r := NewRegistry(60 * time.Millisecond)
		defer r.Close()
		events := r.Subscribe(4)

		connID := r.Register("user-1", &fakeSender{})
		recvEvent(t, events)

		for i := 0; i < 4; i++ {
			time.Sleep(30 * time.Millisecond)
			r.Heartbeat(connID)
		}

		select {
		case ev := <-events:
			t.Fatalf("connection evicted despite heartbeats: %+v", ev)
		case <-time.After(30 * time.Millisecond):
		}
		assert.True(t, r.Online("user-1"))
	})
}

func TestRegistrySend(t *testing.T) {
	t.Run("fans out to all user handles", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()

		a := &fakeSender{}
		b := &fakeSender{}
		other := &fakeSender{}
		r.Register("user-1", a)
		r.Register("user-1", b)
		r.Register("user-2", other)

		ev, err := model.NewServerEvent(model.ServerTypingUpdate, model.TypingUpdatePayload{ConversationID: "conv-1"})
		require.NoError(t, err)

		reached := r.Send("user-1", ev)
		assert.Equal(t, 2, reached)
		assert.Len(t, a.Events(), 1)
		assert.Len(t, b.Events(), 1)
		assert.Empty(t, other.Events())
	})

	t.Run("SendTo targets a single connection", func(t *testing.T) {
		r := NewRegistry(0)
		defer r.Close()

		a := &fakeSender{}
		b := &fakeSender{}
		connA := r.Register("user-1", a)
		r.Register("user-1", b)

		ev, err := model.NewServerEvent(model.ServerTypingUpdate, model.TypingUpdatePayload{ConversationID: "conv-1"})
		require.NoError(t, err)

		assert.True(t, r.SendTo(connA, ev))
		assert.Len(t, a.Events(), 1)
		assert.Empty(t, b.Events())
		assert.False(t, r.SendTo("missing", ev))
	})
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(0)
	events := r.Subscribe(8)

	sender := &fakeSender{}
	r.Register("user-1", sender)
	recvEvent(t, events)

	r.Close()

	ev := recvEvent(t, events)
	assert.Equal(t, EventUnregistered, ev.Type)
	assert.True(t, sender.Closed())

	_, open := <-events
	assert.False(t, open)
}
