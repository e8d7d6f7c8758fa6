package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/ws"
)

type delivery struct {
	connID string
	userID string
	event  model.ServerEvent
}

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []delivery
	notify     chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{notify: make(chan struct{}, 64)}
}

func (d *fakeDispatcher) record(del delivery) {
	d.mu.Lock()
	d.deliveries = append(d.deliveries, del)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *fakeDispatcher) ToUser(userID string, ev model.ServerEvent) {
	d.record(delivery{userID: userID, event: ev})
}

func (d *fakeDispatcher) ToUsers(userIDs []string, ev model.ServerEvent) {
	for _, id := range userIDs {
		d.ToUser(id, ev)
	}
}

func (d *fakeDispatcher) ToConn(connID string, ev model.ServerEvent) {
	d.record(delivery{connID: connID, event: ev})
}

func (d *fakeDispatcher) all() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

func (d *fakeDispatcher) waitFor(t *testing.T, n int) []delivery {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if all := d.all(); len(all) >= n {
			return all
		}
		select {
		case <-d.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(d.all()))
		}
	}
}

type fakeLastSeenStore struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	upserts  int
}

func newFakeLastSeenStore() *fakeLastSeenStore {
	return &fakeLastSeenStore{lastSeen: make(map[string]time.Time)}
}

func (s *fakeLastSeenStore) UpsertLastSeen(_ context.Context, userID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = seenAt
	s.upserts++
	return nil
}

func (s *fakeLastSeenStore) FindLastSeen(_ context.Context, userIDs []string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time)
	for _, id := range userIDs {
		if seen, ok := s.lastSeen[id]; ok {
			out[id] = seen
		}
	}
	return out, nil
}

func decodePayload[T any](t *testing.T, ev model.ServerEvent) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

func startTracker(t *testing.T, store LastSeenStore) (*Tracker, *fakeDispatcher, chan ws.Event) {
	t.Helper()
	dispatcher := newFakeDispatcher()
	regEvents := make(chan ws.Event, 16)
	tracker := NewTracker(dispatcher, store, regEvents)
	tracker.Start()
	t.Cleanup(tracker.Stop)
	return tracker, dispatcher, regEvents
}

func TestTrackerSubscribe(t *testing.T) {
	t.Run("delivers init snapshot", func(t *testing.T) {
		store := newFakeLastSeenStore()
		seen := time.Now().Add(-time.Hour).Truncate(time.Second)
		store.lastSeen["user-2"] = seen

		tracker, dispatcher, regEvents := startTracker(t, store)

		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
		require.Eventually(t, func() bool {
			return tracker.AnyOnline([]string{"user-1"}, "")
		}, time.Second, 10*time.Millisecond)

		tracker.Subscribe(context.Background(), "conn-a", []string{"user-1", "user-2", "user-3"})

		deliveries := dispatcher.waitFor(t, 1)
		last := deliveries[len(deliveries)-1]
		assert.Equal(t, "conn-a", last.connID)
		assert.Equal(t, model.ServerPresenceInit, last.event.Type)

		payload := decodePayload[model.PresenceInitPayload](t, last.event)
		require.Len(t, payload.Statuses, 3)
		assert.True(t, payload.Statuses["user-1"].IsOnline)
		assert.False(t, payload.Statuses["user-2"].IsOnline)
		require.NotNil(t, payload.Statuses["user-2"].LastSeenAt)
		assert.Equal(t, seen.Unix(), payload.Statuses["user-2"].LastSeenAt.Unix())
		// Unknown users appear offline with no lastSeen.
		assert.False(t, payload.Statuses["user-3"].IsOnline)
		assert.Nil(t, payload.Statuses["user-3"].LastSeenAt)
	})

	t.Run("empty subscription is a no-op", func(t *testing.T) {
		tracker, dispatcher, _ := startTracker(t, newFakeLastSeenStore())
		tracker.Subscribe(context.Background(), "conn-a", nil)
		assert.Empty(t, dispatcher.all())
	})
}

func TestTrackerDeltas(t *testing.T) {
	t.Run("subscriber receives one delta per transition", func(t *testing.T) {
		tracker, dispatcher, regEvents := startTracker(t, newFakeLastSeenStore())

		tracker.Subscribe(context.Background(), "conn-a", []string{"user-1"})
		dispatcher.waitFor(t, 1)

		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
		deliveries := dispatcher.waitFor(t, 2)

		update := decodePayload[model.PresenceUpdatePayload](t, deliveries[1].event)
		assert.Equal(t, model.ServerPresenceUpdate, deliveries[1].event.Type)
		assert.Equal(t, "user-1", update.UserID)
		assert.True(t, update.IsOnline)

		at := time.Now()
		regEvents <- ws.Event{Type: ws.EventUnregistered, UserID: "user-1", Last: true, At: at}
		deliveries = dispatcher.waitFor(t, 3)

		update = decodePayload[model.PresenceUpdatePayload](t, deliveries[2].event)
		assert.False(t, update.IsOnline)
		require.NotNil(t, update.LastSeenAt)
		assert.Equal(t, at.Unix(), update.LastSeenAt.Unix())
	})

	t.Run("additional handles do not produce deltas", func(t *testing.T) {
		tracker, dispatcher, regEvents := startTracker(t, newFakeLastSeenStore())

		tracker.Subscribe(context.Background(), "conn-a", []string{"user-1"})
		dispatcher.waitFor(t, 1)

		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
		dispatcher.waitFor(t, 2)

		// Second handle: not First. Dropping it: not Last.
		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: false, At: time.Now()}
		regEvents <- ws.Event{Type: ws.EventUnregistered, UserID: "user-1", Last: false, At: time.Now()}

		time.Sleep(50 * time.Millisecond)
		assert.Len(t, dispatcher.all(), 2)
	})

	t.Run("unsubscribed observer receives nothing", func(t *testing.T) {
		tracker, dispatcher, regEvents := startTracker(t, newFakeLastSeenStore())

		tracker.Subscribe(context.Background(), "conn-a", []string{"user-1"})
		dispatcher.waitFor(t, 1)
		tracker.Unsubscribe("conn-a", []string{"user-1"})

		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, dispatcher.all(), 1)
	})

	t.Run("dropped observer receives nothing", func(t *testing.T) {
		tracker, dispatcher, regEvents := startTracker(t, newFakeLastSeenStore())

		tracker.Subscribe(context.Background(), "conn-a", []string{"user-1"})
		dispatcher.waitFor(t, 1)
		tracker.DropObserver("conn-a")

		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, dispatcher.all(), 1)
	})
}

func TestTrackerOffline(t *testing.T) {
	t.Run("persists lastSeen on offline transition", func(t *testing.T) {
		store := newFakeLastSeenStore()
		_, _, regEvents := startTracker(t, store)

		at := time.Now()
		regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: at}
		regEvents <- ws.Event{Type: ws.EventUnregistered, UserID: "user-1", Last: true, At: at}

		assert.Eventually(t, func() bool {
			store.mu.Lock()
			defer store.mu.Unlock()
			_, ok := store.lastSeen["user-1"]
			return ok
		}, time.Second, 10*time.Millisecond)
	})
}

func TestTrackerSnapshot(t *testing.T) {
	store := newFakeLastSeenStore()
	seen := time.Now().Add(-2 * time.Hour)
	store.lastSeen["user-2"] = seen

	tracker, _, regEvents := startTracker(t, store)
	regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}

	assert.Eventually(t, func() bool {
		return tracker.AnyOnline([]string{"user-1"}, "")
	}, time.Second, 10*time.Millisecond)

	statuses := tracker.Snapshot(context.Background(), []string{"user-1", "user-2"})
	assert.True(t, statuses["user-1"].IsOnline)
	assert.False(t, statuses["user-2"].IsOnline)
	require.NotNil(t, statuses["user-2"].LastSeenAt)
}

func TestTrackerAnyOnline(t *testing.T) {
	tracker, _, regEvents := startTracker(t, newFakeLastSeenStore())

	regEvents <- ws.Event{Type: ws.EventRegistered, UserID: "user-1", First: true, At: time.Now()}
	assert.Eventually(t, func() bool {
		return tracker.AnyOnline([]string{"user-1", "user-2"}, "")
	}, time.Second, 10*time.Millisecond)

	// The excluded user's own presence does not count.
	assert.False(t, tracker.AnyOnline([]string{"user-1"}, "user-1"))
	assert.False(t, tracker.AnyOnline([]string{"user-2"}, ""))
}
