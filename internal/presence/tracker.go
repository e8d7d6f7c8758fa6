package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/ws"
)

// LastSeenStore persists offline timestamps so reconnecting subscribers see
// lastSeen for users that went offline before this process started.
// repository.PresenceRepository satisfies it.
type LastSeenStore interface {
	UpsertLastSeen(ctx context.Context, userID string, seenAt time.Time) error
	FindLastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

type record struct {
	online   bool
	lastSeen *time.Time
}

// Tracker derives per-user online state from registry events and fans deltas
// out to subscribed observers. All state mutation happens on a single
// goroutine; public methods enqueue commands onto it.
type Tracker struct {
	dispatcher events.Dispatcher
	store      LastSeenStore

	records map[string]*record
	// subs maps observer connection id -> watched user ids;
	// watchers is the reverse index.
	subs     map[string]map[string]bool
	watchers map[string]map[string]bool

	cmds      chan func()
	regEvents <-chan ws.Event
	done      chan struct{}
}

func NewTracker(dispatcher events.Dispatcher, store LastSeenStore, regEvents <-chan ws.Event) *Tracker {
	return &Tracker{
		dispatcher: dispatcher,
		store:      store,
		records:    make(map[string]*record),
		subs:       make(map[string]map[string]bool),
		watchers:   make(map[string]map[string]bool),
		cmds:       make(chan func(), 64),
		regEvents:  regEvents,
		done:       make(chan struct{}),
	}
}

func (t *Tracker) Start() {
	go t.run()
}

func (t *Tracker) Stop() {
	close(t.done)
}

func (t *Tracker) run() {
	for {
		select {
		case <-t.done:
			return
		case cmd := <-t.cmds:
			cmd()
		case ev, ok := <-t.regEvents:
			if !ok {
				return
			}
			t.handleRegistryEvent(ev)
		}
	}
}

func (t *Tracker) do(fn func()) {
	reply := make(chan struct{})
	select {
	case t.cmds <- func() { fn(); close(reply) }:
		<-reply
	case <-t.done:
	}
}

func (t *Tracker) handleRegistryEvent(ev ws.Event) {
	switch {
	case ev.Type == ws.EventRegistered && ev.First:
		t.setOnline(ev.UserID)
	case ev.Type == ws.EventUnregistered && ev.Last:
		t.setOffline(ev.UserID, ev.At)
	}
}

func (t *Tracker) setOnline(userID string) {
	rec := t.records[userID]
	if rec == nil {
		rec = &record{}
		t.records[userID] = rec
	}
	if rec.online {
		return
	}
	rec.online = true

	log.Debug().Str("userId", userID).Msg("user went online")
	t.emitDelta(userID, rec)
}

func (t *Tracker) setOffline(userID string, at time.Time) {
	rec := t.records[userID]
	if rec == nil {
		rec = &record{}
		t.records[userID] = rec
	}
	if !rec.online {
		return
	}
	seen := at
	rec.online = false
	rec.lastSeen = &seen

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.store.UpsertLastSeen(ctx, userID, seen); err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("failed to persist lastSeen")
		}
	}()

	log.Debug().Str("userId", userID).Time("lastSeenAt", seen).Msg("user went offline")
	t.emitDelta(userID, rec)
}

// emitDelta sends a presence.update to exactly the observers currently
// subscribed to this user.
func (t *Tracker) emitDelta(userID string, rec *record) {
	observers := t.watchers[userID]
	if len(observers) == 0 {
		return
	}

	ev, err := model.NewServerEvent(model.ServerPresenceUpdate, model.PresenceUpdatePayload{
		UserID:     userID,
		IsOnline:   rec.online,
		LastSeenAt: rec.lastSeen,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build presence update")
		return
	}

	for connID := range observers {
		t.dispatcher.ToConn(connID, ev)
	}
}

// Subscribe registers the observer's interest in the given users and
// immediately delivers a presence.init snapshot for all of them. Unknown
// users are not an error; they appear offline with no lastSeen.
func (t *Tracker) Subscribe(ctx context.Context, observerConnID string, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	// Persisted lastSeen is fetched outside the event loop; in-memory state
	// wins on conflict since it is strictly newer.
	stored, err := t.store.FindLastSeen(ctx, userIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load persisted lastSeen")
		stored = map[string]time.Time{}
	}

	t.do(func() {
		watched := t.subs[observerConnID]
		if watched == nil {
			watched = make(map[string]bool)
			t.subs[observerConnID] = watched
		}

		statuses := make(map[string]model.PresenceStatus, len(userIDs))
		for _, userID := range userIDs {
			watched[userID] = true
			byUser := t.watchers[userID]
			if byUser == nil {
				byUser = make(map[string]bool)
				t.watchers[userID] = byUser
			}
			byUser[observerConnID] = true

			statuses[userID] = t.status(userID, stored)
		}

		ev, err := model.NewServerEvent(model.ServerPresenceInit, model.PresenceInitPayload{
			Statuses: statuses,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to build presence init")
			return
		}
		t.dispatcher.ToConn(observerConnID, ev)
	})
}

// Unsubscribe drops interest in the given users. It is safe to call for
// users that were never subscribed.
func (t *Tracker) Unsubscribe(observerConnID string, userIDs []string) {
	t.do(func() {
		watched := t.subs[observerConnID]
		for _, userID := range userIDs {
			delete(watched, userID)
			if byUser := t.watchers[userID]; byUser != nil {
				delete(byUser, observerConnID)
				if len(byUser) == 0 {
					delete(t.watchers, userID)
				}
			}
		}
		if len(watched) == 0 {
			delete(t.subs, observerConnID)
		}
	})
}

// DropObserver removes every subscription held by a disconnected observer so
// stale listeners cannot leak.
func (t *Tracker) DropObserver(observerConnID string) {
	t.do(func() {
		for userID := range t.subs[observerConnID] {
			if byUser := t.watchers[userID]; byUser != nil {
				delete(byUser, observerConnID)
				if len(byUser) == 0 {
					delete(t.watchers, userID)
				}
			}
		}
		delete(t.subs, observerConnID)
	})
}

// Snapshot returns the current status for the given users, merging in-memory
// state with the persisted lastSeen store.
func (t *Tracker) Snapshot(ctx context.Context, userIDs []string) map[string]model.PresenceStatus {
	stored, err := t.store.FindLastSeen(ctx, userIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load persisted lastSeen")
		stored = map[string]time.Time{}
	}

	statuses := make(map[string]model.PresenceStatus, len(userIDs))
	t.do(func() {
		for _, userID := range userIDs {
			statuses[userID] = t.status(userID, stored)
		}
	})
	return statuses
}

// AnyOnline reports whether at least one of the given users, excluding
// excludeUserID, is online. Conversation aggregates are derived from this.
func (t *Tracker) AnyOnline(memberIDs []string, excludeUserID string) bool {
	online := false
	t.do(func() {
		for _, id := range memberIDs {
			if id == excludeUserID {
				continue
			}
			if rec := t.records[id]; rec != nil && rec.online {
				online = true
				return
			}
		}
	})
	return online
}

func (t *Tracker) status(userID string, stored map[string]time.Time) model.PresenceStatus {
	if rec := t.records[userID]; rec != nil {
		return model.PresenceStatus{IsOnline: rec.online, LastSeenAt: rec.lastSeen}
	}
	if seen, ok := stored[userID]; ok {
		return model.PresenceStatus{IsOnline: false, LastSeenAt: &seen}
	}
	return model.PresenceStatus{IsOnline: false}
}
