package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/ws"
)

// MemberResolver yields the member ids of a conversation.
// repository.ConversationRepository satisfies it.
type MemberResolver interface {
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

// Aggregator tracks which users are typing in each conversation. Entries
// expire after a fixed timeout so a crashed client never leaves a stale
// indicator behind.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time

	ttl           time.Duration
	sweepInterval time.Duration
	dispatcher    events.Dispatcher
	members       MemberResolver
	now           func() time.Time
	regEvents     <-chan ws.Event
	done          chan struct{}
}

// NewAggregator builds the aggregator. regEvents may be nil; when given, a
// user's entries are cleared the moment their last connection goes away.
func NewAggregator(dispatcher events.Dispatcher, members MemberResolver, ttl, sweepInterval time.Duration, regEvents <-chan ws.Event) *Aggregator {
	return &Aggregator{
		entries:       make(map[string]map[string]time.Time),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		dispatcher:    dispatcher,
		members:       members,
		now:           time.Now,
		regEvents:     regEvents,
		done:          make(chan struct{}),
	}
}

func (a *Aggregator) Start() {
	go a.run()
	log.Info().Dur("ttl", a.ttl).Msg("typing aggregator started")
}

func (a *Aggregator) Stop() {
	close(a.done)
}

func (a *Aggregator) run() {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.sweepExpired()
		case ev, ok := <-a.regEvents:
			if !ok {
				a.regEvents = nil
				continue
			}
			if ev.Type == ws.EventUnregistered && ev.Last {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				a.DropUser(ctx, ev.UserID)
				cancel()
			}
		}
	}
}

// StartTyping inserts or refreshes the entry. Only a fresh entry triggers a
// broadcast; refreshing within the expiry window is silent.
func (a *Aggregator) StartTyping(ctx context.Context, conversationID, userID string) error {
	a.mu.Lock()
	conv := a.entries[conversationID]
	if conv == nil {
		conv = make(map[string]time.Time)
		a.entries[conversationID] = conv
	}
	expiry, exists := conv[userID]
	fresh := !exists || a.now().After(expiry)
	conv[userID] = a.now().Add(a.ttl)
	a.mu.Unlock()

	if !fresh {
		return nil
	}
	return a.broadcast(ctx, conversationID, userID)
}

// StopTyping removes the entry; a broadcast goes out only if the entry was
// actually present.
func (a *Aggregator) StopTyping(ctx context.Context, conversationID, userID string) error {
	a.mu.Lock()
	conv := a.entries[conversationID]
	_, present := conv[userID]
	if present {
		delete(conv, userID)
		if len(conv) == 0 {
			delete(a.entries, conversationID)
		}
	}
	a.mu.Unlock()

	if !present {
		return nil
	}
	return a.broadcast(ctx, conversationID, userID)
}

// TypingUserIDs returns the unexpired typing set for a conversation, sorted
// for deterministic payloads.
func (a *Aggregator) TypingUserIDs(conversationID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typingLocked(conversationID)
}

func (a *Aggregator) typingLocked(conversationID string) []string {
	now := a.now()
	ids := make([]string, 0, len(a.entries[conversationID]))
	for userID, expiry := range a.entries[conversationID] {
		if now.Before(expiry) {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DropUser clears the user's entries in every conversation, as when their
// last connection goes away.
func (a *Aggregator) DropUser(ctx context.Context, userID string) {
	a.mu.Lock()
	affected := make([]string, 0)
	for convID, conv := range a.entries {
		if _, ok := conv[userID]; ok {
			delete(conv, userID)
			if len(conv) == 0 {
				delete(a.entries, convID)
			}
			affected = append(affected, convID)
		}
	}
	a.mu.Unlock()

	for _, convID := range affected {
		if err := a.broadcast(ctx, convID, userID); err != nil {
			log.Error().Err(err).Str("conversationId", convID).Msg("failed to broadcast typing update")
		}
	}
}

func (a *Aggregator) sweepExpired() {
	a.mu.Lock()
	now := a.now()
	type expired struct{ convID, userID string }
	var removed []expired
	for convID, conv := range a.entries {
		for userID, expiry := range conv {
			if !now.Before(expiry) {
				delete(conv, userID)
				removed = append(removed, expired{convID, userID})
			}
		}
		if len(conv) == 0 {
			delete(a.entries, convID)
		}
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(map[string]bool)
	for _, e := range removed {
		// One broadcast per affected conversation.
		if seen[e.convID] {
			continue
		}
		seen[e.convID] = true
		if err := a.broadcast(ctx, e.convID, e.userID); err != nil {
			log.Error().Err(err).Str("conversationId", e.convID).Msg("failed to broadcast typing expiry")
		}
	}
}

// broadcast sends the conversation's current typing set to every member
// except the user whose entry changed.
func (a *Aggregator) broadcast(ctx context.Context, conversationID, changedUserID string) error {
	memberIDs, err := a.members.MemberIDs(ctx, conversationID)
	if err != nil {
		return err
	}

	ev, err := model.NewServerEvent(model.ServerTypingUpdate, model.TypingUpdatePayload{
		ConversationID: conversationID,
		TypingUserIDs:  a.TypingUserIDs(conversationID),
	})
	if err != nil {
		return err
	}

	for _, memberID := range memberIDs {
		if memberID == changedUserID {
			continue
		}
		a.dispatcher.ToUser(memberID, ev)
	}
	return nil
}
