package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/temzero/chatter-sub006/internal/model"
)

// CallView is the client's read-only projection of one call session.
type CallView struct {
	SessionID      string
	ConversationID string
	Mode           model.CallMode
	InitiatorID    string
	State          model.CallState
	Reason         string
	RoomToken      string
}

// Store is the client-side state store: a read-only projection of server
// truth, reconciled purely by applying the event stream. Handlers receive
// this session-scoped store explicitly; no state lives anywhere else.
type Store struct {
	mu       sync.RWMutex
	presence map[string]model.PresenceStatus
	typing   map[string][]string
	calls    map[string]CallView
	byConv   map[string]string
}

func NewStore() *Store {
	return &Store{
		presence: make(map[string]model.PresenceStatus),
		typing:   make(map[string][]string),
		calls:    make(map[string]CallView),
		byConv:   make(map[string]string),
	}
}

// Apply folds one server event into the projection. Unknown event types are
// ignored so older clients tolerate newer servers.
func (s *Store) Apply(ev model.ServerEvent) error {
	switch ev.Type {
	case model.ServerPresenceInit:
		var payload model.PresenceInitPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		s.mu.Lock()
		for userID, status := range payload.Statuses {
			s.presence[userID] = status
		}
		s.mu.Unlock()

	case model.ServerPresenceUpdate:
		var payload model.PresenceUpdatePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		s.mu.Lock()
		s.presence[payload.UserID] = model.PresenceStatus{
			IsOnline:   payload.IsOnline,
			LastSeenAt: payload.LastSeenAt,
		}
		s.mu.Unlock()

	case model.ServerTypingUpdate:
		var payload model.TypingUpdatePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		s.mu.Lock()
		if len(payload.TypingUserIDs) == 0 {
			delete(s.typing, payload.ConversationID)
		} else {
			s.typing[payload.ConversationID] = payload.TypingUserIDs
		}
		s.mu.Unlock()

	case model.ServerCallStateChange:
		var payload model.CallStateChangedPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		s.mu.Lock()
		view := s.calls[payload.SessionID]
		view.SessionID = payload.SessionID
		view.ConversationID = payload.ConversationID
		view.Mode = payload.Mode
		view.InitiatorID = payload.InitiatorID
		view.State = payload.State
		view.Reason = payload.Reason
		s.calls[payload.SessionID] = view
		if payload.State.Terminal() {
			if s.byConv[payload.ConversationID] == payload.SessionID {
				delete(s.byConv, payload.ConversationID)
			}
		} else {
			s.byConv[payload.ConversationID] = payload.SessionID
		}
		s.mu.Unlock()

	case model.ServerCallRoomToken:
		var payload model.CallRoomTokenPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		s.mu.Lock()
		view := s.calls[payload.SessionID]
		view.SessionID = payload.SessionID
		view.RoomToken = payload.Token
		s.calls[payload.SessionID] = view
		s.mu.Unlock()
	}

	return nil
}

// Presence returns the last known status for a user.
func (s *Store) Presence(userID string) (model.PresenceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.presence[userID]
	return status, ok
}

// TypingUsers returns who is currently typing in a conversation.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.typing[conversationID]...)
}

// Call returns the projection of a session, terminal or not.
func (s *Store) Call(sessionID string) (CallView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.calls[sessionID]
	return view, ok
}

// ActiveCall returns the non-terminal session for a conversation, if any.
func (s *Store) ActiveCall(conversationID string) (CallView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byConv[conversationID]
	if !ok {
		return CallView{}, false
	}
	view, ok := s.calls[sessionID]
	return view, ok
}
