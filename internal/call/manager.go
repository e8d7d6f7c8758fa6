package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/routing"
	"github.com/temzero/chatter-sub006/internal/ws"
)

// Directory yields conversation membership. repository.ConversationRepository
// satisfies it.
type Directory interface {
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

// Reachability reports whether a user holds a live connection. ws.Registry
// satisfies it.
type Reachability interface {
	Online(userID string) bool
}

// Archiver persists terminal sessions. repository.CallRepository satisfies it.
type Archiver interface {
	Archive(ctx context.Context, record model.CallRecord) error
}

// SignalingFactory builds the per-session capability set for a mode.
type SignalingFactory func(mode model.CallMode) Signaling

// Manager owns the call state machines, one actor per conversation. It holds
// the sole globally shared mutable structure: the session maps, guarded by a
// mutex that is only taken for lookup and insert/remove, never across a
// transition.
type Manager struct {
	mu     sync.Mutex
	byConv map[string]*session
	byID   map[string]*session

	dispatcher   events.Dispatcher
	members      Directory
	reachable    Reachability
	archive      Archiver
	newSignaling SignalingFactory
	ringTimeout  time.Duration

	regEvents <-chan ws.Event
	done      chan struct{}
}

func NewManager(
	dispatcher events.Dispatcher,
	members Directory,
	reachable Reachability,
	archive Archiver,
	newSignaling SignalingFactory,
	ringTimeout time.Duration,
	regEvents <-chan ws.Event,
) *Manager {
	return &Manager{
		byConv:       make(map[string]*session),
		byID:         make(map[string]*session),
		dispatcher:   dispatcher,
		members:      members,
		reachable:    reachable,
		archive:      archive,
		newSignaling: newSignaling,
		ringTimeout:  ringTimeout,
		regEvents:    regEvents,
		done:         make(chan struct{}),
	}
}

// Start begins reacting to registry disconnects.
func (m *Manager) Start() {
	go m.run()
}

func (m *Manager) Stop() {
	close(m.done)
}

func (m *Manager) run() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.regEvents:
			if !ok {
				return
			}
			if ev.Type == ws.EventUnregistered && ev.Last {
				m.handleUserOffline(ev.UserID)
			}
		}
	}
}

func (m *Manager) handleUserOffline(userID string) {
	m.mu.Lock()
	affected := make([]*session, 0, 1)
	for _, sess := range m.byID {
		affected = append(affected, sess)
	}
	m.mu.Unlock()

	for _, sess := range affected {
		sess := sess
		go func() {
			_ = sess.do(func() error { return sess.disconnect(userID) })
		}()
	}
}

// Initiate creates a ringing session for the conversation. It fails with a
// ConflictError while a non-terminal session for the conversation exists.
func (m *Manager) Initiate(ctx context.Context, conversationID, initiatorID string, mode model.CallMode) (*model.CallSession, error) {
	if mode != model.CallModeDirect && mode != model.CallModeRouted {
		return nil, apperrors.InvalidInput("mode", "must be direct or routed")
	}

	memberIDs, err := m.members.MemberIDs(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(memberIDs) == 0 {
		return nil, apperrors.NotFound("Conversation")
	}
	if !contains(memberIDs, initiatorID) {
		return nil, apperrors.Forbidden("not a member of this conversation")
	}
	if len(memberIDs) < 2 {
		return nil, apperrors.ValidationError("conversation has no other members to call")
	}
	if mode == model.CallModeDirect && len(memberIDs) != 2 {
		return nil, apperrors.ValidationError("direct calls require exactly two members")
	}

	now := time.Now()
	state := &model.CallSession{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Mode:           mode,
		InitiatorID:    initiatorID,
		State:          model.CallStateRinging,
		Participants:   make(map[string]*model.Participant, len(memberIDs)),
		StartedAt:      now,
	}

	joinedAt := now
	state.Participants[initiatorID] = &model.Participant{
		UserID:   initiatorID,
		Status:   model.ParticipantJoined,
		JoinedAt: &joinedAt,
	}
	for _, memberID := range memberIDs {
		if memberID == initiatorID {
			continue
		}
		state.Invited = append(state.Invited, memberID)
		status := model.ParticipantInvited
		if m.reachable.Online(memberID) {
			status = model.ParticipantRinging
		}
		state.Participants[memberID] = &model.Participant{UserID: memberID, Status: status}
	}

	sess := newSession(m, state, m.newSignaling(mode), m.ringTimeout)

	m.mu.Lock()
	if _, exists := m.byConv[conversationID]; exists {
		m.mu.Unlock()
		sess.ringTimer.Stop()
		return nil, apperrors.Conflict("a call is already active in this conversation")
	}
	m.byConv[conversationID] = sess
	m.byID[state.ID] = sess
	m.mu.Unlock()

	go sess.run()

	var snapshot *model.CallSession
	err = sess.do(func() error {
		if err := sess.sig.SessionStarted(sess.state); err != nil {
			log.Error().Err(err).Str("sessionId", sess.state.ID).Msg("signaling setup failed")
			sess.terminal(model.CallStateError, err.Error())
			snapshot = sess.snapshot()
			return nil
		}
		sess.broadcastState()
		snapshot = sess.snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", state.ID).
		Str("conversationId", conversationID).
		Str("mode", string(mode)).
		Str("initiatorId", initiatorID).
		Msg("call initiated")

	return snapshot, nil
}

func (m *Manager) Accept(ctx context.Context, sessionID, userID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.accept(userID) })
}

func (m *Manager) Reject(ctx context.Context, sessionID, userID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.reject(userID) })
}

func (m *Manager) Cancel(ctx context.Context, sessionID, userID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.cancel(userID) })
}

func (m *Manager) HangUp(ctx context.Context, sessionID, userID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.hangUp(userID) })
}

// Fail moves a session to the error state after an unrecoverable negotiation
// failure.
func (m *Manager) Fail(sessionID, detail string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.fail(detail) })
}

func (m *Manager) SetMedia(ctx context.Context, sessionID, userID string, media model.MediaFlags) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.setMedia(userID, media) })
}

// AuthorizeSignal checks that both users may exchange signaling on the
// session. The relay consults it before every forward; the session state is
// never mutated here beyond negotiation progress.
func (m *Manager) AuthorizeSignal(sessionID, fromID, toID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.do(func() error { return sess.authorizeSignal(fromID, toID) })
}

// HandleRoomEvent feeds a media-routing webhook into the session for the
// room's conversation.
func (m *Manager) HandleRoomEvent(ctx context.Context, ev routing.RoomEvent) error {
	conversationID, ok := routing.ParseRoom(ev.Room)
	if !ok {
		return apperrors.InvalidInput("room", "unknown room name format")
	}

	m.mu.Lock()
	sess := m.byConv[conversationID]
	m.mu.Unlock()
	if sess == nil {
		return apperrors.NotFound("Call session")
	}

	return sess.do(func() error { return sess.roomEvent(ev) })
}

// Session returns a snapshot of a session's current state.
func (m *Manager) Session(sessionID string) (*model.CallSession, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	var snapshot *model.CallSession
	if err := sess.do(func() error {
		snapshot = sess.snapshot()
		return nil
	}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// RingingFor returns state snapshots of ringing sessions inviting the user.
// A reconnecting client receives these so the call invite is the one piece of
// signaling that survives the recipient being offline.
func (m *Manager) RingingFor(userID string) []model.CallStateChangedPayload {
	m.mu.Lock()
	candidates := make([]*session, 0, 1)
	for _, sess := range m.byID {
		candidates = append(candidates, sess)
	}
	m.mu.Unlock()

	var invites []model.CallStateChangedPayload
	for _, sess := range candidates {
		_ = sess.do(func() error {
			if sess.state.State != model.CallStateRinging {
				return nil
			}
			p := sess.state.Participant(userID)
			if p == nil || userID == sess.state.InitiatorID {
				return nil
			}
			invites = append(invites, sess.stateChangedPayload())
			return nil
		})
	}
	return invites
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	sess := m.byID[sessionID]
	m.mu.Unlock()
	if sess == nil {
		return nil, apperrors.NotFound("Call session")
	}
	return sess, nil
}

func (m *Manager) remove(sess *session) {
	m.mu.Lock()
	if m.byConv[sess.state.ConversationID] == sess {
		delete(m.byConv, sess.state.ConversationID)
	}
	delete(m.byID, sess.state.ID)
	m.mu.Unlock()
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
