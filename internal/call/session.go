package call

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/routing"
)

// drainGrace keeps a terminal session's actor alive briefly so callers
// holding a stale reference get a clean ConflictError instead of blocking.
const drainGrace = 5 * time.Second

// session is the actor owning one CallSession. All reads and writes of the
// underlying state happen on its goroutine, serializing concurrent control
// requests per conversation.
type session struct {
	mgr   *Manager
	state *model.CallSession
	sig   Signaling

	// order fixes the broadcast order of participants so every observer sees
	// transitions addressed identically.
	order []string

	cmds      chan func()
	ringTimer *time.Timer
	gone      chan struct{}
}

func newSession(mgr *Manager, state *model.CallSession, sig Signaling, ringTimeout time.Duration) *session {
	order := make([]string, 0, len(state.Participants))
	order = append(order, state.InitiatorID)
	order = append(order, state.Invited...)

	return &session{
		mgr:       mgr,
		state:     state,
		sig:       sig,
		order:     order,
		cmds:      make(chan func(), 16),
		ringTimer: time.NewTimer(ringTimeout),
		gone:      make(chan struct{}),
	}
}

func (s *session) run() {
	defer close(s.gone)

	var idle <-chan time.Time
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.ringTimer.C:
			s.onRingTimeout()
		case <-idle:
			return
		case <-s.mgr.done:
			return
		}

		if s.state.State.Terminal() && idle == nil {
			idle = time.After(drainGrace)
		}
	}
}

// do runs fn on the actor goroutine and returns its error. A session whose
// actor has already exited yields a ConflictError.
func (s *session) do(fn func() error) error {
	reply := make(chan error, 1)

	select {
	case s.cmds <- func() { reply <- fn() }:
	case <-s.gone:
		return apperrors.Conflict("call session already ended")
	}

	select {
	case err := <-reply:
		return err
	case <-s.gone:
		// The actor exits only between commands, so a queued fn either ran
		// (reply is ready) or never will.
		select {
		case err := <-reply:
			return err
		default:
			return apperrors.Conflict("call session already ended")
		}
	}
}

// Transition handlers. All run on the actor goroutine.

func (s *session) accept(userID string) error {
	if s.state.State != model.CallStateRinging {
		return apperrors.Conflict("call is not ringing")
	}
	p := s.state.Participant(userID)
	if p == nil || userID == s.state.InitiatorID {
		return apperrors.Forbidden("only an invited participant may accept")
	}

	now := time.Now()
	p.Status = model.ParticipantJoined
	p.JoinedAt = &now

	s.stopRingTimer()
	s.state.State = model.CallStateConnecting

	if err := s.sig.ParticipantJoined(s.state, userID); err != nil {
		log.Error().Err(err).Str("sessionId", s.state.ID).Msg("signaling setup failed")
		s.terminal(model.CallStateError, err.Error())
		return nil
	}

	s.broadcastState()
	return nil
}

func (s *session) reject(userID string) error {
	if s.state.State != model.CallStateRinging {
		return apperrors.Conflict("call is not ringing")
	}
	p := s.state.Participant(userID)
	if p == nil || userID == s.state.InitiatorID {
		return apperrors.Forbidden("only an invited participant may reject")
	}

	now := time.Now()
	p.Status = model.ParticipantLeft
	p.LeftAt = &now

	s.terminal(model.CallStateRejected, userID)
	return nil
}

func (s *session) cancel(userID string) error {
	if s.state.State != model.CallStateRinging {
		return apperrors.Conflict("call is not ringing")
	}
	if userID != s.state.InitiatorID {
		return apperrors.Forbidden("only the initiator may cancel")
	}

	s.terminal(model.CallStateCanceled, userID)
	return nil
}

func (s *session) hangUp(userID string) error {
	if s.state.State != model.CallStateConnecting && s.state.State != model.CallStateConnected {
		return apperrors.Conflict("call is not in progress")
	}
	p := s.state.Participant(userID)
	if p == nil {
		return apperrors.Forbidden("only a participant may hang up")
	}

	now := time.Now()
	p.Status = model.ParticipantLeft
	p.LeftAt = &now

	s.terminal(model.CallStateEnded, userID)
	return nil
}

func (s *session) fail(detail string) error {
	if s.state.State.Terminal() {
		return apperrors.Conflict("call session already ended")
	}
	s.terminal(model.CallStateError, detail)
	return nil
}

func (s *session) setMedia(userID string, media model.MediaFlags) error {
	if s.state.State.Terminal() {
		return apperrors.Conflict("call session already ended")
	}
	p := s.state.Participant(userID)
	if p == nil {
		return apperrors.Forbidden("only a participant may change media state")
	}

	p.Media = media

	ev, err := model.NewServerEvent(model.ServerCallParticipant, model.CallParticipantPayload{
		SessionID: s.state.ID,
		UserID:    userID,
		Status:    p.Status,
		Media:     media,
	})
	if err != nil {
		return apperrors.Internal("failed to encode participant update").WithCause(err)
	}
	s.mgr.dispatcher.ToUsers(s.order, ev)
	return nil
}

// authorizeSignal enforces the relay contract and, in direct mode, advances
// connecting->connected once negotiation completes for a pair.
func (s *session) authorizeSignal(fromID, toID string) error {
	switch s.state.State {
	case model.CallStateRinging, model.CallStateConnecting, model.CallStateConnected:
	default:
		return apperrors.Forbidden("call session is not active")
	}
	if s.state.Participant(fromID) == nil || s.state.Participant(toID) == nil {
		return apperrors.Forbidden("not a participant of this call session")
	}

	if s.sig.SignalForwarded(s.state, fromID, toID) && s.state.State == model.CallStateConnecting {
		s.connected()
	}
	return nil
}

func (s *session) roomEvent(ev routing.RoomEvent) error {
	if s.state.State.Terminal() {
		return apperrors.Conflict("call session already ended")
	}

	outcome := s.sig.RoomEvent(s.state, ev)
	switch {
	case outcome.End:
		s.terminal(model.CallStateEnded, outcome.Reason)
	case outcome.Connected && s.state.State == model.CallStateConnecting:
		s.connected()
	}
	return nil
}

// disconnect reacts to a participant losing their last connection.
func (s *session) disconnect(userID string) error {
	if s.state.State != model.CallStateConnecting && s.state.State != model.CallStateConnected {
		return nil
	}
	p := s.state.Participant(userID)
	if p == nil || p.Status != model.ParticipantJoined {
		return nil
	}

	now := time.Now()
	p.Status = model.ParticipantLeft
	p.LeftAt = &now

	if s.state.JoinedCount() <= 1 {
		s.terminal(model.CallStateEnded, model.ReasonPeerDisconnected)
	}
	return nil
}

func (s *session) onRingTimeout() {
	if s.state.State != model.CallStateRinging {
		return
	}
	log.Info().Str("sessionId", s.state.ID).Msg("ring timeout elapsed")
	s.terminal(model.CallStateTimeout, model.ReasonRingTimeout)
}

func (s *session) connected() {
	now := time.Now()
	s.state.State = model.CallStateConnected
	s.state.ConnectedAt = &now
	s.broadcastState()
}

// terminal applies a terminal transition: the ring timer is stopped, the
// transition is broadcast, the session is archived and dropped from the
// manager's maps.
func (s *session) terminal(state model.CallState, reason string) {
	s.stopRingTimer()

	now := time.Now()
	s.state.State = state
	s.state.Reason = reason
	s.state.EndedAt = &now

	s.broadcastState()
	s.mgr.remove(s)

	log.Info().
		Str("sessionId", s.state.ID).
		Str("conversationId", s.state.ConversationID).
		Str("state", string(state)).
		Str("reason", reason).
		Msg("call session ended")

	record := model.CallRecord{
		ID:             s.state.ID,
		ConversationID: s.state.ConversationID,
		Mode:           s.state.Mode,
		InitiatorID:    s.state.InitiatorID,
		State:          state,
		Reason:         reason,
		StartedAt:      s.state.StartedAt,
		ConnectedAt:    s.state.ConnectedAt,
		EndedAt:        s.state.EndedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mgr.archive.Archive(ctx, record); err != nil {
			log.Error().Err(err).Str("sessionId", record.ID).Msg("failed to archive call session")
		}
	}()
}

func (s *session) stopRingTimer() {
	if !s.ringTimer.Stop() {
		// Timer already fired; drain so a pending tick cannot produce a late
		// timeout transition.
		select {
		case <-s.ringTimer.C:
		default:
		}
	}
}

// broadcastState emits call.stateChanged to all current and invited
// participants. Sends happen sequentially on the actor goroutine, so every
// participant observes the same total order of transitions.
func (s *session) broadcastState() {
	ev, err := model.NewServerEvent(model.ServerCallStateChange, s.stateChangedPayload())
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.state.ID).Msg("failed to encode state change")
		return
	}
	s.mgr.dispatcher.ToUsers(s.order, ev)
}

func (s *session) stateChangedPayload() model.CallStateChangedPayload {
	return model.CallStateChangedPayload{
		SessionID:      s.state.ID,
		ConversationID: s.state.ConversationID,
		Mode:           s.state.Mode,
		InitiatorID:    s.state.InitiatorID,
		State:          s.state.State,
		Reason:         s.state.Reason,
	}
}

func (s *session) snapshot() *model.CallSession {
	clone := *s.state
	clone.Participants = make(map[string]*model.Participant, len(s.state.Participants))
	for id, p := range s.state.Participants {
		pc := *p
		clone.Participants[id] = &pc
	}
	clone.Invited = append([]string(nil), s.state.Invited...)
	return &clone
}
