package call

import (
	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/routing"
)

// Signaling is the per-session capability set distinguishing direct and
// routed calls. The state machine core is mode-agnostic; only how the
// connecting->connected transition is driven, and what happens when a
// participant joins, differ.
type Signaling interface {
	Mode() model.CallMode

	// SessionStarted runs once when the session enters ringing.
	SessionStarted(sess *model.CallSession) error

	// ParticipantJoined runs when a participant transitions to joined.
	ParticipantJoined(sess *model.CallSession, userID string) error

	// SignalForwarded reports a relayed payload between two participants and
	// returns true once negotiation is complete for at least one pair.
	SignalForwarded(sess *model.CallSession, fromID, toID string) bool

	// RoomEvent applies a media-routing lifecycle event.
	RoomEvent(sess *model.CallSession, ev routing.RoomEvent) RoomOutcome
}

// RoomOutcome is what a room lifecycle event means for the session.
type RoomOutcome struct {
	Connected bool
	End       bool
	Reason    string
}

// DirectSignaling drives peer-to-peer calls: negotiation completes when
// relayed signaling has flowed in both directions between a pair.
type DirectSignaling struct {
	seen map[[2]string]bool
}

func NewDirectSignaling() *DirectSignaling {
	return &DirectSignaling{seen: make(map[[2]string]bool)}
}

func (d *DirectSignaling) Mode() model.CallMode { return model.CallModeDirect }

func (d *DirectSignaling) SessionStarted(*model.CallSession) error { return nil }

func (d *DirectSignaling) ParticipantJoined(*model.CallSession, string) error { return nil }

func (d *DirectSignaling) SignalForwarded(_ *model.CallSession, fromID, toID string) bool {
	d.seen[[2]string{fromID, toID}] = true
	return d.seen[[2]string{toID, fromID}]
}

func (d *DirectSignaling) RoomEvent(*model.CallSession, routing.RoomEvent) RoomOutcome {
	return RoomOutcome{}
}

// TokenSource issues room-join tokens for the media-routing service.
// routing.TokenIssuer satisfies it.
type TokenSource interface {
	Issue(conversationID, identity, displayName string) (string, error)
}

// RoutedSignaling drives group calls through the external media-routing
// service: each joining participant receives a room token, and the session
// connects when the room reports two joined participants.
type RoutedSignaling struct {
	tokens     TokenSource
	dispatcher events.Dispatcher
	roomJoined map[string]bool
}

func NewRoutedSignaling(tokens TokenSource, dispatcher events.Dispatcher) *RoutedSignaling {
	return &RoutedSignaling{
		tokens:     tokens,
		dispatcher: dispatcher,
		roomJoined: make(map[string]bool),
	}
}

func (r *RoutedSignaling) Mode() model.CallMode { return model.CallModeRouted }

func (r *RoutedSignaling) SessionStarted(sess *model.CallSession) error {
	return r.issueToken(sess, sess.InitiatorID)
}

func (r *RoutedSignaling) ParticipantJoined(sess *model.CallSession, userID string) error {
	return r.issueToken(sess, userID)
}

func (r *RoutedSignaling) issueToken(sess *model.CallSession, userID string) error {
	token, err := r.tokens.Issue(sess.ConversationID, userID, userID)
	if err != nil {
		return err
	}

	ev, err := model.NewServerEvent(model.ServerCallRoomToken, model.CallRoomTokenPayload{
		SessionID: sess.ID,
		Token:     token,
	})
	if err != nil {
		return err
	}
	r.dispatcher.ToUser(userID, ev)

	log.Debug().
		Str("sessionId", sess.ID).
		Str("userId", userID).
		Msg("routed call token issued")
	return nil
}

func (r *RoutedSignaling) SignalForwarded(*model.CallSession, string, string) bool {
	return false
}

func (r *RoutedSignaling) RoomEvent(sess *model.CallSession, ev routing.RoomEvent) RoomOutcome {
	switch ev.Type {
	case routing.RoomParticipantJoined:
		r.roomJoined[ev.ParticipantID] = true
		return RoomOutcome{Connected: len(r.roomJoined) >= 2}

	case routing.RoomParticipantLeft:
		delete(r.roomJoined, ev.ParticipantID)
		if sess.State == model.CallStateConnected && len(r.roomJoined) < 2 {
			return RoomOutcome{End: true, Reason: model.ReasonPeerDisconnected}
		}
		return RoomOutcome{}

	case routing.RoomClosed:
		return RoomOutcome{End: true, Reason: model.ReasonRoomClosed}
	}
	return RoomOutcome{}
}
