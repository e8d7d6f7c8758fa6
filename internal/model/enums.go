package model

type CallMode string

const (
	CallModeDirect CallMode = "direct"
	CallModeRouted CallMode = "routed"
)

type CallState string

const (
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
	CallStateCanceled   CallState = "canceled"
	CallStateRejected   CallState = "rejected"
	CallStateTimeout    CallState = "timeout"
	CallStateError      CallState = "error"
)

// Terminal reports whether no further transition is possible from s.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateEnded, CallStateCanceled, CallStateRejected, CallStateTimeout, CallStateError:
		return true
	}
	return false
}

type ParticipantStatus string

const (
	ParticipantInvited ParticipantStatus = "invited"
	ParticipantRinging ParticipantStatus = "ringing"
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantLeft    ParticipantStatus = "left"
)

// End reasons for sessions terminated by the system rather than a participant.
const (
	ReasonPeerDisconnected = "peer_disconnected"
	ReasonRingTimeout      = "ring_timeout"
	ReasonRoomClosed       = "room_closed"
)
