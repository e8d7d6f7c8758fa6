package routing

import "time"

type RoomEventType string

// Room lifecycle webhooks delivered by the media-routing service.
const (
	RoomParticipantJoined RoomEventType = "participant_joined"
	RoomParticipantLeft   RoomEventType = "participant_left"
	RoomClosed            RoomEventType = "room_closed"
)

// RoomEvent is the webhook payload. ParticipantID carries the identity the
// token was issued for, which is the user id.
type RoomEvent struct {
	Type          RoomEventType `json:"event"`
	Room          string        `json:"room"`
	ParticipantID string        `json:"participantId,omitempty"`
	At            time.Time     `json:"at"`
}
