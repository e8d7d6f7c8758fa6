package model

import "time"

// MediaFlags carries a participant's device state within a call.
type MediaFlags struct {
	Audio       bool `json:"audio"`
	Video       bool `json:"video"`
	Screenshare bool `json:"screenshare"`
}

type Participant struct {
	UserID   string            `json:"userId"`
	Status   ParticipantStatus `json:"status"`
	Media    MediaFlags        `json:"media"`
	JoinedAt *time.Time        `json:"joinedAt,omitempty"`
	LeftAt   *time.Time        `json:"leftAt,omitempty"`
}

// CallSession is the authoritative record of one call, owned exclusively by
// the call manager. At most one non-terminal session exists per conversation.
type CallSession struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversationId"`
	Mode           CallMode                `json:"mode"`
	InitiatorID    string                  `json:"initiatorId"`
	Invited        []string                `json:"invited"`
	State          CallState               `json:"state"`
	Participants   map[string]*Participant `json:"participants"`
	StartedAt      time.Time               `json:"startedAt"`
	ConnectedAt    *time.Time              `json:"connectedAt,omitempty"`
	EndedAt        *time.Time              `json:"endedAt,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
}

// ParticipantIDs returns every current and invited participant, initiator
// included. Broadcasts of state transitions target this set.
func (s *CallSession) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	return ids
}

func (s *CallSession) Participant(userID string) *Participant {
	return s.Participants[userID]
}

// JoinedCount counts participants currently in the joined state.
func (s *CallSession) JoinedCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// CallRecord is the archived form of a terminal CallSession.
type CallRecord struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversationId"`
	Mode           CallMode   `db:"mode" json:"mode"`
	InitiatorID    string     `db:"initiator_id" json:"initiatorId"`
	State          CallState  `db:"state" json:"state"`
	Reason         string     `db:"reason" json:"reason,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"startedAt"`
	ConnectedAt    *time.Time `db:"connected_at" json:"connectedAt,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}
