package model

import (
	"encoding/json"
	"time"
)

// Client -> server operation types.
const (
	ClientHeartbeat         = "heartbeat"
	ClientPresenceSubscribe = "presence.subscribe"
	ClientPresenceUnsub     = "presence.unsubscribe"
	ClientTypingStart       = "typing.start"
	ClientTypingStop        = "typing.stop"
	ClientCallInitiate      = "call.initiate"
	ClientCallAccept        = "call.accept"
	ClientCallReject        = "call.reject"
	ClientCallCancel        = "call.cancel"
	ClientCallHangUp        = "call.hangUp"
	ClientCallSignal        = "call.signal"
	ClientCallMedia         = "call.media"
)

// Server -> client event types.
const (
	ServerPresenceInit    = "presence.init"
	ServerPresenceUpdate  = "presence.update"
	ServerTypingUpdate    = "typing.update"
	ServerCallStateChange = "call.stateChanged"
	ServerCallSignal      = "call.signal"
	ServerCallParticipant = "call.participant"
	ServerCallRoomToken   = "call.roomToken"
	ServerError           = "error"
)

type ClientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ServerEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewServerEvent marshals payload into a ServerEvent envelope.
func NewServerEvent(eventType string, payload any) (ServerEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ServerEvent{}, err
	}
	return ServerEvent{Type: eventType, Data: data}, nil
}

// Client operation payloads.

type PresenceSubscribePayload struct {
	UserIDs []string `json:"userIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

type CallInitiatePayload struct {
	ConversationID string   `json:"conversationId"`
	Mode           CallMode `json:"mode"`
}

type CallControlPayload struct {
	SessionID string `json:"sessionId"`
}

type CallSignalPayload struct {
	SessionID         string          `json:"sessionId"`
	ToParticipantID   string          `json:"toParticipantId,omitempty"`
	FromParticipantID string          `json:"fromParticipantId,omitempty"`
	Payload           json.RawMessage `json:"payload"`
}

type CallMediaPayload struct {
	SessionID string     `json:"sessionId"`
	Media     MediaFlags `json:"media"`
}

// Server event payloads.

type PresenceInitPayload struct {
	Statuses map[string]PresenceStatus `json:"statuses"`
}

type PresenceUpdatePayload struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

type TypingUpdatePayload struct {
	ConversationID string   `json:"conversationId"`
	TypingUserIDs  []string `json:"typingUserIds"`
}

type CallStateChangedPayload struct {
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId"`
	Mode           CallMode  `json:"mode"`
	InitiatorID    string    `json:"initiatorId"`
	State          CallState `json:"newState"`
	Reason         string    `json:"reason,omitempty"`
}

type CallParticipantPayload struct {
	SessionID string            `json:"sessionId"`
	UserID    string            `json:"userId"`
	Status    ParticipantStatus `json:"status"`
	Media     MediaFlags        `json:"media"`
}

type CallRoomTokenPayload struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Op echoes the client operation that failed so the caller can
	// resynchronize its local state.
	Op string `json:"op,omitempty"`
}
