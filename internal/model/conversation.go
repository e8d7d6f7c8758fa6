package model

import "time"

type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Title     *string   `db:"title" json:"title,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type ConversationMember struct {
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	UserID         string    `db:"user_id" json:"userId"`
	JoinedAt       time.Time `db:"joined_at" json:"joinedAt"`
}
