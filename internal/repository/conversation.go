package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/temzero/chatter-sub006/internal/model"
)

type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type conversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations WHERE id = $1
	`, id)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM conversation_members
		WHERE conversation_id = $1
		ORDER BY joined_at
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *conversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *conversationRepo) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT conversation_id FROM conversation_members
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
