package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/temzero/chatter-sub006/internal/model"
)

type CallRepository interface {
	Archive(ctx context.Context, record model.CallRecord) error
	FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.CallRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type callRepo struct {
	db *sqlx.DB
}

func NewCallRepository(db *sqlx.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) Archive(ctx context.Context, record model.CallRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_records (
			id, conversation_id, mode, initiator_id, state, reason,
			started_at, connected_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		record.ID, record.ConversationID, record.Mode, record.InitiatorID,
		record.State, record.Reason, record.StartedAt, record.ConnectedAt,
		record.EndedAt,
	)
	return err
}

func (r *callRepo) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.CallRecord, error) {
	var records []model.CallRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM call_records
		WHERE conversation_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *callRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM call_records WHERE started_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
