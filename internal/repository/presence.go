package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/temzero/chatter-sub006/internal/model"
)

type PresenceRepository interface {
	UpsertLastSeen(ctx context.Context, userID string, seenAt time.Time) error
	FindLastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type presenceRepo struct {
	db *sqlx.DB
}

func NewPresenceRepository(db *sqlx.DB) PresenceRepository {
	return &presenceRepo{db: db}
}

func (r *presenceRepo) UpsertLastSeen(ctx context.Context, userID string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (user_id, last_seen_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET last_seen_at = EXCLUDED.last_seen_at, updated_at = NOW()
	`, userID, seenAt)
	return err
}

func (r *presenceRepo) FindLastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if len(userIDs) == 0 {
		return map[string]time.Time{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT user_id, last_seen_at, updated_at FROM presence_records
		WHERE user_id IN (?)
	`, userIDs)
	if err != nil {
		return nil, err
	}

	var rows []model.LastSeen
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	seen := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		seen[row.UserID] = row.LastSeenAt
	}
	return seen, nil
}

func (r *presenceRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM presence_records WHERE updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
