package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/temzero/chatter-sub006/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error)
	Create(ctx context.Context, displayName, tokenHash string) (*model.Account, error)
}

type accountRepo struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) Create(ctx context.Context, displayName, tokenHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (display_name, token_hash)
		VALUES ($1, $2)
		RETURNING *
	`, displayName, tokenHash)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
