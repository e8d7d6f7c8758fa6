package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/util"
)

type mockAccountRepo struct {
	byTokenHash map[string]*model.Account
	err         error
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return nil, nil
}

func (m *mockAccountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byTokenHash[tokenHash], nil
}

func (m *mockAccountRepo) Create(ctx context.Context, displayName, tokenHash string) (*model.Account, error) {
	return nil, nil
}

func TestAuthMiddleware(t *testing.T) {
	account := &model.Account{ID: "acc-1", DisplayName: "Alice"}
	repo := &mockAccountRepo{byTokenHash: map[string]*model.Account{
		util.HashToken("valid-token"): account,
	}}
	mw := NewAuthMiddleware(repo)

	var gotAccount *model.Account
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = GetAccount(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("accepts bearer token", func(t *testing.T) {
		gotAccount = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/presence", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotAccount)
		assert.Equal(t, "acc-1", gotAccount.ID)
	})

	t.Run("accepts token query parameter", func(t *testing.T) {
		gotAccount = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/ws?token=valid-token", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotAccount)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/presence", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/presence", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reports database failures as 500", func(t *testing.T) {
		failing := NewAuthMiddleware(&mockAccountRepo{err: errors.New("connection refused")})
		h := failing.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/presence", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetAccount(t *testing.T) {
	t.Run("returns nil without account", func(t *testing.T) {
		assert.Nil(t, GetAccount(context.Background()))
	})

	t.Run("round-trips through WithAccount", func(t *testing.T) {
		account := &model.Account{ID: "acc-1"}
		ctx := WithAccount(context.Background(), account)
		assert.Equal(t, account, GetAccount(ctx))
	})
}
