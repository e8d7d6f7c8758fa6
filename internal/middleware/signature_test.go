package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temzero/chatter-sub006/internal/util"
)

func TestSignatureMiddleware(t *testing.T) {
	const secret = "webhook-secret"
	body := `{"event":"room_closed","room":"conv-1"}`

	newHandler := func(secret string) (http.Handler, *string) {
		var seenBody string
		mw := NewSignatureMiddleware(secret)
		h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			seenBody = string(raw)
			w.WriteHeader(http.StatusOK)
		}))
		return h, &seenBody
	}

	t.Run("accepts a valid signature and preserves the body", func(t *testing.T) {
		handler, seenBody := newHandler(secret)

		req := httptest.NewRequest(http.MethodPost, "/media-routing/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, util.HmacSHA256(secret, body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, *seenBody)
	})

	t.Run("rejects a missing signature", func(t *testing.T) {
		handler, _ := newHandler(secret)

		req := httptest.NewRequest(http.MethodPost, "/media-routing/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects an invalid signature", func(t *testing.T) {
		handler, _ := newHandler(secret)

		req := httptest.NewRequest(http.MethodPost, "/media-routing/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, util.HmacSHA256("other-secret", body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bypasses verification with no secret configured", func(t *testing.T) {
		handler, _ := newHandler("")

		req := httptest.NewRequest(http.MethodPost, "/media-routing/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
