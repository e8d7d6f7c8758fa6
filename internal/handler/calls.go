package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/httputil"
	"github.com/temzero/chatter-sub006/internal/middleware"
	"github.com/temzero/chatter-sub006/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// CallHistoryHandler serves archived call records for a conversation.
type CallHistoryHandler struct {
	calls         repository.CallRepository
	conversations repository.ConversationRepository
}

func NewCallHistoryHandler(calls repository.CallRepository, conversations repository.ConversationRepository) *CallHistoryHandler {
	return &CallHistoryHandler{calls: calls, conversations: conversations}
}

func (h *CallHistoryHandler) ListByConversation(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		httputil.WriteError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("conversationId"))
		return
	}

	isMember, err := h.conversations.IsMember(r.Context(), conversationID, account.ID)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if !isMember {
		httputil.WriteError(w, apperrors.Forbidden("not a member of this conversation"))
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, err := h.calls.FindByConversation(r.Context(), conversationID, limit, offset)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"calls":  records,
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
