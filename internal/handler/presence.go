package handler

import (
	"net/http"
	"strings"

	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/httputil"
	"github.com/temzero/chatter-sub006/internal/middleware"
	"github.com/temzero/chatter-sub006/internal/presence"
)

const maxSnapshotUsers = 100

// PresenceHandler serves one-shot presence snapshots for clients that do not
// hold a live connection.
type PresenceHandler struct {
	tracker *presence.Tracker
}

func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if middleware.GetAccount(r.Context()) == nil {
		httputil.WriteError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	raw := r.URL.Query().Get("userIds")
	if raw == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userIds"))
		return
	}

	userIDs := make([]string, 0, 8)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}
	if len(userIDs) == 0 {
		httputil.WriteError(w, apperrors.MissingRequired("userIds"))
		return
	}
	if len(userIDs) > maxSnapshotUsers {
		httputil.WriteError(w, apperrors.InvalidInput("userIds", "too many users requested"))
		return
	}

	statuses := h.tracker.Snapshot(r.Context(), userIDs)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}
