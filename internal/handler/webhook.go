package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/call"
	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/httputil"
	"github.com/temzero/chatter-sub006/internal/routing"
)

// WebhookHandler receives room lifecycle callbacks from the media routing
// service and feeds them into call session management.
type WebhookHandler struct {
	calls *call.Manager
}

func NewWebhookHandler(calls *call.Manager) *WebhookHandler {
	return &WebhookHandler{calls: calls}
}

func (h *WebhookHandler) HandleRoomEvent(w http.ResponseWriter, r *http.Request) {
	var ev routing.RoomEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed room event"))
		return
	}
	if ev.Type == "" || ev.Room == "" {
		httputil.WriteError(w, apperrors.MissingRequired("event"))
		return
	}

	if err := h.calls.HandleRoomEvent(r.Context(), ev); err != nil {
		// Events for rooms we no longer track (late callbacks after the
		// session went terminal) are acknowledged so the routing service
		// does not retry them forever.
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) || apperrors.IsCode(err, apperrors.ErrCodeConflict) {
			log.Debug().Str("room", ev.Room).Str("event", string(ev.Type)).Msg("ignoring room event for inactive session")
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
