package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/call"
	"github.com/temzero/chatter-sub006/internal/config"
	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/httputil"
	"github.com/temzero/chatter-sub006/internal/middleware"
	"github.com/temzero/chatter-sub006/internal/model"
	"github.com/temzero/chatter-sub006/internal/presence"
	"github.com/temzero/chatter-sub006/internal/repository"
	"github.com/temzero/chatter-sub006/internal/typing"
	"github.com/temzero/chatter-sub006/internal/ws"
)

// connSender pumps server events onto one WebSocket connection. Events to a
// connection whose buffer is full are dropped; signaling is best-effort over
// the live connection.
type connSender struct {
	conn   *websocket.Conn
	events chan model.ServerEvent
	done   chan struct{}
	once   sync.Once
}

func newConnSender(conn *websocket.Conn) *connSender {
	s := &connSender{
		conn:   conn,
		events: make(chan model.ServerEvent, config.SendBufferSize),
		done:   make(chan struct{}),
	}
	go s.writePump()
	return s
}

func (s *connSender) Send(ev model.ServerEvent) error {
	select {
	case <-s.done:
		return apperrors.TransientNetwork("connection closed")
	case s.events <- ev:
		return nil
	default:
		log.Warn().Str("type", ev.Type).Msg("connection event buffer full, dropping event")
		return nil
	}
}

func (s *connSender) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *connSender) writePump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.conn.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
			if err := s.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("write failed, closing connection")
				s.Close()
				return
			}
		}
	}
}

// WSHandler upgrades authenticated requests to WebSocket connections and
// dispatches the client protocol onto the coordinator components.
type WSHandler struct {
	registry      *ws.Registry
	presence      *presence.Tracker
	typing        *typing.Aggregator
	calls         *call.Manager
	relay         *call.Relay
	conversations repository.ConversationRepository
	limiter       *middleware.RedisRateLimiter
	upgrader      websocket.Upgrader
}

func NewWSHandler(
	registry *ws.Registry,
	tracker *presence.Tracker,
	aggregator *typing.Aggregator,
	calls *call.Manager,
	relay *call.Relay,
	conversations repository.ConversationRepository,
	limiter *middleware.RedisRateLimiter,
) *WSHandler {
	return &WSHandler{
		registry:      registry,
		presence:      tracker,
		typing:        aggregator,
		calls:         calls,
		relay:         relay,
		conversations: conversations,
		limiter:       limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth happens before the upgrade; browser origins are
			// enforced at the edge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		httputil.WriteError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sender := newConnSender(conn)
	connID := h.registry.Register(account.ID, sender)

	defer func() {
		h.registry.Unregister(connID)
		h.presence.DropObserver(connID)
	}()

	conn.SetReadLimit(config.MaxClientFrameSize)
	conn.SetPongHandler(func(string) error {
		h.registry.Heartbeat(connID)
		return nil
	})

	// A pending call invite is the one signaling event that survives the
	// recipient being offline: deliver it on (re)connect.
	for _, invite := range h.calls.RingingFor(account.ID) {
		if ev, err := model.NewServerEvent(model.ServerCallStateChange, invite); err == nil {
			sender.Send(ev)
		}
	}

	for {
		var cev model.ClientEvent
		if err := conn.ReadJSON(&cev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connectionId", connID).Msg("websocket read error")
			}
			return
		}

		if err := h.dispatch(r.Context(), connID, account, cev); err != nil {
			h.sendError(sender, cev.Type, err)
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, connID string, account *model.Account, cev model.ClientEvent) error {
	switch cev.Type {
	case model.ClientHeartbeat:
		h.registry.Heartbeat(connID)
		return nil

	case model.ClientPresenceSubscribe:
		var payload model.PresenceSubscribePayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		h.presence.Subscribe(ctx, connID, payload.UserIDs)
		return nil

	case model.ClientPresenceUnsub:
		var payload model.PresenceSubscribePayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		h.presence.Unsubscribe(connID, payload.UserIDs)
		return nil

	case model.ClientTypingStart, model.ClientTypingStop:
		var payload model.TypingPayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		if payload.ConversationID == "" {
			return apperrors.MissingRequired("conversationId")
		}
		if err := h.requireMember(ctx, payload.ConversationID, account.ID); err != nil {
			return err
		}
		if cev.Type == model.ClientTypingStart {
			return h.typing.StartTyping(ctx, payload.ConversationID, account.ID)
		}
		return h.typing.StopTyping(ctx, payload.ConversationID, account.ID)

	case model.ClientCallInitiate:
		var payload model.CallInitiatePayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		if payload.ConversationID == "" {
			return apperrors.MissingRequired("conversationId")
		}
		if h.limiter != nil {
			allowed, _, _ := h.limiter.Check(ctx, "initiate:"+account.ID, config.InitiateRateLimitPerMin)
			if !allowed {
				return apperrors.RateLimitExceeded()
			}
		}
		_, err := h.calls.Initiate(ctx, payload.ConversationID, account.ID, payload.Mode)
		return err

	case model.ClientCallAccept, model.ClientCallReject, model.ClientCallCancel, model.ClientCallHangUp:
		var payload model.CallControlPayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		if payload.SessionID == "" {
			return apperrors.MissingRequired("sessionId")
		}
		switch cev.Type {
		case model.ClientCallAccept:
			return h.calls.Accept(ctx, payload.SessionID, account.ID)
		case model.ClientCallReject:
			return h.calls.Reject(ctx, payload.SessionID, account.ID)
		case model.ClientCallCancel:
			return h.calls.Cancel(ctx, payload.SessionID, account.ID)
		default:
			return h.calls.HangUp(ctx, payload.SessionID, account.ID)
		}

	case model.ClientCallSignal:
		var payload model.CallSignalPayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		if payload.SessionID == "" {
			return apperrors.MissingRequired("sessionId")
		}
		return h.relay.Forward(ctx, payload.SessionID, account.ID, payload.ToParticipantID, payload.Payload)

	case model.ClientCallMedia:
		var payload model.CallMediaPayload
		if err := json.Unmarshal(cev.Data, &payload); err != nil {
			return apperrors.InvalidInput("data", "malformed payload")
		}
		if payload.SessionID == "" {
			return apperrors.MissingRequired("sessionId")
		}
		return h.calls.SetMedia(ctx, payload.SessionID, account.ID, payload.Media)

	default:
		return apperrors.InvalidInput("type", "unknown operation")
	}
}

func (h *WSHandler) requireMember(ctx context.Context, conversationID, userID string) error {
	isMember, err := h.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return apperrors.Database(err)
	}
	if !isMember {
		return apperrors.Forbidden("not a member of this conversation")
	}
	return nil
}

// sendError reports a guard violation synchronously so the client can
// resynchronize; failures are never silently dropped.
func (h *WSHandler) sendError(sender *connSender, op string, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("operation failed")
		log.Error().Err(err).Str("op", op).Msg("unexpected dispatch error")
	}

	ev, encErr := model.NewServerEvent(model.ServerError, model.ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Op:      op,
	})
	if encErr != nil {
		return
	}
	sender.Send(ev)
}
