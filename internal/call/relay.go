package call

import (
	"context"
	"encoding/json"

	apperrors "github.com/temzero/chatter-sub006/internal/errors"
	"github.com/temzero/chatter-sub006/internal/events"
	"github.com/temzero/chatter-sub006/internal/model"
)

// Relay forwards session-description and candidate payloads between call
// participants. Payloads are opaque: the relay never inspects or persists
// them, and it only reads session membership for authorization. Delivery is
// fire-and-forget; clients retry or renegotiate on failure.
type Relay struct {
	calls      *Manager
	dispatcher events.Dispatcher
}

func NewRelay(calls *Manager, dispatcher events.Dispatcher) *Relay {
	return &Relay{calls: calls, dispatcher: dispatcher}
}

// Forward delivers payload to every handle of the target participant,
// provided both users belong to a session in an active state.
func (r *Relay) Forward(ctx context.Context, sessionID, fromID, toID string, payload json.RawMessage) error {
	if toID == "" {
		return apperrors.MissingRequired("toParticipantId")
	}
	if len(payload) == 0 {
		return apperrors.MissingRequired("payload")
	}

	if err := r.calls.AuthorizeSignal(sessionID, fromID, toID); err != nil {
		return err
	}

	ev, err := model.NewServerEvent(model.ServerCallSignal, model.CallSignalPayload{
		SessionID:         sessionID,
		FromParticipantID: fromID,
		Payload:           payload,
	})
	if err != nil {
		return apperrors.Internal("failed to encode signal").WithCause(err)
	}

	r.dispatcher.ToUser(toID, ev)
	return nil
}
