package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mw "github.com/MrGarbonzo/boardroom-tee/internal/api/middleware"
	"github.com/MrGarbonzo/boardroom-tee/internal/messenger"
	"github.com/MrGarbonzo/boardroom-tee/internal/metrics"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/store"
)

// Relay accepts a signed envelope for hub-brokered delivery. The hub
// verifies the envelope (sender registered, signature, freshness, no
// replay) but cannot decrypt the payload: it is queued ciphertext.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	var msg models.SignedMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The authenticated caller must be the envelope's claimed sender.
	caller := mw.GetAgentFromContext(r.Context())
	if caller == nil || caller.Identity != msg.Sender {
		h.Error(w, http.StatusForbidden, "envelope sender does not match authenticated agent")
		return
	}

	if err := h.messenger.VerifyEnvelope(r.Context(), &msg); err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, messenger.ErrReplayDetected):
			h.recordReplay(r.Context(), msg.Sender)
		case errors.Is(err, messenger.ErrMalformedMessage):
			status = http.StatusBadRequest
		case errors.Is(err, messenger.ErrStaleMessage):
			status = http.StatusConflict
		}
		h.Error(w, status, err.Error())
		return
	}

	if _, ok := h.registry.Lookup(msg.Recipient); !ok {
		h.Error(w, http.StatusNotFound, "recipient unknown or expired")
		return
	}

	h.inbox.Put(&msg)
	metrics.MessagesRelayedTotal.Inc()

	h.JSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "queued",
		"id":      msg.ID,
		"pending": h.inbox.Pending(msg.Recipient),
	})
}

// Inbox drains the authenticated agent's queued envelopes.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	caller := mw.GetAgentFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	msgs := h.inbox.Drain(caller.Identity)
	if msgs == nil {
		msgs = []*models.SignedMessage{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (h *Handler) recordReplay(ctx context.Context, sender string) {
	if h.audit == nil {
		return
	}
	_ = h.audit.RecordEvent(ctx, &store.AuditEvent{
		Kind:     store.EventReplayDetected,
		Identity: sender,
	})
}
