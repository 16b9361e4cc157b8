package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// WhoResponse represents the agent profile response.
type WhoResponse struct {
	Identity     string   `json:"identity"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	PublicKey    string   `json:"public_key"`
	VerifiedAt   string   `json:"verified_at"`
	ExpiresAt    string   `json:"expires_at"`
	Online       bool     `json:"online"`
}

// Who handles agent profile lookup. Expired agents are indistinguishable
// from unknown ones.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	if !isValidIdentity(identity) {
		h.Error(w, http.StatusBadRequest, "invalid identity format")
		return
	}

	entry, ok := h.registry.Lookup(identity)
	if !ok {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	h.JSON(w, http.StatusOK, WhoResponse{
		Identity:     entry.Identity,
		AgentType:    string(entry.AgentType),
		Capabilities: entry.Capabilities,
		Endpoint:     entry.Endpoint,
		PublicKey:    entry.PublicKey,
		VerifiedAt:   entry.VerifiedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    entry.ExpiresAt.UTC().Format(time.RFC3339),
		Online:       entry.Online(time.Now(), 5*time.Minute),
	})
}
