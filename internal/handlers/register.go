package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	mw "github.com/MrGarbonzo/boardroom-tee/internal/api/middleware"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// registrationSchema validates the registration body shape before any
// field reaches the typed decoder.
const registrationSchema = `{
	"type": "object",
	"required": ["identity", "agent_type", "capabilities", "endpoint", "attestation"],
	"properties": {
		"identity": {"type": "string", "minLength": 2, "maxLength": 64},
		"agent_type": {"type": "string", "minLength": 1, "maxLength": 32},
		"capabilities": {
			"type": "array",
			"items": {"type": "string", "minLength": 1, "maxLength": 64},
			"maxItems": 32
		},
		"endpoint": {"type": "string", "minLength": 1, "maxLength": 256},
		"attestation": {
			"type": "object",
			"required": ["measurement", "bound_public_key", "report_data", "raw_quote", "issued_at"],
			"properties": {
				"measurement": {"type": "string"},
				"bound_public_key": {"type": "string"},
				"report_data": {"type": "string"},
				"raw_quote": {"type": "string"},
				"issued_at": {"type": "string"}
			}
		}
	}
}`

var registrationSchemaLoader = gojsonschema.NewStringLoader(registrationSchema)

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	Status     string `json:"status"` // "registered" or "rejected"
	Reason     string `json:"reason,omitempty"`
	Identity   string `json:"identity,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// Register handles agent registration with attestation verification.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := gojsonschema.Validate(registrationSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !result.Valid() {
		h.Error(w, http.StatusBadRequest, "invalid registration: "+result.Errors()[0].String())
		return
	}

	var req models.RegistrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !isValidIdentity(req.Identity) {
		h.Error(w, http.StatusBadRequest, "invalid identity format")
		return
	}

	regResult := h.registry.Register(&req)
	if !regResult.Registered {
		// The reason string is the contract: operators must be able to
		// tell a wrong measurement from an expired attestation.
		h.JSON(w, http.StatusForbidden, RegisterResponse{
			Status: "rejected",
			Reason: regResult.Reason,
		})
		return
	}

	h.JSON(w, http.StatusCreated, RegisterResponse{
		Status:     "registered",
		Identity:   regResult.Entry.Identity,
		ExpiresAt:  regResult.Entry.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		ProfileURL: "/who/" + regResult.Entry.Identity,
	})
}

// Deregister handles explicit agent removal. Agents may only remove
// themselves.
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	caller := mw.GetAgentFromContext(r.Context())
	if caller == nil || caller.Identity != identity {
		h.Error(w, http.StatusForbidden, "agents may only deregister themselves")
		return
	}

	if !h.registry.Deregister(identity) {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

// Heartbeat updates the caller's last-seen time. It does not extend the
// registration expiry: renewal requires full re-attestation.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	caller := mw.GetAgentFromContext(r.Context())
	if caller == nil || caller.Identity != identity {
		h.Error(w, http.StatusForbidden, "agents may only heartbeat themselves")
		return
	}

	if !h.registry.Heartbeat(identity) {
		h.Error(w, http.StatusNotFound, "agent not found or expired")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
