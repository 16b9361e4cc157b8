package handlers

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// ReloadPolicy re-reads the trust policy from disk. Guarded by a bcrypt
// admin token so a compromised agent credential cannot swap the policy.
func (h *Handler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if h.adminTokenHash == "" {
		h.Error(w, http.StatusNotFound, "admin endpoints disabled")
		return
	}

	token := r.Header.Get("X-Boardroom-Admin-Token")
	if token == "" {
		h.Error(w, http.StatusUnauthorized, "admin token required")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminTokenHash), []byte(token)); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid admin token")
		return
	}

	if err := h.policies.Reload(); err != nil {
		h.Error(w, http.StatusUnprocessableEntity, "policy reload failed: "+err.Error())
		return
	}

	p := h.policies.Current()
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status":              "reloaded",
		"max_attestation_age": p.MaxAttestationAge.String(),
		"trusted_agent_types": len(p.TrustedMeasurements),
		"router_max_depth":    p.Router.MaxDepth,
	})
}

// AuditLog returns recent audit events for operators.
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.adminTokenHash == "" {
		h.Error(w, http.StatusNotFound, "admin endpoints disabled")
		return
	}

	token := r.Header.Get("X-Boardroom-Admin-Token")
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminTokenHash), []byte(token)); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid admin token")
		return
	}

	if h.audit == nil {
		h.Error(w, http.StatusNotFound, "audit log not configured")
		return
	}

	events, err := h.audit.RecentEvents(r.Context(), 100)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
