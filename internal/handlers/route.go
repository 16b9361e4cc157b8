package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/MrGarbonzo/boardroom-tee/internal/api/middleware"
	"github.com/MrGarbonzo/boardroom-tee/internal/router"
)

// RouteRequest asks for the best agent for a capability. Chain carries
// the identities already involved in the collaboration.
type RouteRequest struct {
	Capability string   `json:"capability"`
	Chain      []string `json:"chain,omitempty"`
}

// RouteResponse is a successful routing decision.
type RouteResponse struct {
	RoutingID string   `json:"routing_id"`
	Target    string   `json:"target"`
	AgentType string   `json:"agent_type"`
	Endpoint  string   `json:"endpoint"`
	Score     float64  `json:"score"`
	Chain     []string `json:"chain"`
}

// Route handles collaboration routing requests.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Capability == "" {
		h.Error(w, http.StatusBadRequest, "capability is required")
		return
	}

	// The caller is always part of its own chain: no self-routing.
	caller := mw.GetAgentFromContext(r.Context())
	chain := req.Chain
	if caller != nil && !contains(chain, caller.Identity) {
		chain = append(append([]string(nil), chain...), caller.Identity)
	}

	decision, err := h.router.Route(req.Capability, chain)
	switch {
	case errors.Is(err, router.ErrCollaborationDepthExceeded):
		h.Error(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, router.ErrNoCandidate):
		h.Error(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.Error(w, http.StatusInternalServerError, "routing failed")
		return
	}

	h.JSON(w, http.StatusOK, RouteResponse{
		RoutingID: decision.RoutingID,
		Target:    decision.Target.Identity,
		AgentType: string(decision.Target.AgentType),
		Endpoint:  decision.Target.Endpoint,
		Score:     decision.Score,
		Chain:     append(chain, decision.Target.Identity),
	})
}

// RouteResultRequest reports the outcome of a routed collaboration.
type RouteResultRequest struct {
	Success bool `json:"success"`
}

// RouteResult records collaboration feedback for a routing id.
func (h *Handler) RouteResult(w http.ResponseWriter, r *http.Request) {
	routingID := chi.URLParam(r, "id")

	var req RouteResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !h.router.Result(routingID, req.Success) {
		h.Error(w, http.StatusNotFound, "unknown or already-resolved routing id")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
