package handlers

import (
	"net/http"
	"time"
)

// StatsResponse summarizes hub activity.
type StatsResponse struct {
	TotalAgents  int              `json:"total_agents"`
	AgentsByType map[string]int   `json:"agents_by_type"`
	Health       map[string]int   `json:"health"`
	AuditEvents  map[string]int64 `json:"audit_events,omitempty"`
	Timestamp    string           `json:"timestamp"`
}

// Stats handles hub statistics. Health buckets classify agents by how
// recently they were seen: healthy within 5 minutes, unhealthy within
// 15, inactive beyond that.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	byType := make(map[string]int)
	for t, n := range h.registry.CountByType() {
		byType[string(t)] = n
	}

	health := map[string]int{"healthy": 0, "unhealthy": 0, "inactive": 0}
	for _, e := range h.registry.Snapshot() {
		switch {
		case e.Online(now, 5*time.Minute):
			health["healthy"]++
		case e.Online(now, 15*time.Minute):
			health["unhealthy"]++
		default:
			health["inactive"]++
		}
	}

	resp := StatsResponse{
		TotalAgents:  h.registry.Count(),
		AgentsByType: byType,
		Health:       health,
		Timestamp:    now.UTC().Format(time.RFC3339),
	}

	if h.audit != nil {
		if counts, err := h.audit.CountByKind(r.Context()); err == nil {
			resp.AuditEvents = counts
		}
	}

	h.JSON(w, http.StatusOK, resp)
}
