package handlers

import (
	"net/http"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// DirectoryEntry is one row of the agent directory.
type DirectoryEntry struct {
	Identity     string   `json:"identity"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	Online       bool     `json:"online"`
}

// DirectoryResponse lists currently verified agents.
type DirectoryResponse struct {
	Agents []DirectoryEntry `json:"agents"`
	Total  int              `json:"total"`
}

// Directory returns verified, unexpired agents, optionally filtered by
// capability.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")

	var entries []models.RegistryEntry
	if capability != "" {
		entries = h.registry.FindByCapability(capability)
	} else {
		entries = h.registry.Snapshot()
	}

	now := time.Now()
	out := make([]DirectoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirectoryEntry{
			Identity:     e.Identity,
			AgentType:    string(e.AgentType),
			Capabilities: e.Capabilities,
			Endpoint:     e.Endpoint,
			Online:       e.Online(now, 5*time.Minute),
		})
	}

	h.JSON(w, http.StatusOK, DirectoryResponse{Agents: out, Total: len(out)})
}
