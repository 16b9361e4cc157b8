package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/messenger"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
	"github.com/MrGarbonzo/boardroom-tee/internal/router"
	"github.com/MrGarbonzo/boardroom-tee/internal/store"
)

// identityRegex constrains agent identities, e.g. "finance-acme".
var identityRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry  *registry.Registry
	router    *router.Router
	messenger *messenger.Messenger
	inbox     *messenger.Inbox
	audit     store.AuditStore
	policies  *attest.PolicyStore
	redis     *store.RedisStore

	hubIdentity    string
	adminTokenHash string
}

// NewHandler creates a new Handler with the given dependencies. audit and
// redis may be nil.
func NewHandler(
	reg *registry.Registry,
	rtr *router.Router,
	msgr *messenger.Messenger,
	inbox *messenger.Inbox,
	audit store.AuditStore,
	policies *attest.PolicyStore,
	redis *store.RedisStore,
	hubIdentity, adminTokenHash string,
) *Handler {
	return &Handler{
		registry:       reg,
		router:         rtr,
		messenger:      msgr,
		inbox:          inbox,
		audit:          audit,
		policies:       policies,
		redis:          redis,
		hubIdentity:    hubIdentity,
		adminTokenHash: adminTokenHash,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// isValidIdentity validates the agent identity format.
func isValidIdentity(identity string) bool {
	return identityRegex.MatchString(identity)
}
