package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/messenger"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// AuthMiddleware verifies request signatures against the registry. Only
// agents that are currently registered and unexpired can authenticate:
// an agent whose attestation lapsed loses API access immediately.
type AuthMiddleware struct {
	registry *registry.Registry
	replay   messenger.ReplayCache
	window   time.Duration
	nonceTTL time.Duration
}

// NewAuthMiddleware creates an auth middleware. window bounds how old a
// request timestamp may be; nonceTTL is how long used nonces are remembered
// and must outlast the window.
func NewAuthMiddleware(reg *registry.Registry, replay messenger.ReplayCache, window, nonceTTL time.Duration) *AuthMiddleware {
	if window <= 0 {
		window = 30 * time.Second
	}
	if nonceTTL < window {
		nonceTTL = 6 * window
	}
	return &AuthMiddleware{
		registry: reg,
		replay:   replay,
		window:   window,
		nonceTTL: nonceTTL,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract headers
		identity := r.Header.Get("X-Boardroom-Agent")
		nonce := r.Header.Get("X-Boardroom-Nonce")
		timestamp := r.Header.Get("X-Boardroom-Timestamp")
		signature := r.Header.Get("X-Boardroom-Signature")

		// Validate all headers present
		if identity == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		// Parse and validate timestamp
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if !m.isTimestampValid(ts) {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		// Validate nonce format (min 24 chars for adequate entropy)
		if len(nonce) < 24 {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		// Check nonce not reused
		seen, err := m.replay.CheckAndMark(r.Context(), identity, nonce, m.nonceTTL)
		if err != nil || seen {
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		// Sender must be registered, verified and unexpired
		entry, ok := m.registry.Lookup(identity)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "agent not registered or expired")
			return
		}

		// Read body and compute hash
		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		bodyHash := sha256Hex(body)

		// Verify signature
		signedData := crypto.SignaturePayload(bodyHash, nonce, ts)
		pubkey, err := crypto.ValidatePublicKey(entry.PublicKey)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid registered public key")
			return
		}

		if err := crypto.VerifySignature(pubkey, signedData, signature); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Add agent to context
		ctx := context.WithValue(r.Context(), AgentContextKey, &entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := time.Now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the past (within window), reject future timestamps
	return ts > now-windowMs && ts <= now
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.RegistryEntry {
	entry, ok := ctx.Value(AgentContextKey).(*models.RegistryEntry)
	if !ok {
		return nil
	}
	return entry
}
