// Package registry is the authoritative store of currently-trusted agents.
// An entry is observable through Lookup/FindByCapability if and only if it
// passed attestation verification and has not expired.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/metrics"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// Hooks receive registry lifecycle notifications. Implementations must be
// safe for concurrent use; the registry calls them outside its locks.
type Hooks interface {
	AgentRegistered(entry models.RegistryEntry)
	AgentRejected(identity string, agentType models.AgentType, reason string)
	AgentExpired(identity string)
	AgentDeregistered(identity string)
}

// NopHooks discards all notifications.
type NopHooks struct{}

func (NopHooks) AgentRegistered(models.RegistryEntry)           {}
func (NopHooks) AgentRejected(string, models.AgentType, string) {}
func (NopHooks) AgentExpired(string)                            {}
func (NopHooks) AgentDeregistered(string)                       {}

// RegisterResult is the outcome of a registration attempt.
type RegisterResult struct {
	Registered bool
	Reason     string // rejection reason, empty when registered
	Entry      *models.RegistryEntry
}

// entry pairs the stored record with a generation counter. The sweeper
// only deletes an entry whose generation still matches the one it read,
// so a registration racing the same sweep tick is never lost.
type entry struct {
	data models.RegistryEntry
	gen  uint64
}

// Registry holds verified agents in memory. Reads run concurrently;
// writes serialize on one mutex but are uniformly cheap map operations.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	genSeq   uint64
	verifier *attest.Verifier
	validity time.Duration
	hooks    Hooks
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a registry. validity is how long a successful registration
// remains trusted before the agent must re-attest.
func New(verifier *attest.Verifier, validity time.Duration, hooks Hooks, logger zerolog.Logger) *Registry {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Registry{
		entries:  make(map[string]*entry),
		verifier: verifier,
		validity: validity,
		hooks:    hooks,
		logger:   logger,
		now:      time.Now,
	}
}

// Register verifies the attestation and inserts or replaces the entry.
// All-or-nothing: a failed verification leaves the registry untouched.
func (r *Registry) Register(req *models.RegistrationRequest) RegisterResult {
	result := r.verifier.Verify(req.Attestation, req.AgentType)
	if !result.Valid {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		metrics.VerificationFailuresTotal.WithLabelValues(result.Reason).Inc()
		r.logger.Warn().
			Str("identity", req.Identity).
			Str("agent_type", string(req.AgentType)).
			Str("reason", result.Reason).
			Msg("registration rejected")
		r.hooks.AgentRejected(req.Identity, req.AgentType, result.Reason)
		return RegisterResult{Reason: result.Reason}
	}

	now := r.now()
	data := models.RegistryEntry{
		Identity:     req.Identity,
		AgentType:    req.AgentType,
		PublicKey:    req.Attestation.BoundPublicKey,
		Capabilities: append([]string(nil), req.Capabilities...),
		Endpoint:     req.Endpoint,
		Measurement:  req.Attestation.Measurement,
		VerifiedAt:   now,
		ExpiresAt:    now.Add(r.validity),
		LastSeen:     now,
	}

	r.mu.Lock()
	r.genSeq++
	r.entries[req.Identity] = &entry{data: data, gen: r.genSeq}
	size := len(r.entries)
	r.mu.Unlock()

	metrics.RegistrationsTotal.WithLabelValues("registered").Inc()
	metrics.RegisteredAgents.Set(float64(size))
	r.logger.Info().
		Str("identity", req.Identity).
		Str("agent_type", string(req.AgentType)).
		Str("measurement", req.Attestation.Measurement).
		Time("expires_at", data.ExpiresAt).
		Msg("agent registered")
	r.hooks.AgentRegistered(data)

	return RegisterResult{Registered: true, Entry: &data}
}

// Lookup returns a copy of the entry if it exists and has not expired.
// A stale entry is lazily evicted and reported as not found.
func (r *Registry) Lookup(identity string) (models.RegistryEntry, bool) {
	r.mu.RLock()
	e, ok := r.entries[identity]
	var data models.RegistryEntry
	var gen uint64
	if ok {
		data = e.data
		gen = e.gen
	}
	r.mu.RUnlock()

	if !ok {
		return models.RegistryEntry{}, false
	}
	if !r.now().Before(data.ExpiresAt) {
		r.evict(identity, gen)
		return models.RegistryEntry{}, false
	}
	return data, true
}

// FindByCapability returns copies of all unexpired entries advertising the
// capability, sorted by identity for deterministic callers.
func (r *Registry) FindByCapability(capability string) []models.RegistryEntry {
	now := r.now()

	r.mu.RLock()
	out := make([]models.RegistryEntry, 0, 4)
	for _, e := range r.entries {
		if now.Before(e.data.ExpiresAt) && e.data.HasCapability(capability) {
			out = append(out, e.data)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Snapshot returns copies of all unexpired entries.
func (r *Registry) Snapshot() []models.RegistryEntry {
	now := r.now()

	r.mu.RLock()
	out := make([]models.RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if now.Before(e.data.ExpiresAt) {
			out = append(out, e.data)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Heartbeat updates the agent's last-seen time. Returns false if the
// agent is unknown or expired.
func (r *Registry) Heartbeat(identity string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[identity]
	if !ok || !now.Before(e.data.ExpiresAt) {
		return false
	}
	e.data.LastSeen = now
	return true
}

// Deregister removes the agent explicitly, e.g. on graceful shutdown.
func (r *Registry) Deregister(identity string) bool {
	r.mu.Lock()
	_, ok := r.entries[identity]
	if ok {
		delete(r.entries, identity)
	}
	size := len(r.entries)
	r.mu.Unlock()

	if ok {
		metrics.RegisteredAgents.Set(float64(size))
		r.logger.Info().Str("identity", identity).Msg("agent deregistered")
		r.hooks.AgentDeregistered(identity)
	}
	return ok
}

// SweepExpired removes all entries past their expiry. Idempotent and safe
// to run concurrently with lookups and registrations: each delete is
// conditional on the generation observed at sweep time.
func (r *Registry) SweepExpired() int {
	now := r.now()

	type candidate struct {
		identity string
		gen      uint64
	}
	r.mu.RLock()
	var stale []candidate
	for identity, e := range r.entries {
		if !now.Before(e.data.ExpiresAt) {
			stale = append(stale, candidate{identity: identity, gen: e.gen})
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, c := range stale {
		if r.evict(c.identity, c.gen) {
			removed++
		}
	}
	if removed > 0 {
		metrics.SweepEvictionsTotal.Add(float64(removed))
		r.logger.Info().Int("removed", removed).Msg("swept expired registry entries")
	}
	return removed
}

// Count returns the number of unexpired entries.
func (r *Registry) Count() int {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if now.Before(e.data.ExpiresAt) {
			n++
		}
	}
	return n
}

// CountByType returns unexpired entry counts keyed by agent type.
func (r *Registry) CountByType() map[models.AgentType]int {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.AgentType]int)
	for _, e := range r.entries {
		if now.Before(e.data.ExpiresAt) {
			out[e.data.AgentType]++
		}
	}
	return out
}

// StartSweeper runs SweepExpired on a timer until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepExpired()
			}
		}
	}()
}

// evict deletes the entry only if its generation still matches gen and it
// is still expired at delete time (compare-and-delete).
func (r *Registry) evict(identity string, gen uint64) bool {
	now := r.now()

	r.mu.Lock()
	e, ok := r.entries[identity]
	if !ok || e.gen != gen || now.Before(e.data.ExpiresAt) {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, identity)
	size := len(r.entries)
	r.mu.Unlock()

	metrics.RegisteredAgents.Set(float64(size))
	r.hooks.AgentExpired(identity)
	return true
}
