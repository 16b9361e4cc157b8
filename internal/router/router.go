// Package router picks the best verified agent for a capability request.
// It sits above the trust primitives: every candidate it considers has
// already passed attestation and is unexpired.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/metrics"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
)

var (
	// ErrNoCandidate means no verified agent advertises the capability
	// (after chain exclusions).
	ErrNoCandidate = errors.New("no candidate agent for capability")
	// ErrCollaborationDepthExceeded means the collaboration chain already
	// reached the configured maximum hop count.
	ErrCollaborationDepthExceeded = errors.New("collaboration depth exceeded")
)

// Decision is one routing outcome. The routing id keys later feedback.
type Decision struct {
	RoutingID string               `json:"routing_id"`
	Target    models.RegistryEntry `json:"target"`
	Score     float64              `json:"score"`
}

// Router scores registry candidates using policy-configured weights.
type Router struct {
	registry *registry.Registry
	policies *attest.PolicyStore
	stats    *StatTracker
	logger   zerolog.Logger
}

// New creates a router reading weights and max depth from the policy store.
func New(reg *registry.Registry, policies *attest.PolicyStore, stats *StatTracker, logger zerolog.Logger) *Router {
	return &Router{
		registry: reg,
		policies: policies,
		stats:    stats,
		logger:   logger,
	}
}

// Route picks the highest-scoring verified agent advertising capability,
// excluding every identity already in the collaboration chain. Ties break
// on identity ordering so results are reproducible.
func (r *Router) Route(capability string, chain []string) (*Decision, error) {
	policy := r.policies.Current().Router

	if len(chain) >= policy.MaxDepth {
		metrics.RoutesTotal.WithLabelValues("depth_exceeded").Inc()
		return nil, fmt.Errorf("%w: chain length %d, max %d", ErrCollaborationDepthExceeded, len(chain), policy.MaxDepth)
	}

	excluded := make(map[string]struct{}, len(chain))
	for _, identity := range chain {
		excluded[identity] = struct{}{}
	}

	candidates := r.registry.FindByCapability(capability)

	type scored struct {
		entry models.RegistryEntry
		score float64
	}
	eligible := make([]scored, 0, len(candidates))
	for _, entry := range candidates {
		if _, skip := excluded[entry.Identity]; skip {
			continue
		}
		eligible = append(eligible, scored{entry: entry, score: r.score(entry, policy.Weights)})
	}

	if len(eligible) == 0 {
		metrics.RoutesTotal.WithLabelValues("no_candidate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoCandidate, capability)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].entry.Identity < eligible[j].entry.Identity
	})

	best := eligible[0]
	routingID := "route_" + uuid.Must(uuid.NewV7()).String()
	r.stats.Begin(routingID, best.entry.Identity)

	metrics.RoutesTotal.WithLabelValues("routed").Inc()
	r.logger.Info().
		Str("routing_id", routingID).
		Str("capability", capability).
		Str("target", best.entry.Identity).
		Float64("score", best.score).
		Int("chain_len", len(chain)).
		Msg("collaboration routed")

	return &Decision{RoutingID: routingID, Target: best.entry, Score: best.score}, nil
}

// Result records feedback for a routing decision.
func (r *Router) Result(routingID string, ok bool) bool {
	return r.stats.Finish(routingID, ok)
}

// score combines capability match strength, historical success rate and
// current load. A specialist advertising fewer capabilities matches more
// strongly than a generalist.
func (r *Router) score(entry models.RegistryEntry, w attest.RouterWeights) float64 {
	match := 1.0
	if n := len(entry.Capabilities); n > 0 {
		match = 1.0 / float64(n)
	}
	return w.Capability*match +
		w.SuccessRate*r.stats.SuccessRate(entry.Identity) +
		w.Load*(1.0-r.stats.Load(entry.Identity))
}
