package router

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// agentStats accumulates routing feedback for one agent.
type agentStats struct {
	successes int64
	failures  int64
	inflight  int64
}

// StatTracker maintains per-agent success rates and load, fed back into
// routing scores. Pending routing decisions are held in an expirable LRU
// so decisions that never receive feedback age out instead of leaking.
type StatTracker struct {
	mu      sync.Mutex
	agents  map[string]*agentStats
	pending *expirable.LRU[string, string] // routing id -> identity
}

// NewStatTracker creates a tracker. Pending decisions expire after ttl.
func NewStatTracker(ttl time.Duration) *StatTracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	t := &StatTracker{
		agents: make(map[string]*agentStats),
	}
	t.pending = expirable.NewLRU[string, string](4096, func(_ string, identity string) {
		// A decision evicted without feedback releases its load slot.
		t.mu.Lock()
		if s, ok := t.agents[identity]; ok && s.inflight > 0 {
			s.inflight--
		}
		t.mu.Unlock()
	}, ttl)
	return t
}

// Begin records that a routing decision was issued for identity.
func (t *StatTracker) Begin(routingID, identity string) {
	t.mu.Lock()
	s, ok := t.agents[identity]
	if !ok {
		s = &agentStats{}
		t.agents[identity] = s
	}
	s.inflight++
	t.mu.Unlock()

	t.pending.Add(routingID, identity)
}

// Finish records the outcome of a routing decision. Returns false if the
// routing id is unknown or already resolved.
func (t *StatTracker) Finish(routingID string, ok bool) bool {
	identity, found := t.pending.Get(routingID)
	if !found {
		return false
	}
	// Remove fires the eviction callback, which releases the load slot.
	t.pending.Remove(routingID)

	t.mu.Lock()
	defer t.mu.Unlock()
	s, exists := t.agents[identity]
	if !exists {
		return false
	}
	if ok {
		s.successes++
	} else {
		s.failures++
	}
	return true
}

// SuccessRate returns the smoothed success rate for identity in [0, 1].
// Unknown agents start at 0.5 rather than 0 or 1.
func (t *StatTracker) SuccessRate(identity string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.agents[identity]
	if !ok {
		return 0.5
	}
	// Laplace smoothing keeps new agents routable.
	return float64(s.successes+1) / float64(s.successes+s.failures+2)
}

// Load returns the normalized current load for identity in [0, 1).
func (t *StatTracker) Load(identity string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.agents[identity]
	if !ok {
		return 0
	}
	return float64(s.inflight) / float64(s.inflight+1)
}
