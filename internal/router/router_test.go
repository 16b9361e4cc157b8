package router

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
)

const testMeasurement = "0011223344556677889900112233445566778899001122334455667788990011"

func newTestRouter(t *testing.T) (*Router, *registry.Registry, *StatTracker) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trusted_measurements:
  finance:
    - `+testMeasurement+`
  sales:
    - `+testMeasurement+`
router:
  max_depth: 3
  weights:
    capability: 0.4
    success_rate: 0.4
    load: 0.2
`), 0600))
	policies, err := attest.NewPolicyStore(path)
	require.NoError(t, err)

	reg := registry.New(attest.NewVerifier(policies), time.Hour, nil, zerolog.Nop())
	stats := NewStatTracker(time.Minute)
	return New(reg, policies, stats, zerolog.Nop()), reg, stats
}

func addAgent(t *testing.T, reg *registry.Registry, identity string, capabilities ...string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	agentType := models.AgentTypeFinance
	if strings.HasPrefix(identity, "sales") {
		agentType = models.AgentTypeSales
	}

	result := reg.Register(&models.RegistrationRequest{
		Identity:     identity,
		AgentType:    agentType,
		Capabilities: capabilities,
		Endpoint:     "http://" + identity + ":9000",
		Attestation: &models.AttestationStatement{
			Measurement:    testMeasurement,
			BoundPublicKey: base64.StdEncoding.EncodeToString(pub),
			ReportData:     crypto.BindingDigest(pub),
			RawQuote:       base64.StdEncoding.EncodeToString([]byte("quote")),
			IssuedAt:       time.Now().UTC(),
		},
	})
	require.True(t, result.Registered, result.Reason)
}

func TestRouteSelectsCandidate(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")

	decision, err := r.Route("roi_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, "finance-acme", decision.Target.Identity)
	assert.True(t, strings.HasPrefix(decision.RoutingID, "route_"))
	assert.Greater(t, decision.Score, 0.0)
}

func TestRouteNoCandidate(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")

	_, err := r.Route("juggling", nil)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestRouteChainExclusion(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")
	addAgent(t, reg, "finance-zeta", "roi_analysis")

	decision, err := r.Route("roi_analysis", []string{"finance-acme"})
	require.NoError(t, err)
	assert.Equal(t, "finance-zeta", decision.Target.Identity)

	// Everyone in the chain: nobody left to route to.
	_, err = r.Route("roi_analysis", []string{"finance-acme", "finance-zeta"})
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestRouteDepthExceeded(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")

	_, err := r.Route("roi_analysis", []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrCollaborationDepthExceeded)
}

func TestRouteDeterministicTieBreak(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-zeta", "roi_analysis")
	addAgent(t, reg, "finance-acme", "roi_analysis")

	for i := 0; i < 5; i++ {
		decision, err := r.Route("roi_analysis", nil)
		require.NoError(t, err)
		assert.Equal(t, "finance-acme", decision.Target.Identity)
		// Release the slot so load does not shift the next pick.
		require.True(t, r.Result(decision.RoutingID, true))
	}
}

func TestRouteSpecialistBeatsGeneralist(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-generalist", "roi_analysis", "budgeting", "forecasting", "payroll")
	addAgent(t, reg, "finance-specialist", "roi_analysis")

	decision, err := r.Route("roi_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, "finance-specialist", decision.Target.Identity)
}

func TestFeedbackAffectsRouting(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-flaky", "roi_analysis")
	addAgent(t, reg, "finance-solid", "roi_analysis")

	// Record repeated failures for one agent and successes for the other.
	for i := 0; i < 10; i++ {
		d, err := r.Route("roi_analysis", []string{"finance-solid"})
		require.NoError(t, err)
		require.Equal(t, "finance-flaky", d.Target.Identity)
		r.Result(d.RoutingID, false)

		d, err = r.Route("roi_analysis", []string{"finance-flaky"})
		require.NoError(t, err)
		r.Result(d.RoutingID, true)
	}

	decision, err := r.Route("roi_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, "finance-solid", decision.Target.Identity)
}

func TestLoadAffectsRouting(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-busy", "roi_analysis")
	addAgent(t, reg, "finance-idle", "roi_analysis")

	// Pile unresolved work on one agent. Lexicographic order would prefer
	// finance-busy, so a different pick proves the load term works.
	for i := 0; i < 3; i++ {
		d, err := r.Route("roi_analysis", []string{"finance-idle"})
		require.NoError(t, err)
		require.Equal(t, "finance-busy", d.Target.Identity)
	}

	decision, err := r.Route("roi_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, "finance-idle", decision.Target.Identity)
}

func TestResultUnknownRoutingID(t *testing.T) {
	r, _, _ := newTestRouter(t)
	assert.False(t, r.Result("route_nope", true))
}

func TestResultResolvesOnce(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")

	decision, err := r.Route("roi_analysis", nil)
	require.NoError(t, err)

	assert.True(t, r.Result(decision.RoutingID, true))
	assert.False(t, r.Result(decision.RoutingID, true))
}

func TestStatTrackerSmoothing(t *testing.T) {
	stats := NewStatTracker(time.Minute)

	// Unknown agents start at the prior, not at 0 or 1.
	assert.InDelta(t, 0.5, stats.SuccessRate("finance-new"), 1e-9)

	stats.Begin("route_1", "finance-acme")
	require.True(t, stats.Finish("route_1", true))
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate("finance-acme"), 1e-9)
	assert.InDelta(t, 0.0, stats.Load("finance-acme"), 1e-9)

	stats.Begin("route_2", "finance-acme")
	assert.InDelta(t, 0.5, stats.Load("finance-acme"), 1e-9)
}

func TestRouterExpiredAgentsInvisible(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	addAgent(t, reg, "finance-acme", "roi_analysis")

	reg.Deregister("finance-acme")

	_, err := r.Route("roi_analysis", nil)
	assert.ErrorIs(t, err, ErrNoCandidate)
}
