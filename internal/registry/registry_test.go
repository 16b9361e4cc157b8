package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

const (
	trustedMeasurement = "1111aaaa2222bbbb3333cccc4444dddd1111aaaa2222bbbb3333cccc4444dddd"
	rogueMeasurement   = "9999eeee8888ffff7777aaaa6666bbbb9999eeee8888ffff7777aaaa6666bbbb"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_attestation_age: 4h
trusted_measurements:
  finance:
    - `+trustedMeasurement+`
  marketing:
    - `+trustedMeasurement+`
`), 0600))
	policies, err := attest.NewPolicyStore(path)
	require.NoError(t, err)
	return New(attest.NewVerifier(policies), time.Hour, nil, zerolog.Nop())
}

func testRequest(t *testing.T, identity string, agentType models.AgentType, measurement string, capabilities ...string) *models.RegistrationRequest {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &models.RegistrationRequest{
		Identity:     identity,
		AgentType:    agentType,
		Capabilities: capabilities,
		Endpoint:     "http://" + identity + ":9000",
		Attestation: &models.AttestationStatement{
			Measurement:    measurement,
			BoundPublicKey: base64.StdEncoding.EncodeToString(pub),
			ReportData:     crypto.BindingDigest(pub),
			RawQuote:       base64.StdEncoding.EncodeToString([]byte("quote")),
			IssuedAt:       time.Now().UTC(),
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	require.True(t, result.Registered)
	require.NotNil(t, result.Entry)

	entry, ok := r.Lookup("finance-acme")
	require.True(t, ok)
	assert.Equal(t, models.AgentTypeFinance, entry.AgentType)
	assert.Equal(t, trustedMeasurement, entry.Measurement)
	assert.True(t, entry.HasCapability("roi_analysis"))
	assert.True(t, entry.ExpiresAt.After(entry.VerifiedAt))
}

func TestRejectedLeavesNoTrace(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Register(testRequest(t, "finance-evil", models.AgentTypeFinance, rogueMeasurement, "roi_analysis"))
	assert.False(t, result.Registered)
	assert.Equal(t, attest.ReasonMeasurementNotTrusted, result.Reason)

	_, ok := r.Lookup("finance-evil")
	assert.False(t, ok)
	assert.Zero(t, r.Count())
}

func TestReRegisterReplacesEntry(t *testing.T) {
	r := newTestRegistry(t)

	first := r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	require.True(t, first.Registered)

	second := r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "budgeting"))
	require.True(t, second.Registered)

	entry, ok := r.Lookup("finance-acme")
	require.True(t, ok)
	assert.True(t, entry.HasCapability("budgeting"))
	assert.False(t, entry.HasCapability("roi_analysis"))
	assert.Equal(t, 1, r.Count())
}

func TestExpiredEntryInvisible(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok := r.Lookup("finance-acme")
	assert.False(t, ok)
	assert.Empty(t, r.FindByCapability("roi_analysis"))
	assert.Zero(t, r.Count())
}

func TestSweepExpired(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	r.Register(testRequest(t, "marketing-acme", models.AgentTypeMarketing, trustedMeasurement, "campaigns"))

	assert.Zero(t, r.SweepExpired())

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.Equal(t, 2, r.SweepExpired())
	// Idempotent: a second sweep finds nothing.
	assert.Zero(t, r.SweepExpired())
}

func TestSweepSkipsReplacedEntry(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))

	r.mu.RLock()
	oldGen := r.entries["finance-acme"].gen
	r.mu.RUnlock()

	base := time.Now()
	r.now = func() time.Time { return base.Add(2 * time.Hour) }

	// The agent re-attests between a sweep reading candidates and deleting.
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))

	assert.False(t, r.evict("finance-acme", oldGen))

	_, ok := r.Lookup("finance-acme")
	assert.True(t, ok)
}

func TestFindByCapabilitySorted(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-zeta", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	r.Register(testRequest(t, "marketing-acme", models.AgentTypeMarketing, trustedMeasurement, "campaigns"))

	entries := r.FindByCapability("roi_analysis")
	require.Len(t, entries, 2)
	assert.Equal(t, "finance-acme", entries[0].Identity)
	assert.Equal(t, "finance-zeta", entries[1].Identity)
}

func TestHeartbeat(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))

	before, _ := r.Lookup("finance-acme")

	base := time.Now()
	r.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.True(t, r.Heartbeat("finance-acme"))

	after, _ := r.Lookup("finance-acme")
	assert.True(t, after.LastSeen.After(before.LastSeen))
	// Heartbeats never extend trust; expiry still requires re-attestation.
	assert.Equal(t, before.ExpiresAt, after.ExpiresAt)

	r.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.False(t, r.Heartbeat("finance-acme"))
	assert.False(t, r.Heartbeat("never-registered"))
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))

	assert.True(t, r.Deregister("finance-acme"))
	_, ok := r.Lookup("finance-acme")
	assert.False(t, ok)
	assert.False(t, r.Deregister("finance-acme"))
}

func TestHooksFire(t *testing.T) {
	recorder := &hookRecorder{}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trusted_measurements:
  finance:
    - `+trustedMeasurement+`
`), 0600))
	policies, err := attest.NewPolicyStore(path)
	require.NoError(t, err)
	r := New(attest.NewVerifier(policies), time.Hour, recorder, zerolog.Nop())

	r.Register(testRequest(t, "finance-acme", models.AgentTypeFinance, trustedMeasurement, "roi_analysis"))
	r.Register(testRequest(t, "finance-evil", models.AgentTypeFinance, rogueMeasurement, "roi_analysis"))
	r.Deregister("finance-acme")

	assert.Equal(t, []string{"registered:finance-acme", "rejected:finance-evil", "deregistered:finance-acme"}, recorder.calls())
}

type hookRecorder struct {
	mu     sync.Mutex
	events []string
}

func (h *hookRecorder) add(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *hookRecorder) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *hookRecorder) AgentRegistered(e models.RegistryEntry) { h.add("registered:" + e.Identity) }
func (h *hookRecorder) AgentRejected(identity string, _ models.AgentType, _ string) {
	h.add("rejected:" + identity)
}
func (h *hookRecorder) AgentExpired(identity string)      { h.add("expired:" + identity) }
func (h *hookRecorder) AgentDeregistered(identity string) { h.add("deregistered:" + identity) }
