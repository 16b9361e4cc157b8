package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

const (
	trustedMeasurement = "aaaa1111bbbb2222cccc3333dddd4444aaaa1111bbbb2222cccc3333dddd4444"
	rogueMeasurement   = "ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000"
)

func writePolicy(t *testing.T, body string) *PolicyStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	store, err := NewPolicyStore(path)
	require.NoError(t, err)
	return store
}

func testPolicyStore(t *testing.T) *PolicyStore {
	return writePolicy(t, `
max_attestation_age: 4h
trusted_measurements:
  finance:
    - `+trustedMeasurement+`
router:
  max_depth: 5
`)
}

func makeStatement(t *testing.T, measurement string) *models.AttestationStatement {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &models.AttestationStatement{
		Measurement:    measurement,
		BoundPublicKey: base64.StdEncoding.EncodeToString(pub),
		ReportData:     crypto.BindingDigest(pub),
		RawQuote:       base64.StdEncoding.EncodeToString([]byte("quote")),
		IssuedAt:       time.Now().UTC(),
	}
}

func TestVerifyAccepts(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)

	result := v.Verify(stmt, models.AgentTypeFinance)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
	assert.Equal(t, stmt.BoundPublicKey, base64.StdEncoding.EncodeToString(result.PublicKey))
}

func TestVerifyBindingMismatch(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)

	// Flip one nibble of the report data: the quote no longer binds the key.
	b := []byte(stmt.ReportData)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	stmt.ReportData = string(b)

	result := v.Verify(stmt, models.AgentTypeFinance)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonBindingMismatch, result.Reason)
	assert.Nil(t, result.PublicKey)
}

func TestVerifySplicedKey(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)

	// Replace the bound key with an attacker's key, keeping the quote's
	// report data from the victim.
	attackerPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	stmt.BoundPublicKey = base64.StdEncoding.EncodeToString(attackerPub)

	result := v.Verify(stmt, models.AgentTypeFinance)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonBindingMismatch, result.Reason)
}

func TestVerifyUntrustedMeasurement(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, rogueMeasurement)

	result := v.Verify(stmt, models.AgentTypeFinance)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonMeasurementNotTrusted, result.Reason)
}

func TestVerifyMeasurementTrustIsPerAgentType(t *testing.T) {
	// The measurement is trusted for finance, not for marketing.
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)

	result := v.Verify(stmt, models.AgentTypeMarketing)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonMeasurementNotTrusted, result.Reason)
}

func TestVerifyExpiredAttestation(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)
	stmt.IssuedAt = time.Now().Add(-5 * time.Hour)

	result := v.Verify(stmt, models.AgentTypeFinance)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonAttestationExpired, result.Reason)
}

func TestVerifyFutureAttestationBeyondSkew(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))
	stmt := makeStatement(t, trustedMeasurement)
	stmt.IssuedAt = time.Now().Add(10 * time.Minute)

	result := v.Verify(stmt, models.AgentTypeFinance)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonAttestationExpired, result.Reason)
}

func TestVerifyMalformed(t *testing.T) {
	v := NewVerifier(testPolicyStore(t))

	cases := map[string]*models.AttestationStatement{
		"nil statement": nil,
		"missing key": {
			Measurement: trustedMeasurement,
			ReportData:  "aa",
		},
		"garbage key": {
			Measurement:    trustedMeasurement,
			BoundPublicKey: "not-base64!!!",
			ReportData:     "aa",
		},
		"short key": {
			Measurement:    trustedMeasurement,
			BoundPublicKey: base64.StdEncoding.EncodeToString([]byte("short")),
			ReportData:     "aa",
		},
	}

	for name, stmt := range cases {
		t.Run(name, func(t *testing.T) {
			result := v.Verify(stmt, models.AgentTypeFinance)
			assert.False(t, result.Valid)
			assert.Equal(t, ReasonMalformedStatement, result.Reason)
		})
	}
}

func TestPolicyDefaults(t *testing.T) {
	store := writePolicy(t, `
trusted_measurements:
  finance:
    - `+trustedMeasurement+`
`)
	p := store.Current()

	assert.Equal(t, 4*time.Hour, p.MaxAttestationAge)
	assert.Equal(t, 5, p.Router.MaxDepth)
	assert.InDelta(t, 0.4, p.Router.Weights.Capability, 1e-9)
	assert.InDelta(t, 0.4, p.Router.Weights.SuccessRate, 1e-9)
	assert.InDelta(t, 0.2, p.Router.Weights.Load, 1e-9)
}

func TestPolicyRejectsBadMeasurement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trusted_measurements:
  finance:
    - not-hex-at-all
`), 0600))

	_, err := NewPolicyStore(path)
	assert.Error(t, err)
}

func TestPolicyReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trusted_measurements:
  finance:
    - `+trustedMeasurement+`
`), 0600))

	store, err := NewPolicyStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0600))
	assert.Error(t, store.Reload())

	// The original policy is still active.
	assert.True(t, store.Current().Trusted(models.AgentTypeFinance, trustedMeasurement))
}

func TestPolicyMeasurementNormalization(t *testing.T) {
	store := writePolicy(t, `
trusted_measurements:
  finance:
    - `+"AAAA1111BBBB2222CCCC3333DDDD4444AAAA1111BBBB2222CCCC3333DDDD4444"+`
`)

	assert.True(t, store.Current().Trusted(models.AgentTypeFinance, trustedMeasurement))
	assert.True(t, store.Current().Trusted(models.AgentTypeFinance, "AAAA1111BBBB2222CCCC3333DDDD4444AAAA1111BBBB2222CCCC3333DDDD4444"))
}
