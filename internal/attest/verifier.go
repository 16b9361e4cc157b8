package attest

import (
	"crypto/ed25519"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// Rejection reasons returned to registering agents. Operators rely on
// these being distinct, so they are fixed strings rather than free text.
const (
	ReasonBindingMismatch       = "public key binding mismatch"
	ReasonMeasurementNotTrusted = "measurement not trusted"
	ReasonAttestationExpired    = "attestation expired"
	ReasonMalformedStatement    = "malformed statement"
)

// allowedClockSkew tolerates attestations stamped slightly ahead of the
// hub's clock.
const allowedClockSkew = time.Minute

// VerificationResult is the outcome of verifying one attestation statement.
type VerificationResult struct {
	Valid     bool
	Reason    string
	PublicKey ed25519.PublicKey // set only when Valid
}

// Verifier decides whether an attestation statement is acceptable for a
// claimed agent type. It is a pure function of the statement plus the
// current policy; all state lives in the PolicyStore.
type Verifier struct {
	policies *PolicyStore
	now      func() time.Time
}

// NewVerifier creates a verifier reading trust policy from the store.
func NewVerifier(policies *PolicyStore) *Verifier {
	return &Verifier{policies: policies, now: time.Now}
}

// Verify checks binding, measurement trust and attestation age, in that
// order, returning the first failure. On success the bound public key is
// returned for the registry to store.
func (v *Verifier) Verify(stmt *models.AttestationStatement, claimedType models.AgentType) VerificationResult {
	if stmt == nil || stmt.BoundPublicKey == "" || stmt.Measurement == "" || stmt.ReportData == "" {
		return VerificationResult{Reason: ReasonMalformedStatement}
	}

	pub, err := crypto.ValidatePublicKey(stmt.BoundPublicKey)
	if err != nil {
		return VerificationResult{Reason: ReasonMalformedStatement}
	}

	// Recompute the binding digest and compare against the report data
	// embedded in the quote. Constant-time, although the digest is public.
	expected := crypto.BindingDigest(pub)
	got := strings.ToLower(stmt.ReportData)
	if len(expected) != len(got) || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return VerificationResult{Reason: ReasonBindingMismatch}
	}

	policy := v.policies.Current()
	if !policy.Trusted(claimedType, stmt.Measurement) {
		return VerificationResult{Reason: ReasonMeasurementNotTrusted}
	}

	now := v.now()
	if stmt.IssuedAt.After(now.Add(allowedClockSkew)) || now.Sub(stmt.IssuedAt) > policy.MaxAttestationAge {
		return VerificationResult{Reason: ReasonAttestationExpired}
	}

	return VerificationResult{Valid: true, PublicKey: pub}
}
