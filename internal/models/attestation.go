package models

import "time"

// AttestationStatement is the evidence an agent presents at registration:
// a quote produced inside the TEE with a digest of the agent's public key
// embedded as report data, plus the measurement the quote attests to.
//
// The binding invariant is that ReportData equals the SHA-256 of the
// decoded BoundPublicKey; the verifier recomputes and compares it, which
// is what prevents an attacker from splicing their own key onto someone
// else's quote.
type AttestationStatement struct {
	Measurement    string    `json:"measurement"`      // hex digest of the attested software/hardware state
	BoundPublicKey string    `json:"bound_public_key"` // base64 Ed25519 public key
	ReportData     string    `json:"report_data"`      // hex SHA-256 of the public key, as embedded in the quote
	RawQuote       string    `json:"raw_quote"`        // base64 opaque quote bytes from the TEE
	IssuedAt       time.Time `json:"issued_at"`
}

// RegistrationRequest is what an agent submits to the hub to join the
// registry. Registration is all-or-nothing: a request that fails
// attestation verification leaves no trace in the registry.
type RegistrationRequest struct {
	Identity     string                `json:"identity"`
	AgentType    AgentType             `json:"agent_type"`
	Capabilities []string              `json:"capabilities"`
	Endpoint     string                `json:"endpoint"`
	Attestation  *AttestationStatement `json:"attestation"`
}
