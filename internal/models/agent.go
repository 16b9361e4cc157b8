package models

import "time"

// AgentType classifies a spoke agent by its domain specialization.
type AgentType string

const (
	AgentTypeFinance   AgentType = "finance"
	AgentTypeMarketing AgentType = "marketing"
	AgentTypeSales     AgentType = "sales"
	AgentTypeHub       AgentType = "hub"
)

// RegistryEntry is a verified agent as stored by the registry.
// Entries are owned and mutated exclusively by the registry; everything
// handed out is a copy.
type RegistryEntry struct {
	Identity     string    `json:"identity"`
	AgentType    AgentType `json:"agent_type"`
	PublicKey    string    `json:"public_key"`  // base64 Ed25519
	Capabilities []string  `json:"capabilities"`
	Endpoint     string    `json:"endpoint"`
	Measurement  string    `json:"measurement"` // hex digest from the verified attestation
	VerifiedAt   time.Time `json:"verified_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// HasCapability reports whether the entry advertises the given capability.
func (e *RegistryEntry) HasCapability(capability string) bool {
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Online reports whether the agent has been seen within the liveness window.
func (e *RegistryEntry) Online(now time.Time, window time.Duration) bool {
	return now.Sub(e.LastSeen) < window
}
