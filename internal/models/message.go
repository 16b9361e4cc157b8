package models

// MessageKind tags a signed envelope so receivers can dispatch without
// inspecting the (possibly encrypted) payload.
type MessageKind string

const (
	KindRegistrationRequest   MessageKind = "registration_request"
	KindCollaborationRequest  MessageKind = "collaboration_request"
	KindCollaborationResponse MessageKind = "collaboration_response"
	KindSignedPayload         MessageKind = "signed_payload"
)

// Valid reports whether the kind is one of the defined envelope kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindRegistrationRequest, KindCollaborationRequest, KindCollaborationResponse, KindSignedPayload:
		return true
	}
	return false
}

// SignedMessage is the point-to-point envelope exchanged between agents
// and the hub. The signature covers sender, recipient, kind, a SHA-256 of
// the payload, the nonce and the timestamp, so relays can authenticate an
// envelope without being able to decrypt it.
type SignedMessage struct {
	ID        string      `json:"id"`      // ULID
	Kind      MessageKind `json:"kind"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Payload   string      `json:"payload"` // base64; ECIES wire format when Encrypted
	Encrypted bool        `json:"encrypted"`
	Nonce     string      `json:"nonce"`   // hex, 16 random bytes
	Timestamp int64       `json:"ts"`      // Unix ms
	Signature string      `json:"sig"`     // base64 Ed25519
}

// CollaborationRequest is the typed payload of a collaboration_request
// envelope. Chain carries the identities already involved in satisfying
// the originating request and bounds routing loops.
type CollaborationRequest struct {
	RoutingID      string   `json:"routing_id"`
	Capability     string   `json:"capability"`
	Task           string   `json:"task"`
	Chain          []string `json:"chain,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// CollaborationResponse is the typed payload of a collaboration_response
// envelope.
type CollaborationResponse struct {
	RoutingID        string  `json:"routing_id"`
	Status           string  `json:"status"` // "completed" or "failed"
	Result           string  `json:"result,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}
