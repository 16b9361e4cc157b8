// Package messenger produces and consumes authenticated, confidential
// messages between the hub and registered agents.
package messenger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/keymgr"
	"github.com/MrGarbonzo/boardroom-tee/internal/metrics"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
)

var (
	// ErrRecipientUnknown means the recipient is not in the registry or
	// its entry has expired.
	ErrRecipientUnknown = errors.New("recipient unknown or expired")
	// ErrSenderUnverified means the claimed sender is not in the registry
	// or its entry has expired. Old signatures from revoked agents fail
	// here: trust is re-validated on every receive.
	ErrSenderUnverified = errors.New("sender unverified or expired")
	// ErrReplayDetected means the (sender, nonce) pair was already seen
	// within the replay window.
	ErrReplayDetected = errors.New("replay detected")
	// ErrStaleMessage means the timestamp falls outside the freshness window.
	ErrStaleMessage = errors.New("message timestamp outside freshness window")
	// ErrBadSignature means the envelope signature does not verify against
	// the sender's registered public key.
	ErrBadSignature = errors.New("envelope signature invalid")
	// ErrMalformedMessage means required envelope fields are missing.
	ErrMalformedMessage = errors.New("malformed message envelope")
	// ErrNotRecipient means the envelope is addressed to another identity.
	ErrNotRecipient = errors.New("envelope not addressed to this identity")
)

// Messenger signs outgoing envelopes with the local key and verifies
// incoming ones against the registry's stored keys.
type Messenger struct {
	identity  string
	keys      *keymgr.KeyManager
	registry  *registry.Registry
	replay    ReplayCache
	window    time.Duration // timestamp freshness window
	replayTTL time.Duration
	now       func() time.Time
}

// New creates a messenger for the given local identity. window bounds how
// old (or future-dated) an accepted message may be; replayTTL is how long
// nonces are remembered and must be at least the window.
func New(identity string, keys *keymgr.KeyManager, reg *registry.Registry, replay ReplayCache, window, replayTTL time.Duration) *Messenger {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if replayTTL < window {
		replayTTL = 2 * window
	}
	return &Messenger{
		identity:  identity,
		keys:      keys,
		registry:  reg,
		replay:    replay,
		window:    window,
		replayTTL: replayTTL,
		now:       time.Now,
	}
}

// SendTo encrypts the payload for the recipient's verified public key and
// signs the envelope with the local private key.
func (m *Messenger) SendTo(recipient string, kind models.MessageKind, payload []byte) (*models.SignedMessage, error) {
	entry, ok := m.registry.Lookup(recipient)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecipientUnknown, recipient)
	}

	ciphertext, err := crypto.Encrypt(payload, entry.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, err
	}
	nonce := hex.EncodeToString(nonceBytes)
	ts := m.now().UnixMilli()

	payloadHash := crypto.SHA256Hex([]byte(ciphertext))
	signed := crypto.EnvelopePayload(m.identity, recipient, string(kind), payloadHash, nonce, ts)
	sig, err := m.keys.SignB64(signed)
	if err != nil {
		return nil, err
	}

	return &models.SignedMessage{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Sender:    m.identity,
		Recipient: recipient,
		Payload:   ciphertext,
		Encrypted: true,
		Nonce:     nonce,
		Timestamp: ts,
		Signature: sig,
	}, nil
}

// VerifyEnvelope runs every check except decryption: sender present and
// unexpired in the registry, timestamp fresh, nonce unseen, signature
// valid. The hub relay uses this to authenticate envelopes it cannot read.
//
// The replay check runs before the signature check so a duplicate is
// rejected regardless of signature validity.
func (m *Messenger) VerifyEnvelope(ctx context.Context, msg *models.SignedMessage) error {
	if msg == nil || msg.Sender == "" || msg.Recipient == "" || msg.Nonce == "" || msg.Signature == "" || !msg.Kind.Valid() {
		metrics.MessageRejectionsTotal.WithLabelValues("malformed").Inc()
		return ErrMalformedMessage
	}

	entry, ok := m.registry.Lookup(msg.Sender)
	if !ok {
		metrics.MessageRejectionsTotal.WithLabelValues("sender_unverified").Inc()
		return fmt.Errorf("%w: %s", ErrSenderUnverified, msg.Sender)
	}

	age := m.now().Sub(time.UnixMilli(msg.Timestamp))
	if age > m.window || age < -m.window {
		metrics.MessageRejectionsTotal.WithLabelValues("stale").Inc()
		return ErrStaleMessage
	}

	seen, err := m.replay.CheckAndMark(ctx, msg.Sender, msg.Nonce, m.replayTTL)
	if err != nil {
		return fmt.Errorf("replay cache: %w", err)
	}
	if seen {
		metrics.ReplaysDetectedTotal.Inc()
		return ErrReplayDetected
	}

	pubkey, err := crypto.ValidatePublicKey(entry.PublicKey)
	if err != nil {
		metrics.MessageRejectionsTotal.WithLabelValues("bad_registry_key").Inc()
		return fmt.Errorf("%w: stored key invalid", ErrSenderUnverified)
	}

	payloadHash := crypto.SHA256Hex([]byte(msg.Payload))
	signed := crypto.EnvelopePayload(msg.Sender, msg.Recipient, string(msg.Kind), payloadHash, msg.Nonce, msg.Timestamp)
	if err := crypto.VerifySignature(pubkey, signed, msg.Signature); err != nil {
		metrics.MessageRejectionsTotal.WithLabelValues("bad_signature").Inc()
		return ErrBadSignature
	}

	return nil
}

// Receive verifies the envelope and decrypts the payload with the local
// private key. Envelopes addressed to another identity are refused even
// when unencrypted, and before the replay mark so the real recipient can
// still consume them.
func (m *Messenger) Receive(ctx context.Context, msg *models.SignedMessage) ([]byte, error) {
	if msg == nil {
		metrics.MessageRejectionsTotal.WithLabelValues("malformed").Inc()
		return nil, ErrMalformedMessage
	}
	if msg.Recipient != m.identity {
		metrics.MessageRejectionsTotal.WithLabelValues("wrong_recipient").Inc()
		return nil, fmt.Errorf("%w: addressed to %s", ErrNotRecipient, msg.Recipient)
	}
	if err := m.VerifyEnvelope(ctx, msg); err != nil {
		return nil, err
	}

	if !msg.Encrypted {
		return []byte(msg.Payload), nil
	}
	plaintext, err := m.keys.Decrypt(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}
