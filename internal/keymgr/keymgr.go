// Package keymgr owns the agent's signing keypair. The private key never
// leaves this package: signing and payload decryption happen here, and no
// exported API returns or serializes it.
package keymgr

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/metrics"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

var (
	// ErrKeyGeneration means the secure random source failed.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrAttestationUnavailable means the TEE quote service could not be
	// reached. The caller decides retry policy; this package never retries.
	ErrAttestationUnavailable = errors.New("attestation unavailable")
	// ErrNoKey means an operation needed a keypair before GenerateKeys ran.
	ErrNoKey = errors.New("no signing key available")
)

// retiredKey is a rotated-out keypair kept for a grace window so in-flight
// messages signed or encrypted under it still verify and decrypt. It is
// never used for new signing.
type retiredKey struct {
	priv  ed25519.PrivateKey
	until time.Time
}

// KeyManager generates and holds one live Ed25519 keypair per process.
type KeyManager struct {
	mu       sync.RWMutex
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	retired  []retiredKey
	provider QuoteProvider
	grace    time.Duration
	now      func() time.Time
}

// New creates a KeyManager backed by the given quote provider. The grace
// window controls how long a rotated-out key remains valid for
// verification and decryption.
func New(provider QuoteProvider, grace time.Duration) *KeyManager {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &KeyManager{
		provider: provider,
		grace:    grace,
		now:      time.Now,
	}
}

// GenerateKeys creates a fresh keypair. Calling it again rotates: the
// previous key moves to the retired set for the grace window.
func (m *KeyManager) GenerateKeys() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.priv != nil {
		m.retired = append(m.retired, retiredKey{priv: m.priv, until: m.now().Add(m.grace)})
	}
	m.priv = priv
	m.pub = pub
	m.pruneRetiredLocked()
	return nil
}

// Rotate is an explicit alias for key rotation.
func (m *KeyManager) Rotate() error {
	m.mu.RLock()
	hasKey := m.priv != nil
	m.mu.RUnlock()
	if !hasKey {
		return ErrNoKey
	}
	return m.GenerateKeys()
}

// PublicKey returns a copy of the current public key.
func (m *KeyManager) PublicKey() (ed25519.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pub == nil {
		return nil, ErrNoKey
	}
	out := make(ed25519.PublicKey, len(m.pub))
	copy(out, m.pub)
	return out, nil
}

// PublicKeyB64 returns the current public key base64-encoded.
func (m *KeyManager) PublicKeyB64() (string, error) {
	pub, err := m.PublicKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// Sign signs a message with the current private key. Rotated-out keys are
// never used for new signatures.
func (m *KeyManager) Sign(message []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priv == nil {
		return nil, ErrNoKey
	}
	return ed25519.Sign(m.priv, message), nil
}

// SignB64 signs a message and returns the signature base64-encoded.
func (m *KeyManager) SignB64(message []byte) (string, error) {
	sig, err := m.Sign(message)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature against the current key or any retired key
// still inside its grace window.
func (m *KeyManager) Verify(message, signature []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pub != nil && ed25519.Verify(m.pub, message, signature) {
		return true
	}
	now := m.now()
	for _, rk := range m.retired {
		if now.Before(rk.until) && ed25519.Verify(rk.priv.Public().(ed25519.PublicKey), message, signature) {
			return true
		}
	}
	return false
}

// Decrypt decrypts an ECIES payload addressed to this agent. Retired keys
// inside the grace window are tried after the current key so in-flight
// messages survive rotation.
func (m *KeyManager) Decrypt(ciphertextB64 string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priv == nil {
		return nil, ErrNoKey
	}

	pt, err := crypto.Decrypt(ciphertextB64, m.priv)
	if err == nil {
		return pt, nil
	}

	now := m.now()
	for _, rk := range m.retired {
		if !now.Before(rk.until) {
			continue
		}
		if pt, rerr := crypto.Decrypt(ciphertextB64, rk.priv); rerr == nil {
			return pt, nil
		}
	}
	return nil, err
}

// ProduceAttestation requests a quote binding the current public key and
// returns the combined statement. A failure to reach the quote service is
// reported as ErrAttestationUnavailable and is not retried here.
func (m *KeyManager) ProduceAttestation(ctx context.Context) (*models.AttestationStatement, error) {
	pub, err := m.PublicKey()
	if err != nil {
		return nil, err
	}

	digest := crypto.BindingDigest(pub)
	reportData, _ := decodeHex(digest)

	start := m.now()
	quote, err := m.provider.Quote(ctx, reportData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationUnavailable, err)
	}
	metrics.AttestationLatency.Observe(time.Since(start).Seconds())

	return &models.AttestationStatement{
		Measurement:    quote.Measurement,
		BoundPublicKey: base64.StdEncoding.EncodeToString(pub),
		ReportData:     digest,
		RawQuote:       base64.StdEncoding.EncodeToString(quote.RawQuote),
		IssuedAt:       m.now().UTC(),
	}, nil
}

func (m *KeyManager) pruneRetiredLocked() {
	now := m.now()
	kept := m.retired[:0]
	for _, rk := range m.retired {
		if now.Before(rk.until) {
			kept = append(kept, rk)
		}
	}
	m.retired = kept
}
