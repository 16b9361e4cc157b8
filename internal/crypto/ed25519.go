package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// VerifySignature verifies a signed message.
func VerifySignature(pubkey ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, signedData, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// SignaturePayload creates the canonical data signed on authenticated
// HTTP requests. Format: bodyHash|nonce|timestamp
func SignaturePayload(bodyHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", bodyHash, nonce, timestamp))
}

// EnvelopePayload creates the canonical data signed on a message envelope.
// The payload hash stands in for the payload itself so relays can verify
// envelopes they cannot decrypt.
// Format: sender|recipient|kind|payloadHash|nonce|timestamp
func EnvelopePayload(sender, recipient, kind, payloadHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d", sender, recipient, kind, payloadHash, nonce, timestamp))
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BindingDigest returns the hex SHA-256 of an Ed25519 public key, the
// value embedded as report data when a key is bound to an attestation quote.
func BindingDigest(pubkey ed25519.PublicKey) string {
	return SHA256Hex(pubkey)
}
