package boardroom

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func generateTestKeypair(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, base64.StdEncoding.EncodeToString(pub)
}

func TestRoundTrip(t *testing.T) {
	recipientPriv, recipientPub := generateTestKeypair(t)

	ct, err := EncryptPayload([]byte("roi=147%"), recipientPub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := DecryptPayload(ct, recipientPriv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, []byte("roi=147%")) {
		t.Fatalf("expected 'roi=147%%', got %q", pt)
	}
}

func TestWireFormatStructure(t *testing.T) {
	_, pub := generateTestKeypair(t)

	ct, err := EncryptPayload([]byte("test"), pub)
	if err != nil {
		t.Fatal(err)
	}
	wire, _ := base64.StdEncoding.DecodeString(ct)
	// 32 (eph pk) + 12 (nonce) + 4 (plaintext) + 16 (tag) = 64
	if len(wire) != 64 {
		t.Fatalf("expected wire length 64, got %d", len(wire))
	}
}

func TestDifferentCiphertexts(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	ct1, _ := EncryptPayload([]byte("same"), pub)
	ct2, _ := EncryptPayload([]byte("same"), pub)
	if ct1 == ct2 {
		t.Fatal("ciphertexts should differ for same plaintext")
	}

	pt1, _ := DecryptPayload(ct1, priv)
	pt2, _ := DecryptPayload(ct2, priv)
	if string(pt1) != "same" || string(pt2) != "same" {
		t.Fatal("both should decrypt to 'same'")
	}
}

func TestWrongKeyFails(t *testing.T) {
	_, pub := generateTestKeypair(t)

	ct, _ := EncryptPayload([]byte("secret"), pub)

	wrongPriv, _ := generateTestKeypair(t)
	_, err := DecryptPayload(ct, wrongPriv)
	if err == nil {
		t.Fatal("expected error with wrong key")
	}
	if !ErrCrypto(err) {
		t.Fatalf("expected CryptoError, got %T", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	ct, _ := EncryptPayload([]byte("secret"), pub)
	wire, _ := base64.StdEncoding.DecodeString(ct)
	wire[len(wire)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(wire)

	_, err := DecryptPayload(tampered, priv)
	if err == nil {
		t.Fatal("expected error with tampered ciphertext")
	}
}

func TestTruncatedCiphertext(t *testing.T) {
	priv, _ := generateTestKeypair(t)
	short := base64.StdEncoding.EncodeToString(make([]byte, 30))

	_, err := DecryptPayload(short, priv)
	if err == nil {
		t.Fatal("expected error with truncated ciphertext")
	}
}

func TestInvalidPublicKeyLength(t *testing.T) {
	_, err := EncryptPayload([]byte("test"), base64.StdEncoding.EncodeToString(make([]byte, 16)))
	if err == nil {
		t.Fatal("expected error with wrong-length key")
	}
	if !ErrCrypto(err) {
		t.Fatalf("expected CryptoError, got %T", err)
	}
}

func TestLargePayload(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	payload := bytes.Repeat([]byte{'A'}, 8000)
	ct, err := EncryptPayload(payload, pub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := DecryptPayload(ct, priv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, payload) {
		t.Fatal("large payload round-trip failed")
	}
}

func TestBidirectional(t *testing.T) {
	alicePriv, alicePub := generateTestKeypair(t)
	bobPriv, bobPub := generateTestKeypair(t)

	ct1, _ := EncryptPayload([]byte("hi bob"), bobPub)
	pt1, err := DecryptPayload(ct1, bobPriv)
	if err != nil || string(pt1) != "hi bob" {
		t.Fatal("alice->bob failed")
	}

	ct2, _ := EncryptPayload([]byte("hi alice"), alicePub)
	pt2, err := DecryptPayload(ct2, alicePriv)
	if err != nil || string(pt2) != "hi alice" {
		t.Fatal("bob->alice failed")
	}
}
