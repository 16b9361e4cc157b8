package crypto

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
	priv, pub := generateTestKeypair(t)

	ct, err := Encrypt([]byte("roi=147%"), pub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Decrypt(ct, priv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, []byte("roi=147%")) {
		t.Fatalf("expected 'roi=147%%', got %q", pt)
	}
}

func TestWireFormatStructure(t *testing.T) {
	priv, pub := generateTestKeypair(t)
	_ = priv

	ct, err := Encrypt([]byte("test"), pub)
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

	ct1, _ := Encrypt([]byte("same"), pub)
	ct2, _ := Encrypt([]byte("same"), pub)
	if ct1 == ct2 {
		t.Fatal("ciphertexts should differ for same plaintext")
	}

	pt1, _ := Decrypt(ct1, priv)
	pt2, _ := Decrypt(ct2, priv)
	if string(pt1) != "same" || string(pt2) != "same" {
		t.Fatal("both should decrypt to 'same'")
	}
}

func TestWrongKeyFails(t *testing.T) {
	_, pub := generateTestKeypair(t)

	ct, _ := Encrypt([]byte("secret"), pub)

	wrongPriv, _ := generateTestKeypair(t)
	_, err := Decrypt(ct, wrongPriv)
	if err == nil {
		t.Fatal("expected error with wrong key")
	}
	if !ErrCrypto(err) {
		t.Fatalf("expected CryptoError, got %T", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	ct, _ := Encrypt([]byte("secret"), pub)
	wire, _ := base64.StdEncoding.DecodeString(ct)
	wire[len(wire)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(wire)

	_, err := Decrypt(tampered, priv)
	if err == nil {
		t.Fatal("expected error with tampered ciphertext")
	}
}

func TestTruncatedCiphertext(t *testing.T) {
	priv, _ := generateTestKeypair(t)
	short := base64.StdEncoding.EncodeToString(make([]byte, 30))

	_, err := Decrypt(short, priv)
	if err == nil {
		t.Fatal("expected error with truncated ciphertext")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	ct, err := Encrypt(nil, pub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Decrypt(ct, priv)
	if err != nil {
		t.Fatal(err)
	}
	if len(pt) != 0 {
		t.Fatalf("expected empty payload, got %q", pt)
	}
}

func TestLargePayload(t *testing.T) {
	priv, pub := generateTestKeypair(t)

	msg := make([]byte, 8000)
	for i := range msg {
		msg[i] = byte(i % 251)
	}
	ct, err := Encrypt(msg, pub)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Decrypt(ct, priv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatal("large payload round-trip failed")
	}
}

func TestInvalidPublicKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("test"), base64.StdEncoding.EncodeToString(make([]byte, 16)))
	if err == nil {
		t.Fatal("expected error with wrong-length key")
	}
	if !ErrCrypto(err) {
		t.Fatalf("expected CryptoError, got %T", err)
	}
}

func TestBindingDigestMatchesKey(t *testing.T) {
	_, pubB64 := generateTestKeypair(t)
	pub, err := ValidatePublicKey(pubB64)
	if err != nil {
		t.Fatal(err)
	}

	d1 := BindingDigest(pub)
	d2 := BindingDigest(pub)
	if d1 != d2 {
		t.Fatal("binding digest should be deterministic")
	}
	if len(d1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(d1))
	}
}
