// Command attest is a development helper. It produces either an
// attestation statement for registration (using the deterministic dev
// quote provider) or signed request headers for calling authenticated
// hub endpoints.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
	"github.com/MrGarbonzo/boardroom-tee/internal/keymgr"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	identity := flag.String("identity", "", "Agent identity")
	measurement := flag.String("measurement", "", "Measurement for the dev attestation statement")
	statement := flag.Bool("statement", false, "Emit an attestation statement instead of request headers")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" || *identity == "" {
		fmt.Fprintln(os.Stderr, "Usage: attest -key <private-key-base64> -identity <agent> [-statement -measurement <hex>] [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified")
		os.Exit(1)
	}

	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil || len(privKeyBytes) != ed25519.PrivateKeySize {
		fmt.Fprintln(os.Stderr, "Invalid private key")
		os.Exit(1)
	}
	privKey := ed25519.PrivateKey(privKeyBytes)

	if *statement {
		emitStatement(privKey, *measurement)
		return
	}

	emitHeaders(privKey, *identity, *bodyFile)
}

// emitStatement prints an attestation statement produced by the dev
// provider, suitable for the /register endpoint when the hub trusts the
// given measurement.
func emitStatement(privKey ed25519.PrivateKey, measurement string) {
	if measurement == "" {
		fmt.Fprintln(os.Stderr, "-measurement is required with -statement")
		os.Exit(1)
	}

	pub := privKey.Public().(ed25519.PublicKey)
	provider := &keymgr.FakeProvider{Measurement: measurement}

	digest := crypto.BindingDigest(pub)
	reportData, _ := hex.DecodeString(digest)
	quote, err := provider.Quote(context.Background(), reportData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Quote failed: %v\n", err)
		os.Exit(1)
	}

	out := map[string]interface{}{
		"measurement":      quote.Measurement,
		"bound_public_key": base64.StdEncoding.EncodeToString(pub),
		"report_data":      digest,
		"raw_quote":        base64.StdEncoding.EncodeToString(quote.RawQuote),
		"issued_at":        time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

// emitHeaders signs a request body and prints the auth headers.
func emitHeaders(privKey ed25519.PrivateKey, identity, bodyFile string) {
	var body []byte
	var err error
	if bodyFile != "" {
		body, err = os.ReadFile(bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonceBytes := make([]byte, 16)
	rand.Read(nonceBytes)
	nonce := hex.EncodeToString(nonceBytes)
	timestamp := time.Now().UnixMilli()

	bodyHashBytes := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(bodyHashBytes[:])

	signedData := crypto.SignaturePayload(bodyHash, nonce, timestamp)
	signature := base64.StdEncoding.EncodeToString(ed25519.Sign(privKey, signedData))

	fmt.Printf("X-Boardroom-Agent: %s\n", identity)
	fmt.Printf("X-Boardroom-Nonce: %s\n", nonce)
	fmt.Printf("X-Boardroom-Timestamp: %d\n", timestamp)
	fmt.Printf("X-Boardroom-Signature: %s\n", signature)
}
