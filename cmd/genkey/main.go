package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/MrGarbonzo/boardroom-tee/internal/crypto"
)

type keyFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func main() {
	out := flag.String("out", "", "Write keypair JSON to file instead of stdout")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	privB64 := base64.StdEncoding.EncodeToString(priv)

	if *out != "" {
		data, _ := json.MarshalIndent(keyFile{PublicKey: pubB64, PrivateKey: privB64}, "", "  ")
		if err := os.WriteFile(*out, append(data, '\n'), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write key file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Public key (base64): %s\n", pubB64)
		fmt.Printf("Keypair written to %s\n", *out)
	} else {
		fmt.Printf("Public key (base64):  %s\n", pubB64)
		fmt.Printf("Private key (base64): %s\n", privB64)
	}

	// The digest an attestation quote must carry to bind this key.
	fmt.Printf("Binding digest (hex): %s\n", crypto.BindingDigest(pub))
}
