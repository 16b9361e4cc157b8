package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/attest"
	"github.com/MrGarbonzo/boardroom-tee/internal/keymgr"
	"github.com/MrGarbonzo/boardroom-tee/internal/models"
	"github.com/MrGarbonzo/boardroom-tee/internal/registry"
)

const hubTestMeasurement = "11aa22bb33cc44dd11aa22bb33cc44dd11aa22bb33cc44dd11aa22bb33cc44dd"

func newHubEnv(t *testing.T, validity time.Duration, measurement string) (*registry.Registry, *keymgr.KeyManager) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(`
trusted_measurements:
  hub:
    - `+hubTestMeasurement+`
`), 0600); err != nil {
		t.Fatal(err)
	}
	policies, err := attest.NewPolicyStore(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(attest.NewVerifier(policies), validity, nil, zerolog.Nop())

	keys := keymgr.New(&keymgr.FakeProvider{Measurement: measurement}, time.Minute)
	if err := keys.GenerateKeys(); err != nil {
		t.Fatal(err)
	}
	return reg, keys
}

func TestRegisterHub(t *testing.T) {
	reg, keys := newHubEnv(t, time.Hour, hubTestMeasurement)

	stmt, err := registerHub(context.Background(), reg, keys, "hub", "http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}
	if stmt.Measurement != hubTestMeasurement {
		t.Fatalf("unexpected measurement %q", stmt.Measurement)
	}

	entry, ok := reg.Lookup("hub")
	if !ok {
		t.Fatal("hub not visible after registration")
	}
	if entry.AgentType != models.AgentTypeHub {
		t.Fatalf("expected hub agent type, got %q", entry.AgentType)
	}
}

func TestRegisterHubUntrustedMeasurement(t *testing.T) {
	rogue := "99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff99ff"
	reg, keys := newHubEnv(t, time.Hour, rogue)

	_, err := registerHub(context.Background(), reg, keys, "hub", "http://localhost:8080")
	if err == nil {
		t.Fatal("expected rejection for untrusted measurement")
	}
	if !strings.Contains(err.Error(), "measurement not trusted") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Lookup("hub"); ok {
		t.Fatal("rejected hub must not be registered")
	}
}

func TestHubRegistrationRenewal(t *testing.T) {
	const validity = 500 * time.Millisecond
	reg, keys := newHubEnv(t, validity, hubTestMeasurement)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := registerHub(ctx, reg, keys, "hub", "http://localhost:8080"); err != nil {
		t.Fatal(err)
	}
	go renewHubRegistration(ctx, zerolog.Nop(), reg, keys, "hub", "http://localhost:8080", validity)

	// Several validity windows later the hub must still be resolvable.
	time.Sleep(3 * validity)
	if _, ok := reg.Lookup("hub"); !ok {
		t.Fatal("hub entry lapsed despite the renewal loop")
	}
}
