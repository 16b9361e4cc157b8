// Package attest verifies attestation statements against the hub's
// trusted measurement policy.
package attest

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// RouterWeights are the scoring weights the collaboration router applies.
type RouterWeights struct {
	Capability  float64 `yaml:"capability"`
	SuccessRate float64 `yaml:"success_rate"`
	Load        float64 `yaml:"load"`
}

// RouterPolicy configures collaboration routing.
type RouterPolicy struct {
	MaxDepth int           `yaml:"max_depth"`
	Weights  RouterWeights `yaml:"weights"`
}

// Policy is the hub's trust configuration: which measurements are accepted
// per agent type, how old an attestation may be, and routing parameters.
// A Policy is immutable once loaded; updates swap the whole value.
type Policy struct {
	MaxAttestationAge   time.Duration       `yaml:"max_attestation_age"`
	TrustedMeasurements map[string][]string `yaml:"trusted_measurements"`
	Router              RouterPolicy        `yaml:"router"`
}

// Trusted reports whether the measurement is accepted for the agent type.
func (p *Policy) Trusted(agentType models.AgentType, measurement string) bool {
	accepted, ok := p.TrustedMeasurements[string(agentType)]
	if !ok {
		return false
	}
	m := strings.ToLower(measurement)
	for _, a := range accepted {
		if a == m {
			return true
		}
	}
	return false
}

// LoadPolicyFile reads and validates a policy YAML file. Errors here are
// configuration errors: the caller must treat them as fatal at startup.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return parsePolicy(data)
}

func parsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	if len(p.TrustedMeasurements) == 0 {
		return nil, fmt.Errorf("policy has no trusted measurements")
	}
	for agentType, measurements := range p.TrustedMeasurements {
		if len(measurements) == 0 {
			return nil, fmt.Errorf("agent type %q has an empty measurement list", agentType)
		}
		normalized := make([]string, len(measurements))
		for i, m := range measurements {
			m = strings.ToLower(strings.TrimSpace(m))
			if _, err := hex.DecodeString(m); err != nil || m == "" {
				return nil, fmt.Errorf("agent type %q: measurement %q is not a hex digest", agentType, measurements[i])
			}
			normalized[i] = m
		}
		p.TrustedMeasurements[agentType] = normalized
	}

	if p.MaxAttestationAge <= 0 {
		p.MaxAttestationAge = 4 * time.Hour
	}
	if p.Router.MaxDepth <= 0 {
		p.Router.MaxDepth = 5
	}
	w := p.Router.Weights
	if w.Capability < 0 || w.SuccessRate < 0 || w.Load < 0 {
		return nil, fmt.Errorf("router weights must be non-negative")
	}
	if w.Capability+w.SuccessRate+w.Load == 0 {
		p.Router.Weights = RouterWeights{Capability: 0.4, SuccessRate: 0.4, Load: 0.2}
	}

	return &p, nil
}

// PolicyStore hands out the current policy to concurrent readers and swaps
// in replacements atomically, so no verifier ever sees a half-updated set.
type PolicyStore struct {
	current atomic.Pointer[Policy]
	path    string
}

// NewPolicyStore loads the policy at path and returns a store ready for
// concurrent use.
func NewPolicyStore(path string) (*PolicyStore, error) {
	p, err := LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	s := &PolicyStore{path: path}
	s.current.Store(p)
	return s, nil
}

// Current returns the active policy.
func (s *PolicyStore) Current() *Policy {
	return s.current.Load()
}

// Reload re-reads the policy file and swaps it in. On error the previous
// policy stays active.
func (s *PolicyStore) Reload() error {
	p, err := LoadPolicyFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}

// Watch reloads the policy when the file changes on disk. Parse failures
// are logged and the running policy is kept. Blocks until ctx is done.
func (s *PolicyStore) Watch(ctx context.Context, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Error().Err(err).Str("path", s.path).Msg("policy reload failed, keeping previous policy")
				continue
			}
			logger.Info().Str("path", s.path).Msg("measurement policy reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("policy watcher error")
		}
	}
}
