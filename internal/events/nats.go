// Package events publishes registry lifecycle events so other hub
// services (dashboards, alerting) can react without polling the registry.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/models"
)

// Subjects for registry lifecycle events.
const (
	SubjectRegistered   = "boardroom.agents.registered"
	SubjectRejected     = "boardroom.agents.rejected"
	SubjectExpired      = "boardroom.agents.expired"
	SubjectDeregistered = "boardroom.agents.deregistered"
)

// AgentEvent is the wire form of a registry lifecycle event.
type AgentEvent struct {
	Identity  string    `json:"identity"`
	AgentType string    `json:"agent_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher publishes agent events to NATS. A nil Publisher is valid and
// drops everything, so callers never need to branch on configuration.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher connects to NATS at url.
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("boardroom-hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}

// Registered publishes an agent.registered event.
func (p *Publisher) Registered(entry models.RegistryEntry) {
	p.publish(SubjectRegistered, AgentEvent{
		Identity:  entry.Identity,
		AgentType: string(entry.AgentType),
		Endpoint:  entry.Endpoint,
		At:        time.Now().UTC(),
	})
}

// Rejected publishes an agent.rejected event with the rejection reason.
func (p *Publisher) Rejected(identity string, agentType models.AgentType, reason string) {
	p.publish(SubjectRejected, AgentEvent{
		Identity:  identity,
		AgentType: string(agentType),
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

// Expired publishes an agent.expired event.
func (p *Publisher) Expired(identity string) {
	p.publish(SubjectExpired, AgentEvent{Identity: identity, At: time.Now().UTC()})
}

// Deregistered publishes an agent.deregistered event.
func (p *Publisher) Deregistered(identity string) {
	p.publish(SubjectDeregistered, AgentEvent{Identity: identity, At: time.Now().UTC()})
}

func (p *Publisher) publish(subject string, event AgentEvent) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}
