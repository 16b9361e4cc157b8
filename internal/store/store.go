package store

import (
	"context"
	"time"
)

// Audit event kinds.
const (
	EventRegistered     = "registered"
	EventRejected       = "rejected"
	EventDeregistered   = "deregistered"
	EventExpired        = "expired"
	EventReplayDetected = "replay_detected"
)

// AuditEvent is one security-relevant registry or messaging event.
// The audit log exists so operators can distinguish "wrong measurement"
// from "expired" from "malformed" after the fact.
type AuditEvent struct {
	ID        string    `json:"id"` // ULID
	Kind      string    `json:"kind"`
	Identity  string    `json:"identity"`
	AgentType string    `json:"agent_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditStore persists audit events. SQLiteStore and PostgresStore both
// implement this interface.
type AuditStore interface {
	Close()
	Ping(ctx context.Context) error

	RecordEvent(ctx context.Context, event *AuditEvent) error
	RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error)
	CountByKind(ctx context.Context) (map[string]int64, error)
}
