package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Trust metrics
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardroom_registrations_total",
			Help: "Total registration attempts",
		},
		[]string{"outcome"}, // "registered" or "rejected"
	)

	VerificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardroom_verification_failures_total",
			Help: "Attestation verification failures by reason",
		},
		[]string{"reason"},
	)

	RegisteredAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardroom_registered_agents",
			Help: "Currently registered, unexpired agents",
		},
	)

	SweepEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardroom_sweep_evictions_total",
			Help: "Registry entries removed by the expiry sweeper",
		},
	)

	// Messaging metrics
	MessagesRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardroom_messages_relayed_total",
			Help: "Signed envelopes accepted for relay",
		},
	)

	ReplaysDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardroom_replays_detected_total",
			Help: "Messages rejected by the replay cache",
		},
	)

	MessageRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardroom_message_rejections_total",
			Help: "Messages rejected at verification",
		},
		[]string{"reason"},
	)

	// Routing metrics
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardroom_routes_total",
			Help: "Collaboration routing decisions",
		},
		[]string{"outcome"}, // "routed", "no_candidate", "depth_exceeded"
	)

	// Infrastructure metrics
	AttestationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardroom_attestation_latency_seconds",
			Help:    "TEE quote production latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	AuditStoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardroom_audit_store_latency_seconds",
			Help:    "Audit store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
