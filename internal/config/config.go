package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the hub.
type Config struct {
	Port string
	Env  string

	// Hub identity in the registry
	HubIdentity string

	// Trust policy
	PolicyPath string

	// Registration validity and maintenance
	ValidityWindow time.Duration
	SweepInterval  time.Duration

	// Messaging
	MessageWindow time.Duration
	ReplayTTL     time.Duration

	// Signed request auth
	AuthWindow   time.Duration
	AuthNonceTTL time.Duration

	// Attestation
	QuoteEndpoint  string // TDX quote service; empty selects the dev provider
	QuoteTimeout   time.Duration
	DevMeasurement string // measurement the dev provider reports

	// Backends (all optional)
	DatabaseURL string // Postgres audit log
	SQLitePath  string // SQLite audit log
	RedisURL    string
	NATSURL     string

	// Operator access
	AdminTokenHash string // bcrypt hash of the admin token
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		HubIdentity:    getEnv("HUB_IDENTITY", "hub"),
		PolicyPath:     getEnv("POLICY_PATH", "policy.yaml"),
		ValidityWindow: getDuration("VALIDITY_WINDOW", time.Hour),
		SweepInterval:  getDuration("SWEEP_INTERVAL", time.Minute),
		MessageWindow:  getDuration("MESSAGE_WINDOW", 5*time.Minute),
		ReplayTTL:      getDuration("REPLAY_TTL", 10*time.Minute),
		AuthWindow:     getDuration("AUTH_WINDOW", 30*time.Second),
		AuthNonceTTL:   getDuration("AUTH_NONCE_TTL", 3*time.Minute),
		QuoteEndpoint:  os.Getenv("QUOTE_ENDPOINT"),
		QuoteTimeout:   getDuration("QUOTE_TIMEOUT", 5*time.Second),
		DevMeasurement: os.Getenv("DEV_MEASUREMENT"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		RedisURL:       os.Getenv("REDIS_URL"),
		NATSURL:        os.Getenv("NATS_URL"),
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
	}

	// In production the hub must attest against real hardware and have a
	// real policy; refuse to start half-configured.
	if cfg.Env == "production" {
		if cfg.QuoteEndpoint == "" {
			panic("QUOTE_ENDPOINT is required in production")
		}
		if os.Getenv("POLICY_PATH") == "" {
			panic("POLICY_PATH is required in production")
		}
		if cfg.AdminTokenHash == "" {
			panic("ADMIN_TOKEN_HASH is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare numbers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
