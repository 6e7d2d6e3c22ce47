// Package config provides declarative configuration persistence for the
// engine: which ingesters exist, which users are provisioned, and the
// WebSocket fan-out's topic allow-list. This is control-plane state, not
// data-plane state — it is loaded once at startup (spec.md §1 treats
// on-disk config loading as an external collaborator; this package is the
// reference implementation of that interface, not the hot path).
//
// Store does not:
//   - Inspect ingested rows
//   - Perform routing
//   - Watch for live changes (v1 is load-on-start only, matching the
//     teacher's own config package)
package config

import "context"

// Store persists and loads the desired system configuration.
type Store interface {
	// Load reads the configuration. Returns a nil Config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes the desired system shape: it is declarative, defining
// what should exist rather than how to create it.
type Config struct {
	// Namespace prefixes every registry key and pub/sub channel this
	// instance uses, per spec.md §6's "{ns}:{resource.name}" convention.
	Namespace string

	// Ingesters are the configured data sources, parsed into typed
	// descriptors at load time (C1).
	Ingesters []IngesterConfig

	// Users are the provisioned principals. Anonymous/IP-derived users are
	// never persisted here; only wallet-identified and admin accounts are.
	Users []UserConfig

	// Allowlist restricts which topic glob patterns the WebSocket fan-out
	// will accept subscriptions for. Empty means no restriction beyond the
	// per-topic authorization rules in internal/wsfanout.
	Allowlist []string
}

// IngesterConfig is the on-disk shape of one model.Ingester. It is kept
// distinct from model.Ingester itself so the wire/file format doesn't
// couple to the runtime type's unexported mutex and Value field.
type IngesterConfig struct {
	Name                string
	ResourceType        string
	IngesterType        string
	Interval            string
	Protected           bool
	Tags                []string
	DefaultTarget       string
	DefaultSelector     string
	DefaultParams       map[string]string
	DefaultTransformers []string
	Fields              []FieldConfig
}

// FieldConfig is the on-disk shape of one model.Field.
type FieldConfig struct {
	Name         string
	Type         string
	Target       string
	Selector     string
	Params       map[string]string
	Transformers []string
	Tags         []string
	Transient    bool
}

// UserConfig is the on-disk shape of one model.User's static attributes.
// Counters and SessionToken/Expiry are runtime state, not configuration,
// and are never round-tripped through Store.
type UserConfig struct {
	UID    string
	Status string
	Limits RateLimitConfig
}

// RateLimitConfig is the on-disk shape of model.RateLimitCaps.
type RateLimitConfig struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	RequestsPerDay    int64
	BytesPerMinute    int64
	BytesPerHour      int64
	BytesPerDay       int64
	PointsPerMinute   int64
	PointsPerHour     int64
	PointsPerDay      int64
}
