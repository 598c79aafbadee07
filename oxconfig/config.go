// Package oxconfig is the typed configuration surface described in
// spec.md §6. Loading and hot-reloading a config file are out of
// Oxcache's core scope (spec.md §1 treats them as an external
// collaborator) — this package only defines the struct tree, its
// defaults, and the invariants the core engine enforces at Init time.
package oxconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// CacheType selects which tiers a service's client uses.
type CacheType string

const (
	CacheTypeL1       CacheType = "l1"
	CacheTypeL2       CacheType = "l2"
	CacheTypeTwoLevel CacheType = "two-level"
)

// L2Mode selects the Redis connection topology.
type L2Mode string

const (
	L2ModeStandalone L2Mode = "standalone"
	L2ModeSentinel   L2Mode = "sentinel"
	L2ModeCluster    L2Mode = "cluster"
)

// Global holds settings shared by every service unless overridden.
type Global struct {
	DefaultTTL    time.Duration `toml:"default_ttl"`
	Serialization string        `toml:"serialization"`
}

// L1 holds the in-process tier's eviction knobs.
type L1 struct {
	MaxCapacity     int           `toml:"max_capacity"`
	TTL             time.Duration `toml:"ttl"`
	TTI             time.Duration `toml:"tti"`
	InitialCapacity int           `toml:"initial_capacity"`
}

// L2 holds the remote tier's connection and timeout knobs.
type L2 struct {
	Mode                L2Mode   `toml:"mode"`
	ConnectionString    string   `toml:"connection_string"`
	Nodes               []string `toml:"nodes"`
	KeyPrefix           string   `toml:"key_prefix"`
	ConnectionTimeoutMs int      `toml:"connection_timeout_ms"`
	CommandTimeoutMs    int      `toml:"command_timeout_ms"`
}

func (c L2) ConnectTimeout() time.Duration { return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond }
func (c L2) CommandTimeout() time.Duration { return time.Duration(c.CommandTimeoutMs) * time.Millisecond }

// TwoLevel holds the orchestration knobs for the Two-Level Client.
type TwoLevel struct {
	WriteThrough           bool   `toml:"write_through"`
	PromoteOnHit           bool   `toml:"promote_on_hit"`
	PromoteMaxBytes        int    `toml:"promote_max_bytes"`
	// EnableBatchWrite and EnableAutoRecovery are *bool, not bool: both
	// default to true, and a plain bool override can never turn a
	// true-defaulted flag back off in mergeTwoLevel's override-wins-if-set
	// merge (an override of false is indistinguishable from "not set").
	// A pointer lets a service's TOML explicitly say enable_batch_write =
	// false and have it stick.
	EnableBatchWrite       *bool  `toml:"enable_batch_write"`
	BatchSize              int    `toml:"batch_size"`
	BatchIntervalMs        int    `toml:"batch_interval_ms"`
	EnableInvalidationSync bool   `toml:"enable_invalidation_sync"`
	EnableAutoRecovery     *bool  `toml:"enable_auto_recovery"`
	FailureThreshold       int    `toml:"failure_threshold"`
	RecoveryThreshold      int    `toml:"recovery_threshold"`
	WalPath                string `toml:"wal_path"`
	EnqueueTimeoutMs       int    `toml:"enqueue_timeout_ms"`
	MaxRetries             int    `toml:"max_retries"`
}

func (c TwoLevel) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMs) * time.Millisecond
}

func (c TwoLevel) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutMs) * time.Millisecond
}

// BatchWriteEnabled reports whether L2 writes pipeline through the
// Batch Writer (true unless enable_batch_write was explicitly set to
// false).
func (c TwoLevel) BatchWriteEnabled() bool {
	return c.EnableBatchWrite == nil || *c.EnableBatchWrite
}

// AutoRecoveryEnabled reports whether the Health Controller may
// auto-transition out of Degraded on its cooldown timer (true unless
// enable_auto_recovery was explicitly set to false).
func (c TwoLevel) AutoRecoveryEnabled() bool {
	return c.EnableAutoRecovery == nil || *c.EnableAutoRecovery
}

// Service is one named cache's full configuration.
type Service struct {
	CacheType CacheType     `toml:"cache_type"`
	TTL       time.Duration `toml:"ttl"`
	L1        L1            `toml:"l1"`
	L2        L2            `toml:"l2"`
	TwoLevel  TwoLevel      `toml:"two_level"`
}

// Config is the full configuration tree: global defaults plus a set of
// named services.
type Config struct {
	Global   Global             `toml:"global"`
	Services map[string]Service `toml:"services"`
}

// Default returns the configuration defaults listed in spec.md §6.
func Default() Config {
	return Config{
		Global: Global{
			DefaultTTL:    3600 * time.Second,
			Serialization: "json",
		},
		Services: map[string]Service{},
	}
}

// DefaultService returns the per-service defaults layered under Default().
func DefaultService() Service {
	return Service{
		CacheType: CacheTypeTwoLevel,
		L1: L1{
			MaxCapacity:     10000,
			InitialCapacity: 256,
		},
		L2: L2{
			Mode:                L2ModeStandalone,
			ConnectionTimeoutMs: 1000,
			CommandTimeoutMs:    500,
		},
		TwoLevel: TwoLevel{
			WriteThrough:           true,
			PromoteOnHit:           true,
			PromoteMaxBytes:        1 << 20,
			EnableBatchWrite:       boolPtr(true),
			BatchSize:              100,
			BatchIntervalMs:        50,
			EnableInvalidationSync: true,
			EnableAutoRecovery:     boolPtr(true),
			FailureThreshold:       3,
			RecoveryThreshold:      3,
			EnqueueTimeoutMs:       250,
			MaxRetries:             3,
		},
	}
}

// Load parses a TOML file into a Config. This is the single static
// decode spec.md's External Interfaces section implies every config
// consumer needs; it does not watch the file or apply partial updates
// (hot-reload is out of scope — see the package doc).
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("oxconfig: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate enforces the cross-field invariant spec.md §6 names:
// l1.ttl <= services.*.ttl whenever both are set.
func (c Config) Validate() error {
	for name, svc := range c.Services {
		if svc.L1.TTL > 0 && svc.TTL > 0 && svc.L1.TTL > svc.TTL {
			return fmt.Errorf("oxconfig: service %q: l1.ttl (%s) must be <= service ttl (%s)", name, svc.L1.TTL, svc.TTL)
		}
	}
	return nil
}

// Resolve merges a named service's configuration over DefaultService(),
// falling back to Global.DefaultTTL when the service sets no TTL of its
// own. The Open Question in spec.md §9 about the
// l1.ttl/service.ttl interaction when only service.ttl is set is
// resolved here: an unset l1.ttl inherits the service TTL outright, so
// L1 never silently outlives what the caller asked L2 to keep.
func (c Config) Resolve(name string) (Service, error) {
	svc, ok := c.Services[name]
	if !ok {
		return Service{}, fmt.Errorf("oxconfig: unknown service %q", name)
	}

	merged := DefaultService()
	if svc.CacheType != "" {
		merged.CacheType = svc.CacheType
	}
	merged.TTL = svc.TTL
	if merged.TTL <= 0 {
		merged.TTL = c.Global.DefaultTTL
	}

	merged.L1 = mergeL1(merged.L1, svc.L1)
	if merged.L1.TTL <= 0 {
		merged.L1.TTL = merged.TTL
	}

	merged.L2 = mergeL2(merged.L2, svc.L2)
	merged.TwoLevel = mergeTwoLevel(merged.TwoLevel, svc.TwoLevel)

	return merged, nil
}

func mergeL1(base, override L1) L1 {
	if override.MaxCapacity > 0 {
		base.MaxCapacity = override.MaxCapacity
	}
	if override.TTL > 0 {
		base.TTL = override.TTL
	}
	if override.TTI > 0 {
		base.TTI = override.TTI
	}
	if override.InitialCapacity > 0 {
		base.InitialCapacity = override.InitialCapacity
	}
	return base
}

func mergeL2(base, override L2) L2 {
	if override.Mode != "" {
		base.Mode = override.Mode
	}
	if override.ConnectionString != "" {
		base.ConnectionString = override.ConnectionString
	}
	if len(override.Nodes) > 0 {
		base.Nodes = override.Nodes
	}
	if override.KeyPrefix != "" {
		base.KeyPrefix = override.KeyPrefix
	}
	if override.ConnectionTimeoutMs > 0 {
		base.ConnectionTimeoutMs = override.ConnectionTimeoutMs
	}
	if override.CommandTimeoutMs > 0 {
		base.CommandTimeoutMs = override.CommandTimeoutMs
	}
	return base
}

func boolPtr(b bool) *bool { return &b }

func mergeTwoLevel(base, override TwoLevel) TwoLevel {
	merged := base
	merged.WriteThrough = override.WriteThrough || base.WriteThrough
	merged.PromoteOnHit = override.PromoteOnHit || base.PromoteOnHit
	if override.PromoteMaxBytes > 0 {
		merged.PromoteMaxBytes = override.PromoteMaxBytes
	}
	if override.EnableBatchWrite != nil {
		merged.EnableBatchWrite = override.EnableBatchWrite
	}
	if override.BatchSize > 0 {
		merged.BatchSize = override.BatchSize
	}
	if override.BatchIntervalMs > 0 {
		merged.BatchIntervalMs = override.BatchIntervalMs
	}
	merged.EnableInvalidationSync = override.EnableInvalidationSync || base.EnableInvalidationSync
	if override.EnableAutoRecovery != nil {
		merged.EnableAutoRecovery = override.EnableAutoRecovery
	}
	if override.FailureThreshold > 0 {
		merged.FailureThreshold = override.FailureThreshold
	}
	if override.RecoveryThreshold > 0 {
		merged.RecoveryThreshold = override.RecoveryThreshold
	}
	if override.WalPath != "" {
		merged.WalPath = override.WalPath
	}
	if override.EnqueueTimeoutMs > 0 {
		merged.EnqueueTimeoutMs = override.EnqueueTimeoutMs
	}
	if override.MaxRetries > 0 {
		merged.MaxRetries = override.MaxRetries
	}
	return merged
}
