// Copyright 2025 Settlenet
//
// Package config loads the validator's configuration from a YAML file
// with environment-variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML decoding from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DAProvider selects the data-availability backend behavior.
type DAProvider string

const (
	DAProviderContentAddressed DAProvider = "content_addressed"
	DAProviderHashOnly         DAProvider = "hash_only"
)

// OverflowPolicy selects §4.3's overflow behaviour.
type OverflowPolicy string

const (
	OverflowSkipIntent  OverflowPolicy = "skip_intent"
	OverflowAbortBatch  OverflowPolicy = "abort_batch"
)

// Config is the top-level validator configuration.
type Config struct {
	Environment string `yaml:"environment"`

	Database   DatabaseSettings   `yaml:"database"`
	Logging    LoggingSettings    `yaml:"logging"`
	Session    SessionSettings    `yaml:"session"`
	Batch      BatchSettings      `yaml:"batch"`
	Settlement SettlementSettings `yaml:"settlement"`
	Resilience ResilienceSettings `yaml:"resilience"`
	Server     ServerSettings     `yaml:"server"`
	Security   SecuritySettings   `yaml:"security"`
}

// DatabaseSettings configures the shared Postgres connection pool.
type DatabaseSettings struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// LoggingSettings configures pkg/logging.
type LoggingSettings struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SessionSettings configures C1.
type SessionSettings struct {
	NonceRetention     Duration `yaml:"nonce_retention"`
	ProcessedRetention Duration `yaml:"processed_retention"`
}

// BatchSettings configures C4's window policy (spec.md §4.4 / §6).
type BatchSettings struct {
	WindowSeconds       int            `yaml:"batch_window_seconds"`
	MinIntentsPerBatch  int            `yaml:"min_intents_per_batch"`
	MaxIntentsPerBatch  int            `yaml:"max_intents_per_batch"` // 0 = unbounded
	RequeueSkipped      bool           `yaml:"requeue_skipped"`
	OverflowOnArithmetic OverflowPolicy `yaml:"overflow_on_arithmetic"`
}

// SettlementSettings configures C5.
type SettlementSettings struct {
	DAProvider                DAProvider `yaml:"da_provider"`
	LedgerConfirmationTimeout Duration   `yaml:"ledger_confirmation_timeout"`
}

// ResilienceSettings configures C8.
type ResilienceSettings struct {
	CircuitBreakerK        int      `yaml:"circuit_breaker_k"`
	CircuitBreakerWindow   Duration `yaml:"circuit_breaker_window"`
	CircuitBreakerN        int      `yaml:"circuit_breaker_n"`
	CircuitBreakerCooldown Duration `yaml:"circuit_breaker_cooldown"`
	PartitionThreshold     Duration `yaml:"partition_threshold_seconds"`
}

// ServerSettings configures C7's HTTP surface.
type ServerSettings struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SecuritySettings holds the production_strict gate of spec.md §4.1/§6.
type SecuritySettings struct {
	DisableSignatureVerification bool `yaml:"disable_signature_verification"`
	ProductionStrict             bool `yaml:"production_strict"`
}

// Default returns the defaults named throughout spec.md §6.
func Default() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseSettings{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxIdleTime: Duration{5 * time.Minute},
			ConnMaxLifetime: Duration{time.Hour},
		},
		Logging: LoggingSettings{Level: "info"},
		Session: SessionSettings{
			NonceRetention:     Duration{24 * time.Hour},
			ProcessedRetention: Duration{7 * 24 * time.Hour},
		},
		Batch: BatchSettings{
			WindowSeconds:        30,
			MinIntentsPerBatch:   1000,
			MaxIntentsPerBatch:   0,
			RequeueSkipped:       true,
			OverflowOnArithmetic: OverflowSkipIntent,
		},
		Settlement: SettlementSettings{
			DAProvider:                DAProviderContentAddressed,
			LedgerConfirmationTimeout: Duration{30 * time.Second},
		},
		Resilience: ResilienceSettings{
			CircuitBreakerK:        5,
			CircuitBreakerWindow:   Duration{time.Minute},
			CircuitBreakerN:        10,
			CircuitBreakerCooldown: Duration{2 * time.Minute},
			PartitionThreshold:     Duration{2 * time.Minute},
		},
		Server: ServerSettings{ListenAddr: ":8080"},
		Security: SecuritySettings{
			ProductionStrict: true,
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:-default} references.
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		def := string(groups[3])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads a YAML config file, applies env substitution, and validates
// the production-strict invariant from spec.md §4.1.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnv(raw)

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants that must hold before the process is
// allowed to serve traffic. In particular, a production deployment must
// never disable Ed25519 verification (spec.md §4.1).
func (c *Config) Validate() error {
	if c.Environment == "production" && c.Security.ProductionStrict && c.Security.DisableSignatureVerification {
		return fmt.Errorf("config: disable_signature_verification cannot be true when environment=production and production_strict is set")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Batch.MinIntentsPerBatch < 1 {
		return fmt.Errorf("config: batch.min_intents_per_batch must be >= 1")
	}
	if c.Batch.MaxIntentsPerBatch != 0 && c.Batch.MaxIntentsPerBatch < c.Batch.MinIntentsPerBatch {
		return fmt.Errorf("config: batch.max_intents_per_batch must be 0 (unbounded) or >= min_intents_per_batch")
	}
	return nil
}
