// Copyright 2025 Settlenet

package config

import "testing"

func baseConfig() *Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/settlenet"
	return cfg
}

func TestValidate_ProductionStrictRejectsDisabledSignatureVerification(t *testing.T) {
	cfg := baseConfig()
	cfg.Environment = "production"
	cfg.Security.ProductionStrict = true
	cfg.Security.DisableSignatureVerification = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when disabling signature verification in strict production")
	}
}

func TestValidate_NonProductionAllowsDisabledSignatureVerification(t *testing.T) {
	cfg := baseConfig()
	cfg.Environment = "development"
	cfg.Security.DisableSignatureVerification = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database url")
	}
}

func TestValidate_MaxIntentsMustBeZeroOrAtLeastMin(t *testing.T) {
	cfg := baseConfig()
	cfg.Batch.MinIntentsPerBatch = 100
	cfg.Batch.MaxIntentsPerBatch = 10

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max_intents_per_batch < min_intents_per_batch")
	}

	cfg.Batch.MaxIntentsPerBatch = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected 0 (unbounded) to be valid, got %v", err)
	}
}

func TestExpandEnv_SubstitutesWithDefault(t *testing.T) {
	raw := []byte(`url: ${DATABASE_URL:-postgres://localhost/dev}`)
	out := expandEnv(raw)
	if string(out) != "url: postgres://localhost/dev" {
		t.Fatalf("unexpected expansion: %s", out)
	}
}
