package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BatchSize != 5 || cfg.Concurrency != 3 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Variants) != 1 || cfg.Variants[0] != "S19J_PRO" {
		t.Fatalf("default variants=%v want [S19J_PRO]", cfg.Variants)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database_url: postgres://other:pw@db:5432/other
batch_size: 8
inter_batch_delay: 5s
variants: [S19J_PRO, S9]
retry:
  max_attempts: 6
  base_delay: 250ms
bmus:
  - id: T_WF-1
    name: Windfarm One
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BatchSize != 8 {
		t.Fatalf("batch_size=%d want 8", cfg.BatchSize)
	}
	if cfg.InterBatchDelay.Std() != 5*time.Second {
		t.Fatalf("inter_batch_delay=%v want 5s", cfg.InterBatchDelay.Std())
	}
	if got := cfg.BMULookup(); got["T_WF-1"] != "Windfarm One" {
		t.Fatalf("bmu lookup=%v", got)
	}
	policy := cfg.Retry.Policy()
	if policy.MaxAttempts != 6 || policy.BaseDelay != 250*time.Millisecond {
		t.Fatalf("retry policy=%+v want overridden attempts and base delay", policy)
	}
	// Untouched keys keep their defaults.
	if cfg.Concurrency != 3 {
		t.Fatalf("concurrency=%d want default 3", cfg.Concurrency)
	}
	if policy.MaxDelay != 15*time.Second {
		t.Fatalf("retry max delay=%v want default 15s", policy.MaxDelay)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("batch_size: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCH_SIZE", "12")
	t.Setenv("VARIANTS", "S19_XP, S21")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BatchSize != 12 {
		t.Fatalf("batch_size=%d want env override 12", cfg.BatchSize)
	}
	if len(cfg.Variants) != 2 || cfg.Variants[0] != "S19_XP" || cfg.Variants[1] != "S21" {
		t.Fatalf("variants=%v want [S19_XP S21]", cfg.Variants)
	}
}

func TestBMULookupEmpty(t *testing.T) {
	cfg := Default()
	if cfg.BMULookup() != nil {
		t.Fatal("empty BMU list should yield nil lookup")
	}
}
