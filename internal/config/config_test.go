package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Scheduler.ShrinkEvery != 256 {
		t.Errorf("ShrinkEvery = %d, want 256", cfg.Scheduler.ShrinkEvery)
	}
	if cfg.Scheduler.MinCapacity != 128 {
		t.Errorf("MinCapacity = %d, want 128", cfg.Scheduler.MinCapacity)
	}
	if cfg.Scheduler.MainArgs != [2]int32{0, 0} {
		t.Errorf("MainArgs = %v, want [0 0]", cfg.Scheduler.MainArgs)
	}
	if cfg.Logging.TerminationDir != "" {
		t.Errorf("Logging.TerminationDir = %q, want empty (store disabled by default)", cfg.Logging.TerminationDir)
	}
	if cfg.Logging.TerminationMaxDetailBytes != 4096 {
		t.Errorf("Logging.TerminationMaxDetailBytes = %d, want 4096", cfg.Logging.TerminationMaxDetailBytes)
	}
	if cfg.Logging.TerminationRetentionSeconds != 3600 {
		t.Errorf("Logging.TerminationRetentionSeconds = %d, want 3600", cfg.Logging.TerminationRetentionSeconds)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("scheduler:\n  shrink_every: 64\npostgres:\n  enabled: true\n  dsn: postgres://test\n")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Scheduler.ShrinkEvery != 64 {
		t.Errorf("ShrinkEvery = %d, want 64", cfg.Scheduler.ShrinkEvery)
	}
	if cfg.Scheduler.MinCapacity != 128 {
		t.Errorf("MinCapacity = %d, want 128 (unset in file, default preserved)", cfg.Scheduler.MinCapacity)
	}
	if !cfg.Postgres.Enabled || cfg.Postgres.DSN != "postgres://test" {
		t.Errorf("Postgres = %+v, want enabled with dsn postgres://test", cfg.Postgres)
	}
}

func TestLoadFromEnvOverridesPostgres(t *testing.T) {
	t.Setenv("WASMKERNEL_PG_DSN", "postgres://env-override")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if !cfg.Postgres.Enabled {
		t.Error("Postgres.Enabled = false, want true after env override")
	}
	if cfg.Postgres.DSN != "postgres://env-override" {
		t.Errorf("Postgres.DSN = %q, want %q", cfg.Postgres.DSN, "postgres://env-override")
	}
}
