package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/infoset/internal/config"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, usingDefaults, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !usingDefaults {
		t.Error("missing file must report defaults in use")
	}
	if cfg.Spool.Dir != config.DefaultConfig().Spool.Dir {
		t.Errorf("spool dir = %s, want default", cfg.Spool.Dir)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infoset.yaml")
	if err := os.WriteFile(path, []byte("drain:\n  workers: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, usingDefaults, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if usingDefaults || cfg.Drain.Workers != 7 {
		t.Errorf("usingDefaults = %v, workers = %d", usingDefaults, cfg.Drain.Workers)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infoset.yaml")
	if err := os.WriteFile(path, []byte("drain:\n  workers: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := loadConfig(path); err == nil {
		t.Error("expected validation error")
	}
}
