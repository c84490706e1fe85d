package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mission.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d, want 3", cfg.Mission.MaxRounds)
	}
	if cfg.Mission.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d, want 3", cfg.Mission.MaxParallel)
	}
	if cfg.Governor.MinFreeMemMB != 1200 {
		t.Errorf("MinFreeMemMB = %d, want 1200", cfg.Governor.MinFreeMemMB)
	}
	if got := cfg.SeatTimeout(); got != 900*time.Second {
		t.Errorf("SeatTimeout = %v, want 900s", got)
	}
	if got := cfg.ActionTTL(); got != 14*24*time.Hour {
		t.Errorf("ActionTTL = %v, want 336h", got)
	}
	if len(cfg.Router.Providers) == 0 {
		t.Fatal("default config must ship a provider order")
	}
	if cfg.Router.Providers[0].Name != "gemini" {
		t.Errorf("first provider = %q, want gemini", cfg.Router.Providers[0].Name)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mission.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d, want default 3", cfg.Mission.MaxRounds)
	}
	if cfg.RunsRoot == "" {
		t.Error("RunsRoot should be derived from repo root")
	}
	if cfg.Ledger.Path == "" {
		t.Error("Ledger.Path should default under runs root")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	body := `
repo_root: ` + dir + `
mission:
  max_rounds: 5
  max_parallel: 2
  strict: true
  seat_timeout: 30s
governor:
  max_local: 2
patch:
  edit_surface: ["src/", "docs/"]
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mission.MaxRounds != 5 {
		t.Errorf("MaxRounds = %d, want 5", cfg.Mission.MaxRounds)
	}
	if !cfg.Mission.Strict {
		t.Error("Strict should be true")
	}
	if got := cfg.SeatTimeout(); got != 30*time.Second {
		t.Errorf("SeatTimeout = %v, want 30s", got)
	}
	if len(cfg.Patch.EditSurface) != 2 || cfg.Patch.EditSurface[0] != "src/" {
		t.Errorf("EditSurface = %v", cfg.Patch.EditSurface)
	}
	if cfg.RunsRoot != filepath.Join(dir, ".council") {
		t.Errorf("RunsRoot = %q", cfg.RunsRoot)
	}
}

func TestNormalizeClampsBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepoRoot = t.TempDir()
	cfg.Mission.MaxRounds = 0
	cfg.Mission.MaxParallel = -1
	cfg.Governor.MaxLocal = 0

	if err := cfg.normalize(); err != nil {
		t.Fatal(err)
	}
	if cfg.Mission.MaxRounds != 1 || cfg.Mission.MaxParallel != 1 || cfg.Governor.MaxLocal != 1 {
		t.Errorf("clamps failed: rounds=%d parallel=%d local=%d",
			cfg.Mission.MaxRounds, cfg.Mission.MaxParallel, cfg.Governor.MaxLocal)
	}
}

func TestParseDurationFallback(t *testing.T) {
	if got := parseDuration("garbage", 5*time.Second); got != 5*time.Second {
		t.Errorf("parseDuration(garbage) = %v", got)
	}
	if got := parseDuration("-3s", 5*time.Second); got != 5*time.Second {
		t.Errorf("parseDuration(-3s) = %v", got)
	}
	if got := parseDuration("250ms", 5*time.Second); got != 250*time.Millisecond {
		t.Errorf("parseDuration(250ms) = %v", got)
	}
}
