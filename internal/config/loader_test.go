package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.MaxParallelAgents != 3 {
		t.Errorf("MaxParallelAgents = %d, want 3", cfg.Orchestrator.MaxParallelAgents)
	}
	if cfg.Orchestrator.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Orchestrator.VerificationTimeout != 10*time.Second {
		t.Errorf("VerificationTimeout = %v, want 10s", cfg.Orchestrator.VerificationTimeout)
	}
	if cfg.Orchestrator.BaseDir != ".quorum-orch" {
		t.Errorf("BaseDir = %q, want .quorum-orch", cfg.Orchestrator.BaseDir)
	}
	if cfg.Tracker.Backend != "local" {
		t.Errorf("Tracker.Backend = %q, want local", cfg.Tracker.Backend)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUORUM_ORCHESTRATOR_MAX_PARALLEL_AGENTS", "7")
	t.Setenv("QUORUM_TRACKER_BACKEND", "github")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.MaxParallelAgents != 7 {
		t.Errorf("MaxParallelAgents = %d, want 7", cfg.Orchestrator.MaxParallelAgents)
	}
	if cfg.Tracker.Backend != "github" {
		t.Errorf("Tracker.Backend = %q, want github", cfg.Tracker.Backend)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "orchestrator:\n  max_retries: 5\ntracker:\n  backend: linear\n  linear:\n    base_url: https://example.test\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Tracker.Backend != "linear" {
		t.Errorf("Tracker.Backend = %q, want linear", cfg.Tracker.Backend)
	}
	if cfg.Tracker.Linear.BaseURL != "https://example.test" {
		t.Errorf("Linear.BaseURL = %q, want https://example.test", cfg.Tracker.Linear.BaseURL)
	}
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("expected no error for an absent config file, got %v", err)
	}
}
