package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}
}

func TestValidateRejectsBadWindowMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.WindowMode = "bytes"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown window mode")
	}
}

func TestValidateRejectsBadRelevance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.MinRelevance = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range min relevance")
	}
}

func TestValidateRejectsBadInactivityTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.InactivityTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for a zero inactivity timeout")
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.LLM.MaxTokens = 0
	cfg.Vault.WindowSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	// All three problems should be reported at once.
	for _, want := range []string{"port", "max_tokens", "window size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %q, got %v", want, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEMVAULT_SERVER_PORT", "9090")
	t.Setenv("MEMVAULT_WINDOW_MODE", "tokens")
	t.Setenv("MEMVAULT_SYNTHESIS_ENABLED", "false")
	t.Setenv("MEMVAULT_CONFIG", "/nonexistent/config.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Vault.WindowMode != "tokens" {
		t.Errorf("expected tokens mode, got %s", cfg.Vault.WindowMode)
	}
	if cfg.Vault.SynthesisEnabled {
		t.Error("expected synthesis disabled")
	}
}
