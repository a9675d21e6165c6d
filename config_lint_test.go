package sessionkit

import (
	"slices"
	"testing"
	"time"
)

func TestLint_DefaultConfig(t *testing.T) {
	codes := defaultConfig().Lint().Codes()

	// Local http and memory storage are expected in development defaults.
	if !slices.Contains(codes, "memory_storage") {
		t.Error("expected memory_storage warning")
	}
	for _, code := range []string{"api_plaintext", "idle_signout_disabled", "clear_single_attempt"} {
		if slices.Contains(codes, code) {
			t.Errorf("default config should not produce %q", code)
		}
	}
}

func TestLint_Warnings(t *testing.T) {
	tests := []struct {
		code   string
		mutate func(*Config)
	}{
		{"idle_signout_disabled", func(c *Config) { c.Inactivity.Enabled = false }},
		{"idle_timeout_long", func(c *Config) { c.Inactivity.IdleTimeout = time.Hour }},
		{"throttle_window_wide", func(c *Config) { c.Inactivity.ThrottleWindow = time.Minute }},
		{"legacy_flag_disabled", func(c *Config) { c.Session.WriteLegacyFlag = false }},
		{"clear_single_attempt", func(c *Config) { c.Session.ClearAttempts = 1 }},
		{"api_plaintext", func(c *Config) { c.API.BaseURL = "http://portal.example.test/api" }},
		{"audit_disabled", func(c *Config) { c.Audit.Enabled = false }},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if !slices.Contains(cfg.Lint().Codes(), tt.code) {
				t.Fatalf("expected %s warning", tt.code)
			}
		})
	}
}

func TestLint_HardenedConfigQuiet(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.BaseURL = "https://portal.example.test/api"
	cfg.Storage.Backend = "redis"
	cfg.Audit.Enabled = true

	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws.Codes())
	}
}

func TestLint_LocalHTTPAllowed(t *testing.T) {
	for _, base := range []string{"http://localhost:8080/api", "http://127.0.0.1/api", "http://[::1]:9000"} {
		cfg := defaultConfig()
		cfg.API.BaseURL = base
		if slices.Contains(cfg.Lint().Codes(), "api_plaintext") {
			t.Errorf("%s should not warn", base)
		}
	}
}
