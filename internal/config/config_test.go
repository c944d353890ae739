package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with env key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.OpenAI.APIKey != "sk-env" {
			t.Errorf("expected env key, got %q", cfg.OpenAI.APIKey)
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("expected default port, got %q", cfg.Server.Port)
		}
		if cfg.Call.MaxTurns != 10 {
			t.Errorf("expected default max turns, got %d", cfg.Call.MaxTurns)
		}
	})

	t.Run("file values with env override", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		t.Setenv("DIALCHECK_PORT", "9999")
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte(`
server:
  port: "3000"
call:
  max_turns: 5
  inactivity_timeout: 45s
`)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != "9999" {
			t.Errorf("env should override file, got %q", cfg.Server.Port)
		}
		if cfg.Call.MaxTurns != 5 {
			t.Errorf("expected file max turns, got %d", cfg.Call.MaxTurns)
		}
		if cfg.Call.InactivityTimeout != 45*time.Second {
			t.Errorf("expected 45s timeout, got %v", cfg.Call.InactivityTimeout)
		}
	})

	t.Run("missing key fails validation", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := Load(""); err == nil {
			t.Error("expected validation error without API key")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		if _, err := Load("/nonexistent/config.yaml"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
