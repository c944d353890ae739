// Package config loads the harness configuration from a YAML file with
// environment variable overrides for credentials and deployment knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete harness configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Call     CallConfig     `yaml:"call"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig contains the HTTP front-end configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// OpenAIConfig contains credentials and model selection.
type OpenAIConfig struct {
	APIKey        string `yaml:"api_key"`
	RealtimeURL   string `yaml:"realtime_url"`
	RealtimeModel string `yaml:"realtime_model"`
	TextModel     string `yaml:"text_model"`
	Voice         string `yaml:"voice"`
}

// CallConfig contains the per-call defaults.
type CallConfig struct {
	MaxTurns          int           `yaml:"max_turns"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	GracePeriod       time.Duration `yaml:"grace_period"`
}

// PipelineConfig contains the text-pipeline stage settings.
type PipelineConfig struct {
	TranscriptionModel string `yaml:"transcription_model"`
	SpeechModel        string `yaml:"speech_model"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		OpenAI: OpenAIConfig{
			RealtimeModel: "gpt-4o-realtime-preview",
			TextModel:     "gpt-4o",
			Voice:         "alloy",
		},
		Call: CallConfig{
			MaxTurns:          10,
			InactivityTimeout: 30 * time.Second,
			GracePeriod:       300 * time.Millisecond,
		},
	}
}

// Load reads the file when path is non-empty, then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("DIALCHECK_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DIALCHECK_REALTIME_MODEL"); v != "" {
		c.OpenAI.RealtimeModel = v
	}
	if v := os.Getenv("DIALCHECK_TEXT_MODEL"); v != "" {
		c.OpenAI.TextModel = v
	}
	if v := os.Getenv("DIALCHECK_VOICE"); v != "" {
		c.OpenAI.Voice = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required (openai.api_key or OPENAI_API_KEY)")
	}
	if c.Call.MaxTurns < 0 {
		return fmt.Errorf("max_turns cannot be negative, got %d", c.Call.MaxTurns)
	}
	if c.Call.InactivityTimeout < 0 {
		return fmt.Errorf("inactivity_timeout cannot be negative")
	}
	return nil
}
