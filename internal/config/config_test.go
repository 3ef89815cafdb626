package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %q", cfg.LogLevel)
	}
	if cfg.InputSize != 96 {
		t.Errorf("expected default input_size 96, got %d", cfg.InputSize)
	}
	if cfg.Source != "mjpeg" {
		t.Errorf("expected default source mjpeg, got %q", cfg.Source)
	}
	if cfg.StreamTimeout != 5*time.Second {
		t.Errorf("expected default stream_timeout 5s, got %v", cfg.StreamTimeout)
	}
	if cfg.WindowSize != 5 || cfg.QueueSize != 4 {
		t.Errorf("unexpected inference defaults: window=%d queue=%d", cfg.WindowSize, cfg.QueueSize)
	}
	if !cfg.Augment {
		t.Error("expected augmentation enabled by default")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MUDRA_LOG_LEVEL", "debug")
	t.Setenv("MUDRA_BATCH_SIZE", "32")
	t.Setenv("MUDRA_SOURCE", "snapshot")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("env log_level not applied: %q", cfg.LogLevel)
	}
	if cfg.BatchSize != 32 {
		t.Errorf("env batch_size not applied: %d", cfg.BatchSize)
	}
	if cfg.Source != "snapshot" {
		t.Errorf("env source not applied: %q", cfg.Source)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mudra.yaml")
	yaml := "input_size: 64\nstream_url: http://camera.local/jpg\nwindow_size: 7\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.InputSize != 64 {
		t.Errorf("file input_size not applied: %d", cfg.InputSize)
	}
	if cfg.StreamURL != "http://camera.local/jpg" {
		t.Errorf("file stream_url not applied: %q", cfg.StreamURL)
	}
	if cfg.WindowSize != 7 {
		t.Errorf("file window_size not applied: %d", cfg.WindowSize)
	}
	// Untouched fields keep their defaults.
	if cfg.BatchSize != 16 {
		t.Errorf("expected default batch_size 16, got %d", cfg.BatchSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad source", func(c *Config) { c.Source = "file" }},
		{"tiny input", func(c *Config) { c.InputSize = 4 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"dropout one", func(c *Config) { c.DropoutRate = 1 }},
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}
	for _, tc := range cases {
		cfg := *base
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
