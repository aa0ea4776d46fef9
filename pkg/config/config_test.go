package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 },
		},
		{
			name:   "rounds per session fixed at 3",
			mutate: func(c *Config) { c.Game.RoundsPerSession = 4 },
		},
		{
			name:   "min library below rounds",
			mutate: func(c *Config) { c.Game.MinLibrary = 2 },
		},
		{
			name:   "countdown must be > 0",
			mutate: func(c *Config) { c.Game.CountdownSeconds = 0 },
		},
		{
			name:   "original gain is not tunable",
			mutate: func(c *Config) { c.Export.OriginalGain = 0.5 },
		},
		{
			name:   "dubbing gain is not tunable",
			mutate: func(c *Config) { c.Export.DubbingGain = 0.8 },
		},
		{
			name:   "audio profiles required",
			mutate: func(c *Config) { c.Capture.AudioProfiles = nil },
		},
		{
			name:   "sample rate floor above target",
			mutate: func(c *Config) { c.Capture.Audio.MinSampleRate = 96000 },
		},
		{
			name:   "unknown persistence backend",
			mutate: func(c *Config) { c.Persistence.Backend = "s3" },
		},
		{
			name: "file backend needs directory",
			mutate: func(c *Config) {
				c.Persistence.Backend = "file"
				c.Persistence.Directory = ""
			},
		},
		{
			name: "redis address required",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "export timeout beyond write timeout",
			mutate: func(c *Config) {
				c.Server.WriteTimeout = time.Minute
				c.Export.Timeout = 2 * time.Minute
			},
		},
		{
			name: "redis breaker needs thresholds",
			mutate: func(c *Config) {
				c.Persistence.Backend = "redis"
				c.Redis.Breaker.FailureThreshold = 0
			},
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = time.Second },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  address: ":9999"
persistence:
  backend: file
  directory: /tmp/dubsync
game:
  countdown_seconds: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DUBSYNC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected address :9999, got %s", cfg.Server.Address)
	}
	if cfg.Game.CountdownSeconds != 5 {
		t.Fatalf("expected countdown 5, got %d", cfg.Game.CountdownSeconds)
	}
	if cfg.Game.RoundsPerSession != 3 {
		t.Fatalf("expected defaults to survive partial yaml, got %d rounds", cfg.Game.RoundsPerSession)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env override level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Persistence.Backend != "file" {
		t.Fatalf("expected file backend, got %s", cfg.Persistence.Backend)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DUBSYNC_SERVER_ADDRESS", ":7070")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("expected env override address, got %s", cfg.Server.Address)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("shipped config should load: %v", err)
	}
	if cfg.Export.FilePrefix != "doublage-complet-" || cfg.Export.AudioFilePrefix != "doublage-" {
		t.Errorf("unexpected export prefixes %q %q", cfg.Export.FilePrefix, cfg.Export.AudioFilePrefix)
	}
	if len(cfg.Capture.AudioProfiles) != 4 || cfg.Redis.Breaker.OpenTimeout != 10*time.Second {
		t.Errorf("profiles or breaker not decoded: %+v", cfg.Redis.Breaker)
	}
}
