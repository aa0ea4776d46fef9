package config

import (
	"fmt"
	"os"
	"time"

	"dubsync/internal/core/domain"

	"gopkg.in/yaml.v2"
)

// Product constants for the export mix. They are carried in the config for
// wiring only; Validate rejects any other value.
const (
	OriginalGain = 0.1
	DubbingGain  = 1.0
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
	} `yaml:"signal"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Game struct {
		RoundsPerSession int           `yaml:"rounds_per_session"`
		MinLibrary       int           `yaml:"min_library"`
		CountdownSeconds int           `yaml:"countdown_seconds"`
		CountdownTick    time.Duration `yaml:"countdown_tick"`
		TimeUpdateRate   float64       `yaml:"time_update_rate"`
	} `yaml:"game"`

	Capture struct {
		AudioProfiles              []domain.FormatProfile `yaml:"audio_profiles"`
		VideoProfiles              []domain.FormatProfile `yaml:"video_profiles"`
		FallbackAudioBitsPerSecond int                    `yaml:"fallback_audio_bits_per_second"`
		FallbackVideoBitsPerSecond int                    `yaml:"fallback_video_bits_per_second"`

		Audio struct {
			EchoCancellation bool `yaml:"echo_cancellation"`
			NoiseSuppression bool `yaml:"noise_suppression"`
			AutoGainControl  bool `yaml:"auto_gain_control"`
			SampleRate       int  `yaml:"sample_rate"`
			MinSampleRate    int  `yaml:"min_sample_rate"`
			SampleSize       int  `yaml:"sample_size"`
			MaxSampleSize    int  `yaml:"max_sample_size"`
			LowLatency       bool `yaml:"low_latency"`
		} `yaml:"audio"`

		Video struct {
			Width        int `yaml:"width"`
			Height       int `yaml:"height"`
			FrameRate    int `yaml:"frame_rate"`
			MinFrameRate int `yaml:"min_frame_rate"`
		} `yaml:"video"`
	} `yaml:"capture"`

	Export struct {
		FPS                int                    `yaml:"fps"`
		FrameInterval      time.Duration          `yaml:"frame_interval"`
		OriginalGain       float64                `yaml:"original_gain"`
		DubbingGain        float64                `yaml:"dubbing_gain"`
		VideoBitsPerSecond int                    `yaml:"video_bits_per_second"`
		AudioBitsPerSecond int                    `yaml:"audio_bits_per_second"`
		Profiles           []domain.FormatProfile `yaml:"profiles"`
		FilePrefix         string                 `yaml:"file_prefix"`
		AudioFilePrefix    string                 `yaml:"audio_file_prefix"`
		Timeout            time.Duration          `yaml:"timeout"`
	} `yaml:"export"`

	Host struct {
		SupportedTypes     []string      `yaml:"supported_types"`
		TimeUpdateInterval time.Duration `yaml:"time_update_interval"`
		MixSampleRate      int           `yaml:"mix_sample_rate"`
	} `yaml:"host"`

	Persistence struct {
		Backend    string `yaml:"backend"`
		Directory  string `yaml:"directory"`
		KeyPrefix  string `yaml:"key_prefix"`
		QuotaBytes int64  `yaml:"quota_bytes"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"persistence"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`

		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Game
	if c.Game.RoundsPerSession != 3 {
		return fmt.Errorf("game.rounds_per_session must be 3")
	}
	if c.Game.MinLibrary < c.Game.RoundsPerSession {
		return fmt.Errorf("game.min_library must be >= game.rounds_per_session")
	}
	if c.Game.CountdownSeconds <= 0 {
		return fmt.Errorf("game.countdown_seconds must be > 0")
	}
	if c.Game.CountdownTick <= 0 {
		return fmt.Errorf("game.countdown_tick must be > 0")
	}
	if c.Game.TimeUpdateRate <= 0 {
		return fmt.Errorf("game.time_update_rate must be > 0")
	}

	// Capture
	if len(c.Capture.AudioProfiles) == 0 {
		return fmt.Errorf("capture.audio_profiles must not be empty")
	}
	if len(c.Capture.VideoProfiles) == 0 {
		return fmt.Errorf("capture.video_profiles must not be empty")
	}
	if c.Capture.Audio.MinSampleRate > c.Capture.Audio.SampleRate {
		return fmt.Errorf("capture.audio.min_sample_rate must be <= sample_rate")
	}
	if c.Capture.Video.MinFrameRate > c.Capture.Video.FrameRate {
		return fmt.Errorf("capture.video.min_frame_rate must be <= frame_rate")
	}

	// Export
	if c.Export.FPS <= 0 {
		return fmt.Errorf("export.fps must be > 0")
	}
	if c.Export.FrameInterval <= 0 {
		return fmt.Errorf("export.frame_interval must be > 0")
	}
	if c.Export.OriginalGain != OriginalGain || c.Export.DubbingGain != DubbingGain {
		return fmt.Errorf("export gains are fixed at %.1f/%.1f", OriginalGain, DubbingGain)
	}
	if c.Export.FilePrefix == "" || c.Export.AudioFilePrefix == "" {
		return fmt.Errorf("export file prefixes must not be empty")
	}
	if c.Export.Timeout <= 0 {
		return fmt.Errorf("export.timeout must be > 0")
	}
	if c.Export.Timeout > c.Server.WriteTimeout {
		return fmt.Errorf("export.timeout (%s) must not exceed server.write_timeout (%s)", c.Export.Timeout, c.Server.WriteTimeout)
	}

	if c.Host.TimeUpdateInterval <= 0 {
		return fmt.Errorf("host.time_update_interval must be > 0")
	}

	// Persistence
	switch c.Persistence.Backend {
	case "memory", "redis":
	case "file":
		if c.Persistence.Directory == "" {
			return fmt.Errorf("persistence.directory must not be empty for file backend")
		}
	default:
		return fmt.Errorf("persistence.backend must be one of memory, file, redis")
	}
	if c.Persistence.QuotaBytes < 0 {
		return fmt.Errorf("persistence.quota_bytes must be >= 0")
	}
	if c.Persistence.MaxRetries < 0 {
		return fmt.Errorf("persistence.max_retries must be >= 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}
	if c.Redis.Enabled || c.Persistence.Backend == "redis" {
		if c.Redis.Breaker.FailureThreshold <= 0 || c.Redis.Breaker.SuccessThreshold <= 0 {
			return fmt.Errorf("redis.breaker thresholds must be > 0")
		}
		if c.Redis.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("redis.breaker.open_timeout must be > 0")
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint must not be empty when tracing.enabled=true")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.MaxUploadBytes = 200 << 20

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Game.RoundsPerSession = 3
	cfg.Game.MinLibrary = 3
	cfg.Game.CountdownSeconds = 3
	cfg.Game.CountdownTick = time.Second
	cfg.Game.TimeUpdateRate = 4

	cfg.Capture.AudioProfiles = []domain.FormatProfile{
		{MimeType: "audio/webm;codecs=opus", AudioBitsPerSecond: 128000},
		{MimeType: "audio/ogg;codecs=opus", AudioBitsPerSecond: 128000},
		{MimeType: "audio/mp4", AudioBitsPerSecond: 128000},
		{MimeType: "audio/wav"},
	}
	cfg.Capture.VideoProfiles = []domain.FormatProfile{
		{MimeType: "video/webm;codecs=vp9,opus", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/webm;codecs=vp8,opus", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/mp4", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/x-dubv"},
	}
	cfg.Capture.FallbackAudioBitsPerSecond = 128000
	cfg.Capture.FallbackVideoBitsPerSecond = 2500000
	cfg.Capture.Audio.EchoCancellation = true
	cfg.Capture.Audio.NoiseSuppression = true
	cfg.Capture.Audio.AutoGainControl = false
	cfg.Capture.Audio.SampleRate = 48000
	cfg.Capture.Audio.MinSampleRate = 44100
	cfg.Capture.Audio.SampleSize = 16
	cfg.Capture.Audio.MaxSampleSize = 24
	cfg.Capture.Audio.LowLatency = true
	cfg.Capture.Video.Width = 1280
	cfg.Capture.Video.Height = 720
	cfg.Capture.Video.FrameRate = 30
	cfg.Capture.Video.MinFrameRate = 24

	cfg.Export.FPS = 30
	cfg.Export.FrameInterval = time.Second / 60
	cfg.Export.OriginalGain = OriginalGain
	cfg.Export.DubbingGain = DubbingGain
	cfg.Export.VideoBitsPerSecond = 2500000
	cfg.Export.AudioBitsPerSecond = 128000
	cfg.Export.Profiles = []domain.FormatProfile{
		{MimeType: "video/webm;codecs=vp9,opus", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/webm;codecs=vp8,opus", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/webm", VideoBitsPerSecond: 2500000, AudioBitsPerSecond: 128000},
		{MimeType: "video/x-dubv"},
	}
	cfg.Export.FilePrefix = "doublage-complet-"
	cfg.Export.AudioFilePrefix = "doublage-"
	cfg.Export.Timeout = 4 * time.Minute

	cfg.Host.SupportedTypes = []string{"audio/wav", "video/x-dubv"}
	cfg.Host.TimeUpdateInterval = 250 * time.Millisecond
	cfg.Host.MixSampleRate = 48000

	cfg.Persistence.Backend = "memory"
	cfg.Persistence.Directory = "./data"
	cfg.Persistence.KeyPrefix = "dubsync:"
	cfg.Persistence.QuotaBytes = 5 << 20
	cfg.Persistence.MaxRetries = 2

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Breaker.FailureThreshold = 5
	cfg.Redis.Breaker.SuccessThreshold = 2
	cfg.Redis.Breaker.OpenTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "dubsync"
	cfg.Tracing.Endpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("DUBSYNC_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("DUBSYNC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("DUBSYNC_PERSISTENCE_BACKEND"); backend != "" {
		c.Persistence.Backend = backend
	}
	if addr := os.Getenv("DUBSYNC_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
