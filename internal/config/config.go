package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Identity IdentityConfig `yaml:"identity"`
	Auth     AuthConfig     `yaml:"auth"`
	Quota    QuotaConfig    `yaml:"quota"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
	Env      string         `yaml:"env"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// IdentityConfig contains device-token signing settings.
type IdentityConfig struct {
	Secret            string        `yaml:"secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	LegacyTTL         time.Duration `yaml:"legacy_ttl"`
	BlacklistCapacity int           `yaml:"blacklist_capacity"`
	BlacklistTTL      time.Duration `yaml:"blacklist_ttl"`
}

// AuthConfig contains bearer-token verification settings for signed-in users.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// QuotaConfig contains free-tier quota settings.
type QuotaConfig struct {
	FreeLimit  int `yaml:"free_limit"`
	TrialLimit int `yaml:"trial_limit"`
}

// BreakerConfig contains circuit breaker thresholds.
type BreakerConfig struct {
	QueueDepthThreshold int           `yaml:"queue_depth_threshold"`
	CPUThreshold        float64       `yaml:"cpu_threshold"`
	MemThreshold        float64       `yaml:"mem_threshold"`
	ResetTimeout        time.Duration `yaml:"reset_timeout"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	SampleInterval      time.Duration `yaml:"sample_interval"`
}

// StoreConfig contains durable store settings.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EngineConfig contains extraction engine collaborator settings.
type EngineConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("METAGATE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("METAGATE_DEVICE_SECRET"); v != "" {
		cfg.Identity.Secret = v
	}
	if v := os.Getenv("METAGATE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("METAGATE_PG_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("METAGATE_ENGINE_ENDPOINT"); v != "" {
		cfg.Engine.Endpoint = v
	}
	if v := os.Getenv("METAGATE_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("METAGATE_FREE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Quota.FreeLimit = n
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Identity.TokenTTL == 0 {
		cfg.Identity.TokenTTL = 90 * 24 * time.Hour
	}
	if cfg.Identity.LegacyTTL == 0 {
		cfg.Identity.LegacyTTL = 7 * 24 * time.Hour
	}
	if cfg.Identity.BlacklistCapacity == 0 {
		cfg.Identity.BlacklistCapacity = 10000
	}
	if cfg.Identity.BlacklistTTL == 0 {
		cfg.Identity.BlacklistTTL = 90 * 24 * time.Hour
	}
	if cfg.Quota.FreeLimit == 0 {
		cfg.Quota.FreeLimit = 2
	}
	if cfg.Quota.TrialLimit == 0 {
		cfg.Quota.TrialLimit = 2
	}
	if cfg.Breaker.QueueDepthThreshold == 0 {
		cfg.Breaker.QueueDepthThreshold = 500
	}
	if cfg.Breaker.CPUThreshold == 0 {
		cfg.Breaker.CPUThreshold = 85
	}
	if cfg.Breaker.MemThreshold == 0 {
		cfg.Breaker.MemThreshold = 90
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 3
	}
	if cfg.Breaker.SampleInterval == 0 {
		cfg.Breaker.SampleInterval = 5 * time.Second
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = 60 * time.Second
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
}

// Production reports whether the service runs with production hardening
// (secure cookies).
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Validate checks if the configuration is valid. The device signing secret
// has no usable default: without it every token the service mints would be
// forgeable.
func (c *Config) Validate() error {
	if c.Identity.Secret == "" {
		return ErrMissingDeviceSecret
	}
	if c.Quota.FreeLimit < 0 {
		return ErrInvalidFreeLimit
	}
	return nil
}

// Errors
var (
	ErrMissingDeviceSecret = &ConfigError{"device signing secret is required"}
	ErrInvalidFreeLimit    = &ConfigError{"free quota limit must be >= 0"}
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}
