// Package config loads the agent's runtime configuration from a .env
// file, environment variables, and CLI overrides, in that ascending
// priority order.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AdapterConfig is one configured SHDR adapter connection.
type AdapterConfig struct {
	Host               string `env:"HOST,required"`
	Port               int    `env:"PORT,required"`
	Device             string `env:"DEVICE"`
	RelativeTime       bool   `env:"RELATIVE_TIME" envDefault:"false"`
	ConversionRequired bool   `env:"CONVERSION_REQUIRED" envDefault:"true"`
	RealTime           bool   `env:"REAL_TIME" envDefault:"false"`
	ShdrVersion        string `env:"SHDR_VERSION" envDefault:"1.7"`
}

// Config is the agent's full runtime configuration, per spec.md §6.
type Config struct {
	BufferSize          int    `env:"BUFFER_SIZE" envDefault:"131072"`
	CheckpointFrequency int    `env:"CHECKPOINT_FREQUENCY"` // 0 means BufferSize/4, applied in Load
	Port                int    `env:"PORT" envDefault:"5000"`
	ServerIP            string `env:"SERVER_IP"`
	LegacyTimeoutSec    int    `env:"LEGACY_TIMEOUT" envDefault:"600"`
	ReconnectIntervalMs int    `env:"RECONNECT_INTERVAL" envDefault:"10000"`
	SuppressIPAddress   bool   `env:"SUPPRESS_IP_ADDRESS" envDefault:"false"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// DeviceModelPath is the device-model XML file watched for changes
	// and (externally) loaded at startup; loading its contents is out of
	// this module's scope per spec.md §1.
	DeviceModelPath string `env:"DEVICE_MODEL_PATH"`

	// AdapterCount tells Load how many ADAPTER_<n>_* blocks to read.
	// env.Parse has no notion of a repeated block, so each adapter gets
	// its own numbered prefix (ADAPTER_0_HOST, ADAPTER_1_HOST, ...)
	// instead of one slice-shaped env var.
	AdapterCount int `env:"ADAPTER_COUNT" envDefault:"0"`

	// Adapters is populated by Load from AdapterCount numbered blocks,
	// not by env.Parse directly.
	Adapters []AdapterConfig
}

// Validate reports a configuration error (spec.md exit code 1): a bind
// port out of range, or a buffer size or checkpoint frequency that is
// not positive.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.CheckpointFrequency <= 0 {
		return fmt.Errorf("checkpoint frequency must be positive, got %d", c.CheckpointFrequency)
	}
	return nil
}

// ParseAdapter reads one AdapterConfig from env vars under the given
// prefix, e.g. ParseAdapter("ADAPTER_0_") reads ADAPTER_0_HOST,
// ADAPTER_0_PORT, and so on.
func ParseAdapter(prefix string) (AdapterConfig, error) {
	var a AdapterConfig
	if err := env.ParseWithOptions(&a, env.Options{Prefix: prefix}); err != nil {
		return AdapterConfig{}, fmt.Errorf("parsing adapter config %s*: %w", prefix, err)
	}
	return a, nil
}

// Overrides holds CLI flag values that take priority over environment
// variables and the .env file.
type Overrides struct {
	EnvFile  string
	Port     int
	LogLevel string
}

// Load reads configuration from a .env file (if present), environment
// variables, then applies CLI overrides. Priority: CLI > env > .env >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.CheckpointFrequency == 0 {
		cfg.CheckpointFrequency = cfg.BufferSize / 4
		if cfg.CheckpointFrequency <= 0 {
			cfg.CheckpointFrequency = 1
		}
	}

	if overrides.Port != 0 {
		cfg.Port = overrides.Port
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	for i := 0; i < cfg.AdapterCount; i++ {
		a, err := ParseAdapter(fmt.Sprintf("ADAPTER_%d_", i))
		if err != nil {
			return nil, err
		}
		cfg.Adapters = append(cfg.Adapters, a)
	}

	return cfg, nil
}
