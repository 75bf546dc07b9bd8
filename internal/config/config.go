package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete client configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	License    LicenseConfig    `yaml:"license" envconfig:"LICENSE"`
	Paths      PathsConfig      `yaml:"paths" envconfig:"PATHS"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Validation ValidationConfig `yaml:"validation" envconfig:"VALIDATION"`
}

// ServerConfig contains the local read-only API configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" default:"3000"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting for the local API
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"20"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LicenseConfig contains license server connection settings
type LicenseConfig struct {
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.gl0w.bot/api" validate:"required,url"`
	ClientType     string        `yaml:"client_type" envconfig:"CLIENT_TYPE" default:"glowfish-license-client"`
	ClientAuth     string        `yaml:"client_auth" envconfig:"CLIENT_AUTH" default:"glowfish-client-v1-production-key-2025"`
	ClientVersion  string        `yaml:"client_version" envconfig:"CLIENT_VERSION" default:"1.0.0"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"10s" validate:"gt=0"`
}

// PathsConfig contains file system paths for local state
type PathsConfig struct {
	ConfigDir  string `yaml:"config_dir" envconfig:"CONFIG_DIR" default:"/opt/glowfish-remote/config"`
	BoxIDCache string `yaml:"box_id_cache" envconfig:"BOX_ID_CACHE" default:"/var/lib/glowfish/box_id.json"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
}

// ValidationConfig contains dead-man's-switch timing settings
type ValidationConfig struct {
	Interval         time.Duration `yaml:"interval" envconfig:"INTERVAL" default:"30m" validate:"gt=0"`
	CycleTimeout     time.Duration `yaml:"cycle_timeout" envconfig:"CYCLE_TIMEOUT" default:"2m" validate:"gt=0"`
	GracePeriodHours int           `yaml:"grace_period_hours" envconfig:"GRACE_PERIOD_HOURS" default:"24" validate:"gt=0"`
	RebindCooldown   time.Duration `yaml:"rebind_cooldown" envconfig:"REBIND_COOLDOWN" default:"720h" validate:"gt=0"`
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("BOXLIC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Optional YAML overlay; env vars win on a second pass
	if path := os.Getenv("BOXLIC_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if err := envconfig.Process("BOXLIC", &cfg); err != nil {
			return nil, fmt.Errorf("failed to apply env overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IdentityFile returns the path of the write-protected identity file
func (c *Config) IdentityFile() string {
	return filepath.Join(c.Paths.ConfigDir, "config.json")
}

// LicenseFile returns the path of the license record file
func (c *Config) LicenseFile() string {
	return filepath.Join(c.Paths.ConfigDir, "license.json")
}
