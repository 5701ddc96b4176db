// Package config provides configuration management for Architex.
// Settings come from an optional YAML file overlaid with environment
// variables carrying the ARCHITEX_ prefix; every option has a default so the
// server starts with no configuration at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/romcoding/architex/pkg/types"
)

// Storage engines.
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Security modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds all configuration settings for the Architex application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Search   SearchConfig   `yaml:"search"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address. Env var: ARCHITEX_HOST
	Host string `yaml:"host" env:"ARCHITEX_HOST" env-default:"127.0.0.1"`
	// Port is the listen port. Env var: ARCHITEX_PORT
	Port int `yaml:"port" env:"ARCHITEX_PORT" env-default:"8000"`
	// AllowedOrigins lists CORS origins, comma separated.
	// Env var: ARCHITEX_ALLOWED_ORIGINS
	AllowedOrigins []string `yaml:"allowed_origins" env:"ARCHITEX_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	// RateLimit is the sustained request rate per client in requests per
	// second. Env var: ARCHITEX_RATE_LIMIT
	RateLimit float64 `yaml:"rate_limit" env:"ARCHITEX_RATE_LIMIT" env-default:"20"`
	// Burst is the token bucket size per client. Env var: ARCHITEX_RATE_BURST
	Burst int `yaml:"burst" env:"ARCHITEX_RATE_BURST" env-default:"40"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine is one of memory, sqlite, postgres. Env var: ARCHITEX_STORAGE_ENGINE
	Engine string `yaml:"engine" env:"ARCHITEX_STORAGE_ENGINE" env-default:"sqlite"`
	// DataPath is the directory holding the SQLite database.
	// Env var: ARCHITEX_DATA_PATH
	DataPath string `yaml:"data_path" env:"ARCHITEX_DATA_PATH" env-default:"./data"`
	// PostgresDSN is the connection string for the postgres engine. Secret,
	// environment only. Env var: ARCHITEX_POSTGRES_DSN
	PostgresDSN string `yaml:"-" env:"ARCHITEX_POSTGRES_DSN"`
	// Timeout bounds every storage call. Env var: ARCHITEX_STORAGE_TIMEOUT
	Timeout time.Duration `yaml:"timeout" env:"ARCHITEX_STORAGE_TIMEOUT" env-default:"5s"`
	// BreakerMaxFailures trips the storage circuit breaker.
	// Env var: ARCHITEX_BREAKER_MAX_FAILURES
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures" env:"ARCHITEX_BREAKER_MAX_FAILURES" env-default:"5"`
	// BreakerCooldown is how long a tripped breaker stays open.
	// Env var: ARCHITEX_BREAKER_COOLDOWN
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" env:"ARCHITEX_BREAKER_COOLDOWN" env-default:"30s"`
	// UsageEventRetention is how long SQL stores remember usage event IDs
	// for retry dedupe. Env var: ARCHITEX_USAGE_EVENT_RETENTION
	UsageEventRetention time.Duration `yaml:"usage_event_retention" env:"ARCHITEX_USAGE_EVENT_RETENTION" env-default:"24h"`
}

// SQLitePath returns the database file inside DataPath.
func (s StorageConfig) SQLitePath() string {
	return strings.TrimRight(s.DataPath, "/") + "/architex.db"
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// Mode is development or production. Development lets unauthenticated
	// requests act as the development principal. Env var: ARCHITEX_SECURITY_MODE
	Mode string `yaml:"mode" env:"ARCHITEX_SECURITY_MODE" env-default:"development"`
	// JWTSecret signs bearer tokens. Secret, environment only.
	// Env var: ARCHITEX_JWT_SECRET
	JWTSecret string `yaml:"-" env:"ARCHITEX_JWT_SECRET"`
	// TokenTTL is the lifetime of issued tokens. Env var: ARCHITEX_TOKEN_TTL
	TokenTTL time.Duration `yaml:"token_ttl" env:"ARCHITEX_TOKEN_TTL" env-default:"24h"`
	// DevPrincipalID and DevPrincipalRole identify the development principal.
	// Env vars: ARCHITEX_DEV_PRINCIPAL_ID, ARCHITEX_DEV_PRINCIPAL_ROLE
	DevPrincipalID   string `yaml:"dev_principal_id" env:"ARCHITEX_DEV_PRINCIPAL_ID" env-default:"user-123"`
	DevPrincipalRole string `yaml:"dev_principal_role" env:"ARCHITEX_DEV_PRINCIPAL_ROLE" env-default:"architect"`
}

// DevPrincipal returns the development principal.
func (s SecurityConfig) DevPrincipal() types.Principal {
	return types.Principal{ID: s.DevPrincipalID, Role: types.Role(s.DevPrincipalRole)}
}

// SearchConfig tunes search and analytics.
type SearchConfig struct {
	// DefaultLimit applies to queries without a limit.
	// Env var: ARCHITEX_SEARCH_DEFAULT_LIMIT
	DefaultLimit int `yaml:"default_limit" env:"ARCHITEX_SEARCH_DEFAULT_LIMIT" env-default:"20"`
	// TopUsage is the length of the most-used list in the analytics summary.
	// Env var: ARCHITEX_ANALYTICS_TOP_USAGE
	TopUsage int `yaml:"top_usage" env:"ARCHITEX_ANALYTICS_TOP_USAGE" env-default:"5"`
}

// LogConfig selects the logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Env var: ARCHITEX_LOG_LEVEL
	Level string `yaml:"level" env:"ARCHITEX_LOG_LEVEL" env-default:"info"`
	// Format is json or console. Env var: ARCHITEX_LOG_FORMAT
	Format string `yaml:"format" env:"ARCHITEX_LOG_FORMAT" env-default:"json"`
}

// Load reads configuration. When path is non-empty the YAML file is read
// first and environment variables override it; otherwise only the
// environment and defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("config: %w", statErr)
		}
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to load: %w", err)
	}

	cfg.Storage.Engine = strings.ToLower(strings.TrimSpace(cfg.Storage.Engine))
	cfg.Security.Mode = strings.ToLower(strings.TrimSpace(cfg.Security.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Engine {
	case EngineMemory, EngineSQLite:
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: ARCHITEX_POSTGRES_DSN is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown engine %q", c.Storage.Engine))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage: timeout must be positive"))
	}
	if c.Storage.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("storage: breaker cooldown must be positive"))
	}

	switch c.Security.Mode {
	case ModeDevelopment:
		if !c.Security.DevPrincipal().Valid() {
			errs = append(errs, fmt.Errorf("security: invalid development principal %q/%q",
				c.Security.DevPrincipalID, c.Security.DevPrincipalRole))
		}
	case ModeProduction:
		if len(c.Security.JWTSecret) < 16 {
			errs = append(errs, errors.New("security: ARCHITEX_JWT_SECRET of at least 16 bytes is required in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("security: unknown mode %q", c.Security.Mode))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst < 1 {
		errs = append(errs, errors.New("server: rate limit and burst must be positive"))
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > types.MaxSearchLimit {
		errs = append(errs, fmt.Errorf("search: default limit must be between 1 and %d", types.MaxSearchLimit))
	}
	if c.Search.TopUsage < 1 {
		errs = append(errs, errors.New("search: top usage must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether unauthenticated requests are allowed.
func (c *Config) IsDevelopment() bool {
	return c.Security.Mode == ModeDevelopment
}
