// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Sections are separated by a double underscore: EVENTNOTIFY_DATABASE__URL.
const EnvPrefix = "EVENTNOTIFY_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Signing       SigningConfig       `koanf:"signing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig contains event notification settings.
type NotificationsConfig struct {
	TokenIssuer  string         `koanf:"token_issuer" validate:"required"`
	SetsToReturn int            `koanf:"sets_to_return" validate:"gte=1"`
	Generator    string         `koanf:"generator" validate:"required"`
	Realtime     RealtimeConfig `koanf:"realtime"`
}

// RealtimeConfig contains settings of the callback delivery workers.
type RealtimeConfig struct {
	Enabled               bool          `koanf:"enabled"`
	Workers               int           `koanf:"workers" validate:"gte=1"`
	QueueSize             int           `koanf:"queue_size" validate:"gte=1"`
	MaxRetries            int           `koanf:"max_retries" validate:"gte=0"`
	InitialBackoff        time.Duration `koanf:"initial_backoff"`
	BackoffFunction       string        `koanf:"backoff_function" validate:"oneof=EX LINEAR CONSTANT"`
	CircuitBreakerTimeout time.Duration `koanf:"circuit_breaker_timeout"`
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	RateLimit             float64       `koanf:"rate_limit" validate:"gte=0"`
}

// SigningConfig contains token signing settings.
type SigningConfig struct {
	Algorithm      string `koanf:"algorithm" validate:"oneof=HS256 RS256 PS256"`
	SecretKey      string `koanf:"secret_key" validate:"required_if=Algorithm HS256"`
	PrivateKeyPath string `koanf:"private_key_path" validate:"required_unless=Algorithm HS256"`
	KeyID          string `koanf:"key_id"`
}

// Default returns the configuration used when nothing overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			TokenIssuer:  "www.wso2.com",
			SetsToReturn: 5,
			Generator:    "default",
			Realtime: RealtimeConfig{
				Enabled:               false,
				Workers:               2,
				QueueSize:             100,
				MaxRetries:            5,
				InitialBackoff:        time.Second,
				BackoffFunction:       "EX",
				CircuitBreakerTimeout: 60 * time.Second,
				RequestTimeout:        10 * time.Second,
			},
		},
		Signing: SigningConfig{
			Algorithm: "HS256",
		},
	}
}

// Load reads configuration from the optional YAML file at path and from
// EVENTNOTIFY_ environment variables. Environment wins over the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for missing or out-of-range values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// envKey maps EVENTNOTIFY_NOTIFICATIONS__REALTIME__MAX_RETRIES to
// notifications.realtime.max_retries.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
