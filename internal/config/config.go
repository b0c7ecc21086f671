package config

import (
	"errors"
	"fmt"
	"time"
)

// Store drivers.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverPebble = "pebble"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	StoreDriver  string        `mapstructure:"store_driver" yaml:"store_driver"`
	DatabasePath string        `mapstructure:"database_path" yaml:"database_path"`
	PebblePath   string        `mapstructure:"pebble_path" yaml:"pebble_path"`
	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	RequireAuth bool          `mapstructure:"require_auth" yaml:"require_auth"`

	// PresenceFanout is "watchers" or "broadcast".
	PresenceFanout  string  `mapstructure:"presence_fanout" yaml:"presence_fanout"`
	WSRateLimit     float64 `mapstructure:"ws_rate_limit" yaml:"ws_rate_limit"`
	WSRateBurst     int     `mapstructure:"ws_rate_burst" yaml:"ws_rate_burst"`
	MaxMessageBytes int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	// NATSURL enables the presence mirror when set.
	NATSURL     string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject" yaml:"nats_subject"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		StoreDriver:       StoreDriverSQLite,
		DatabasePath:      "wirerelay.db",
		PebblePath:        "wirerelay-data",
		StoreTimeout:      5 * time.Second,
		JWTSecret:         "change-me",
		JWTIssuer:         "wirerelay",
		JWTAudience:       "wirerelay-clients",
		JWTTTL:            24 * time.Hour,
		PresenceFanout:    "watchers",
		WSRateLimit:       20,
		WSRateBurst:       40,
		MaxMessageBytes:   64 << 10,
		NATSSubject:       "presence",
		MetricsEnabled:    true,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Booleans cannot be reset to false this way.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreDriver != "" {
		c.StoreDriver = other.StoreDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.PebblePath != "" {
		c.PebblePath = other.PebblePath
	}
	if other.StoreTimeout != 0 {
		c.StoreTimeout = other.StoreTimeout
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.RequireAuth {
		c.RequireAuth = true
	}
	if other.PresenceFanout != "" {
		c.PresenceFanout = other.PresenceFanout
	}
	if other.WSRateLimit != 0 {
		c.WSRateLimit = other.WSRateLimit
	}
	if other.WSRateBurst != 0 {
		c.WSRateBurst = other.WSRateBurst
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.NATSURL != "" {
		c.NATSURL = other.NATSURL
	}
	if other.NATSSubject != "" {
		c.NATSSubject = other.NATSSubject
	}
	if other.MetricsEnabled {
		c.MetricsEnabled = true
	}
}

// Validate reports configuration values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.StoreDriver {
	case StoreDriverSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for sqlite"))
		}
	case StoreDriverPebble:
		if c.PebblePath == "" {
			errs = append(errs, errors.New("pebble_path is required for pebble"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store_timeout must be positive"))
	}
	if c.RequireAuth && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when require_auth is set"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}
	return errors.Join(errs...)
}
