// Package config loads mini-socket settings from the environment.
package config

import (
	"fmt"
	"time"

	"mini-socket/protocol"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Socket    SocketConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Registry  RegistryConfig
	Server    ServerConfig
}

// SocketConfig holds client connection configuration.
type SocketConfig struct {
	URI              string        `envconfig:"SOCKET_URI" default:""`
	Service          string        `envconfig:"SOCKET_SERVICE" default:""`
	ErrorType        string        `envconfig:"SOCKET_ERROR_TYPE" default:"ERROR"`
	ErrorField       string        `envconfig:"SOCKET_ERROR_FIELD" default:"error"`
	Codec            string        `envconfig:"SOCKET_CODEC" default:"json"`
	ReconnectDelay   time.Duration `envconfig:"SOCKET_RECONNECT_DELAY" default:"1s"`
	HandshakeTimeout time.Duration `envconfig:"SOCKET_HANDSHAKE_TIMEOUT" default:"5s"`
	PingInterval     time.Duration `envconfig:"SOCKET_PING_INTERVAL" default:"30s"`
	RequestTimeout   time.Duration `envconfig:"SOCKET_REQUEST_TIMEOUT" default:"0s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds outbound rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
}

// RegistryConfig holds etcd discovery configuration. Discovery is off when Endpoints is empty.
type RegistryConfig struct {
	Endpoints   []string      `envconfig:"ETCD_ENDPOINTS"`
	DialTimeout time.Duration `envconfig:"ETCD_DIAL_TIMEOUT" default:"5s"`
	TTL         int64         `envconfig:"REGISTRY_TTL" default:"10"`
}

// ServerConfig holds reference server configuration.
type ServerConfig struct {
	Addr         string `envconfig:"SERVER_ADDR" default:":8080"`
	AdvertiseURI string `envconfig:"SERVER_ADVERTISE_URI" default:""`
	Service      string `envconfig:"SERVER_SERVICE" default:"mini-socket"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			ErrorType:        protocol.DefaultErrorType,
			ErrorField:       protocol.DefaultErrorField,
			Codec:            "json",
			ReconnectDelay:   time.Second,
			HandshakeTimeout: 5 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           false,
		},
		Registry: RegistryConfig{
			DialTimeout: 5 * time.Second,
			TTL:         10,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Service: "mini-socket",
		},
	}
}

// ErrorPolicy returns the reply failure discriminator.
func (c *Config) ErrorPolicy() protocol.ErrorPolicy {
	return protocol.ErrorPolicy{Type: c.Socket.ErrorType, Field: c.Socket.ErrorField}
}

// DiscoveryEnabled reports whether etcd endpoints are configured.
func (c *Config) DiscoveryEnabled() bool {
	return len(c.Registry.Endpoints) > 0
}
