// Package config loads the game server configuration from defaults, an
// optional YAML file, and environment variables, in that order of
// precedence (later wins). Command-line flags are applied on top by main.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	// DefaultListenAddr is the TCP listen address for client streams.
	DefaultListenAddr = "10.0.0.84:9997"

	// DefaultDatagramAddr is the UDP listen address for the shared
	// datagram socket.
	DefaultDatagramAddr = ":9998"

	// DefaultMaxClients is the maximum number of concurrently bound
	// sessions. Raw in-flight handshakes are not counted against it.
	DefaultMaxClients = 9

	// DefaultSharedSecret is the build-time HMAC key used when no secret
	// is supplied by configuration. Deployments are expected to override it.
	DefaultSharedSecret = "mythos-dev-shared-secret"

	// DefaultWelcome is the greeting line sent after authentication.
	DefaultWelcome = "Welcome to the realm."

	// DefaultHandshakeTimeout bounds the wait for the datagram half of the
	// handshake after the stream line is sent.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultAuthTimeout bounds the full challenge-response exchange.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultStopGrace bounds each component's stop during shutdown.
	DefaultStopGrace = 2 * time.Second
)

// Config holds the game server configuration.
// All fields have sensible defaults that can be overridden.
type Config struct {
	// ListenAddr is the TCP address to listen on for client streams.
	ListenAddr string `mapstructure:"listen_addr"`

	// DatagramAddr is the UDP address the shared datagram socket binds to.
	DatagramAddr string `mapstructure:"datagram_addr"`

	// MaxClients caps concurrently bound sessions (0 = no limit).
	MaxClients int `mapstructure:"max_clients"`

	// SharedSecret is the HMAC key for challenge-response authentication.
	SharedSecret string `mapstructure:"shared_secret"`

	// Welcome is the greeting line sent after AUTH_SUCCESS.
	Welcome string `mapstructure:"welcome"`

	// HandshakeTimeout is the maximum wait for the handshake datagram.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// AuthTimeout is the maximum duration of the auth exchange.
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`

	// StopGrace is the per-component shutdown grace window.
	StopGrace time.Duration `mapstructure:"stop_grace"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		DatagramAddr:     DefaultDatagramAddr,
		MaxClients:       DefaultMaxClients,
		SharedSecret:     DefaultSharedSecret,
		Welcome:          DefaultWelcome,
		HandshakeTimeout: DefaultHandshakeTimeout,
		AuthTimeout:      DefaultAuthTimeout,
		StopGrace:        DefaultStopGrace,
	}
}

// Load reads configuration from the given file (optional, "" to skip) and
// from GAME_* environment variables, layered over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("datagram_addr", def.DatagramAddr)
	v.SetDefault("max_clients", def.MaxClients)
	v.SetDefault("shared_secret", def.SharedSecret)
	v.SetDefault("welcome", def.Welcome)
	v.SetDefault("handshake_timeout", def.HandshakeTimeout)
	v.SetDefault("auth_timeout", def.AuthTimeout)
	v.SetDefault("stop_grace", def.StopGrace)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("GAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &Error{Field: "listen_addr", Message: "cannot be empty"}
	}
	if c.DatagramAddr == "" {
		return &Error{Field: "datagram_addr", Message: "cannot be empty"}
	}
	if c.MaxClients < 0 {
		return &Error{Field: "max_clients", Message: "cannot be negative"}
	}
	if c.SharedSecret == "" {
		return &Error{Field: "shared_secret", Message: "cannot be empty"}
	}
	if c.HandshakeTimeout <= 0 {
		return &Error{Field: "handshake_timeout", Message: "must be positive"}
	}
	if c.AuthTimeout <= 0 {
		return &Error{Field: "auth_timeout", Message: "must be positive"}
	}
	if c.StopGrace <= 0 {
		return &Error{Field: "stop_grace", Message: "must be positive"}
	}
	return nil
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
