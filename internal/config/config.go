// Package config provides configuration management for a ServerLink
// deployment: the io-thread/socket-limit context tuning, the set of
// listeners/connectors to wire up at startup, and metrics exposition.
package config

import (
	"errors"
	"fmt"
	"time"
)

// FileConfig is the top-level TOML document shape.
type FileConfig struct {
	LogLevel  string           `toml:"log_level"`
	Context   ContextConfig    `toml:"context"`
	Listeners []ListenerConfig `toml:"listeners"`
	Metrics   MetricsConfig    `toml:"metrics"`
}

// Config is the resolved, validated configuration used by cmd/slkd.
type Config struct {
	LogLevel  string           `toml:"log_level"`
	Context   ContextConfig    `toml:"context"`
	Listeners []ListenerConfig `toml:"listeners"`
	Metrics   MetricsConfig    `toml:"metrics"`
}

// ContextConfig tunes the internal/zctx.Context a process creates: the number of background io-threads servicing engines, and an
// upper bound on concurrently open sockets.
type ContextConfig struct {
	IOThreads  int `toml:"io_threads"`
	MaxSockets int `toml:"max_sockets"`
}

// Role distinguishes a listener that binds and accepts from one that
// dials out.
type Role string

const (
	RoleBind    Role = "bind"
	RoleConnect Role = "connect"
)

// ListenerConfig describes one socket to create and wire up at startup:
// its pattern type, its endpoint, and whether that endpoint is bound or
// connected to.
type ListenerConfig struct {
	SocketType string   `toml:"socket_type"` // ROUTER, DEALER, PAIR, PUB, SUB, XPUB, XSUB
	Endpoint   string   `toml:"endpoint"`    // tcp://, ipc://, or inproc://
	Role       Role     `toml:"role"`
	Identity   string   `toml:"identity"`    // this socket's own routing id, if any
	Subscribe  []string `toml:"subscribe"`   // initial topics (SUB/XSUB only)

	HeartbeatIvl     string `toml:"heartbeat_ivl"`
	HeartbeatTimeout string `toml:"heartbeat_timeout"`
	SndHWM           int    `toml:"snd_hwm"`
	RcvHWM           int    `toml:"rcv_hwm"`
}

// MetricsConfig holds configuration for Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

var validSocketTypes = map[string]bool{
	"ROUTER": true, "DEALER": true, "PAIR": true,
	"PUB": true, "SUB": true, "XPUB": true, "XSUB": true,
}

// Default returns a Config with sensible default values: one bound
// ROUTER listener on tcp://127.0.0.1:5555, metrics disabled.
func Default() Config {
	return Config{
		LogLevel: "info",
		Context: ContextConfig{
			IOThreads:  1,
			MaxSockets: 1024,
		},
		Listeners: []ListenerConfig{
			{SocketType: "ROUTER", Endpoint: "tcp://127.0.0.1:5555", Role: RoleBind},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is structurally sound.
func (c *Config) Validate() error {
	if c.Context.IOThreads <= 0 {
		return errors.New("context.io_threads must be positive")
	}
	if c.Context.MaxSockets <= 0 {
		return errors.New("context.max_sockets must be positive")
	}
	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	for i, l := range c.Listeners {
		if l.Endpoint == "" {
			return fmt.Errorf("listener %d: endpoint is required", i)
		}
		if !validSocketTypes[l.SocketType] {
			return fmt.Errorf("listener %d: invalid socket_type %q", i, l.SocketType)
		}
		if l.Role != RoleBind && l.Role != RoleConnect {
			return fmt.Errorf("listener %d: role must be %q or %q", i, RoleBind, RoleConnect)
		}
		if len(l.Subscribe) > 0 && l.SocketType != "SUB" && l.SocketType != "XSUB" {
			return fmt.Errorf("listener %d: subscribe is only valid for SUB/XSUB", i)
		}
		if l.HeartbeatIvl != "" {
			if _, err := time.ParseDuration(l.HeartbeatIvl); err != nil {
				return fmt.Errorf("listener %d: invalid heartbeat_ivl: %w", i, err)
			}
		}
		if l.HeartbeatTimeout != "" {
			if _, err := time.ParseDuration(l.HeartbeatTimeout); err != nil {
				return fmt.Errorf("listener %d: invalid heartbeat_timeout: %w", i, err)
			}
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// HeartbeatIvlDuration returns the configured heartbeat interval, or 0
// (disabled) if unset or invalid.
func (l *ListenerConfig) HeartbeatIvlDuration() time.Duration {
	d, err := time.ParseDuration(l.HeartbeatIvl)
	if err != nil {
		return 0
	}
	return d
}

// HeartbeatTimeoutDuration returns the configured heartbeat timeout, or 0
// (disabled) if unset or invalid.
func (l *ListenerConfig) HeartbeatTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(l.HeartbeatTimeout)
	if err != nil {
		return 0
	}
	return d
}
