package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}

	if cfg.Context.IOThreads != 1 {
		t.Errorf("expected io_threads 1, got %d", cfg.Context.IOThreads)
	}

	if cfg.Context.MaxSockets != 1024 {
		t.Errorf("expected max_sockets 1024, got %d", cfg.Context.MaxSockets)
	}

	if len(cfg.Listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(cfg.Listeners))
	}

	if cfg.Listeners[0].SocketType != "ROUTER" {
		t.Errorf("expected listener socket_type 'ROUTER', got %q", cfg.Listeners[0].SocketType)
	}

	if cfg.Listeners[0].Role != RoleBind {
		t.Errorf("expected listener role 'bind', got %q", cfg.Listeners[0].Role)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero io_threads",
			modify:  func(c *Config) { c.Context.IOThreads = 0 },
			wantErr: true,
		},
		{
			name:    "zero max_sockets",
			modify:  func(c *Config) { c.Context.MaxSockets = 0 },
			wantErr: true,
		},
		{
			name:    "no listeners",
			modify:  func(c *Config) { c.Listeners = nil },
			wantErr: true,
		},
		{
			name: "listener with empty endpoint",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Endpoint: "", SocketType: "ROUTER", Role: RoleBind}}
			},
			wantErr: true,
		},
		{
			name: "listener with invalid socket_type",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Endpoint: "tcp://:5555", SocketType: "PUSH", Role: RoleBind}}
			},
			wantErr: true,
		},
		{
			name: "listener with invalid role",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Endpoint: "tcp://:5555", SocketType: "ROUTER", Role: "nope"}}
			},
			wantErr: true,
		},
		{
			name: "subscribe on non-subscriber socket type",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{
					Endpoint: "tcp://:5555", SocketType: "ROUTER", Role: RoleBind,
					Subscribe: []string{"topic"},
				}}
			},
			wantErr: true,
		},
		{
			name: "valid SUB with subscriptions",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{
					Endpoint: "tcp://127.0.0.1:6000", SocketType: "SUB", Role: RoleConnect,
					Subscribe: []string{"topic"},
				}}
			},
			wantErr: false,
		},
		{
			name: "invalid heartbeat_ivl",
			modify: func(c *Config) {
				c.Listeners[0].HeartbeatIvl = "not-a-duration"
			},
			wantErr: true,
		},
		{
			name: "invalid heartbeat_timeout",
			modify: func(c *Config) {
				c.Listeners[0].HeartbeatTimeout = "not-a-duration"
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestListenerHeartbeatDurations(t *testing.T) {
	tests := []struct {
		ivl      string
		timeout  string
		wantIvl  time.Duration
		wantOut  time.Duration
	}{
		{"5s", "30s", 5 * time.Second, 30 * time.Second},
		{"", "", 0, 0},
		{"invalid", "invalid", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.ivl+"/"+tt.timeout, func(t *testing.T) {
			l := ListenerConfig{HeartbeatIvl: tt.ivl, HeartbeatTimeout: tt.timeout}
			if got := l.HeartbeatIvlDuration(); got != tt.wantIvl {
				t.Errorf("HeartbeatIvlDuration() = %v, want %v", got, tt.wantIvl)
			}
			if got := l.HeartbeatTimeoutDuration(); got != tt.wantOut {
				t.Errorf("HeartbeatTimeoutDuration() = %v, want %v", got, tt.wantOut)
			}
		})
	}
}
