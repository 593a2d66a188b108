package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/slk.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	expected := Default()
	if cfg.LogLevel != expected.LogLevel {
		t.Errorf("expected log_level %q, got %q", expected.LogLevel, cfg.LogLevel)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
log_level = "debug"

[context]
io_threads = 2
max_sockets = 4096

[[listeners]]
socket_type = "ROUTER"
endpoint = "tcp://0.0.0.0:5555"
role = "bind"
identity = "server-a"

[[listeners]]
socket_type = "SUB"
endpoint = "tcp://upstream:6000"
role = "connect"
subscribe = ["weather", "sports"]
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", cfg.LogLevel)
	}

	if cfg.Context.IOThreads != 2 {
		t.Errorf("context.io_threads = %d, want 2", cfg.Context.IOThreads)
	}

	if cfg.Context.MaxSockets != 4096 {
		t.Errorf("context.max_sockets = %d, want 4096", cfg.Context.MaxSockets)
	}

	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}

	if cfg.Listeners[0].SocketType != "ROUTER" || cfg.Listeners[0].Role != RoleBind {
		t.Errorf("listener[0] = %+v, want socket_type=ROUTER role=bind", cfg.Listeners[0])
	}

	if cfg.Listeners[1].SocketType != "SUB" || len(cfg.Listeners[1].Subscribe) != 2 {
		t.Errorf("listener[1] = %+v, want socket_type=SUB with 2 subscriptions", cfg.Listeners[1])
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
[context
io_threads = "broken
`

	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
log_level = "warn"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn'", cfg.LogLevel)
	}

	defaults := Default()
	if cfg.Context.MaxSockets != defaults.Context.MaxSockets {
		t.Errorf("max_sockets = %d, want default %d", cfg.Context.MaxSockets, defaults.Context.MaxSockets)
	}
	if len(cfg.Listeners) != len(defaults.Listeners) {
		t.Errorf("listeners = %+v, want defaults %+v", cfg.Listeners, defaults.Listeners)
	}
}

func TestLoadMetricsConfig(t *testing.T) {
	content := `
[metrics]
enabled = true
address = ":9200"
path = "/custom-metrics"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}

	if cfg.Metrics.Address != ":9200" {
		t.Errorf("metrics.address = %q, want ':9200'", cfg.Metrics.Address)
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("metrics.path = %q, want '/custom-metrics'", cfg.Metrics.Path)
	}
}

func TestLoadMetricsConfigPartial(t *testing.T) {
	content := `
[metrics]
enabled = true
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}

	defaults := Default()
	if cfg.Metrics.Address != defaults.Metrics.Address {
		t.Errorf("metrics.address = %q, want default %q", cfg.Metrics.Address, defaults.Metrics.Address)
	}
	if cfg.Metrics.Path != defaults.Metrics.Path {
		t.Errorf("metrics.path = %q, want default %q", cfg.Metrics.Path, defaults.Metrics.Path)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()

	flags := &Flags{
		LogLevel:   "debug",
		Listen:     "tcp://0.0.0.0:7777",
		MaxSockets: 2048,
	}

	result := ApplyFlags(cfg, flags)

	if result.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", result.LogLevel)
	}

	if result.Listeners[0].Endpoint != "tcp://0.0.0.0:7777" {
		t.Errorf("listener[0].endpoint = %q, want 'tcp://0.0.0.0:7777'", result.Listeners[0].Endpoint)
	}

	if result.Context.MaxSockets != 2048 {
		t.Errorf("max_sockets = %d, want 2048", result.Context.MaxSockets)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.Context.MaxSockets = 50

	flags := &Flags{}

	result := ApplyFlags(cfg, flags)

	if result.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn' (should not be overridden)", result.LogLevel)
	}

	if result.Context.MaxSockets != 50 {
		t.Errorf("max_sockets = %d, want 50 (should not be overridden)", result.Context.MaxSockets)
	}
}

func TestFlagPriorityOverConfig(t *testing.T) {
	content := `
log_level = "info"

[context]
max_sockets = 100
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	flags := &Flags{
		Listen:     "tcp://0.0.0.0:9999",
		MaxSockets: 50,
	}

	result := ApplyFlags(cfg, flags)

	if result.Listeners[0].Endpoint != "tcp://0.0.0.0:9999" {
		t.Errorf("endpoint = %q, want override", result.Listeners[0].Endpoint)
	}

	if result.Context.MaxSockets != 50 {
		t.Errorf("max_sockets = %d, want 50 (flag should override)", result.Context.MaxSockets)
	}

	if result.LogLevel != "info" {
		t.Errorf("log_level = %q, want 'info' (config value should remain)", result.LogLevel)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "slk.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}
