package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath string
	LogLevel   string
	Listen     string // overrides the single default ROUTER listener's endpoint
	MaxSockets int
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./slk.toml", "Path to configuration file")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Listen, "listen", "", "Listen endpoint for the default ROUTER listener")
	flag.IntVar(&f.MaxSockets, "max-sockets", 0, "Maximum concurrently open sockets")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If the
// file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeConfig(cfg, fileConfig)
	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Listen != "" && len(cfg.Listeners) > 0 {
		cfg.Listeners[0].Endpoint = f.Listen
	}

	if f.MaxSockets > 0 {
		cfg.Context.MaxSockets = f.MaxSockets
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from the parsed file into dst.
func mergeConfig(dst Config, src FileConfig) Config {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Context.IOThreads > 0 {
		dst.Context.IOThreads = src.Context.IOThreads
	}
	if src.Context.MaxSockets > 0 {
		dst.Context.MaxSockets = src.Context.MaxSockets
	}

	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
