// Package config loads relay configuration from an optional YAML file with
// environment variable overrides. Precedence is defaults, then file, then
// environment, mirroring how the spawned workers themselves receive their
// state-directory location through the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by Load and exported to spawned workers.
const (
	EnvStateDir = "AGENTRELAY_STATE_DIR"
	EnvWorkDir  = "AGENTRELAY_WORKDIR"
	EnvLogLevel = "AGENTRELAY_LOG_LEVEL"
)

// Duration wraps time.Duration so YAML values can be written in the usual
// "30s" / "2m" form.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WorkerConfig describes how to spawn one worker process.
type WorkerConfig struct {
	// Command is the executable to spawn.
	Command string `yaml:"command"`
	// Args are passed verbatim to the executable.
	Args []string `yaml:"args,omitempty"`
	// Dir is the worker's working directory; empty inherits the relay's.
	Dir string `yaml:"dir,omitempty"`
}

// Config is the full relay configuration.
type Config struct {
	// StateDir roots the durable bus: session pointer, channel logs,
	// sentinels and pool documents all live beneath it.
	StateDir string `yaml:"state_dir"`

	// Workers maps a worker name to its spawn definition.
	Workers map[string]WorkerConfig `yaml:"workers,omitempty"`

	// RequestTimeout bounds each RPC round trip.
	RequestTimeout Duration `yaml:"request_timeout"`

	// PollInterval is the cadence for bus polling consumers.
	PollInterval Duration `yaml:"poll_interval"`

	// HeartbeatMaxAge is the freshness window for liveness sentinels.
	HeartbeatMaxAge Duration `yaml:"heartbeat_max_age"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration: state under the user config
// directory, 30s request timeout, 1s polling, 15s heartbeat window.
func Default() Config {
	stateDir := ".agentrelay"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".agentrelay")
	}
	return Config{
		StateDir:        stateDir,
		RequestTimeout:  Duration(30 * time.Second),
		PollInterval:    Duration(time.Second),
		HeartbeatMaxAge: Duration(15 * time.Second),
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus environment only.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvStateDir); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations the relay cannot run with.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HeartbeatMaxAge <= 0 {
		return fmt.Errorf("heartbeat_max_age must be positive")
	}
	for name, w := range c.Workers {
		if w.Command == "" {
			return fmt.Errorf("worker %q has no command", name)
		}
	}
	return nil
}
