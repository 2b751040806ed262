package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.StateDir)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout.Std())
	assert.Equal(t, time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatMaxAge.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().RequestTimeout, cfg.RequestTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
state_dir: /tmp/relay-state
request_timeout: 5s
poll_interval: 250ms
heartbeat_max_age: 30s
log_level: debug
workers:
  echo:
    command: echo-worker
    args: ["--verbose"]
    dir: /tmp/work
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/relay-state", cfg.StateDir)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval.Std())
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Contains(t, cfg.Workers, "echo")
	assert.Equal(t, "echo-worker", cfg.Workers["echo"].Command)
	assert.Equal(t, []string{"--verbose"}, cfg.Workers["echo"].Args)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvStateDir, "/tmp/env-state")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-state", cfg.StateDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejections(t *testing.T) {
	cfg := Default()
	cfg.StateDir = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RequestTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers = map[string]WorkerConfig{"bad": {}}
	assert.Error(t, cfg.Validate())
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	v, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", v)
}
