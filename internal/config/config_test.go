package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/pidtable"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Kernel config
	assert.Equal(t, 250, cfg.Kernel.PidMax)
	assert.Equal(t, 128, cfg.Kernel.OpenMax)
	assert.Equal(t, "wait", cfg.Kernel.ReapMode)
	assert.Zero(t, cfg.Kernel.MemPages)
	assert.Equal(t, 65536, cfg.Kernel.ArgMax)
	assert.Equal(t, 1024, cfg.Kernel.PathMax)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Debug config
	assert.False(t, cfg.Debug.Enabled)
	assert.Equal(t, ":9090", cfg.Debug.Addr)
	assert.Equal(t, 20, cfg.Debug.RequestsPerSecond)
	assert.Equal(t, 40, cfg.Debug.Burst)

	require.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"KERNEL_PID_MAX":   "64",
		"KERNEL_OPEN_MAX":  "16",
		"KERNEL_REAP_MODE": "exit",
		"KERNEL_MEM_PAGES": "512",
		"KERNEL_ARG_MAX":   "4096",
		"KERNEL_PATH_MAX":  "256",
		"LOG_LEVEL":        "debug",
		"LOG_DEV":          "true",
		"DEBUG_ENABLED":    "true",
		"DEBUG_ADDR":       "127.0.0.1:7070",
		"DEBUG_RPS":        "5",
		"DEBUG_BURST":      "10",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Kernel.PidMax)
	assert.Equal(t, 16, cfg.Kernel.OpenMax)
	assert.Equal(t, 512, cfg.Kernel.MemPages)
	assert.Equal(t, 4096, cfg.Kernel.ArgMax)
	assert.Equal(t, 256, cfg.Kernel.PathMax)
	mode, err := cfg.ReapMode()
	require.NoError(t, err)
	assert.Equal(t, pidtable.ReapOnExit, mode)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.True(t, cfg.Debug.Enabled)
	assert.Equal(t, "127.0.0.1:7070", cfg.Debug.Addr)
	assert.Equal(t, 5, cfg.Debug.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Debug.Burst)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "not a number", key: "KERNEL_PID_MAX", value: "lots"},
		{name: "pid max too small", key: "KERNEL_PID_MAX", value: "1"},
		{name: "no room for console", key: "KERNEL_OPEN_MAX", value: "2"},
		{name: "unknown reap mode", key: "KERNEL_REAP_MODE", value: "never"},
		{name: "negative memory", key: "KERNEL_MEM_PAGES", value: "-1"},
		{name: "zero arg max", key: "KERNEL_ARG_MAX", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestDebugLimitsCheckedOnlyWhenEnabled(t *testing.T) {
	t.Setenv("DEBUG_RPS", "0")
	_, err := Load()
	require.NoError(t, err)

	t.Setenv("DEBUG_ENABLED", "true")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kernel:
  pid_max: 32
  reap_mode: exit
debug:
  enabled: true
  addr: "localhost:6060"
`), 0o644))

	t.Setenv("KERNEL_PID_MAX", "100")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// The file wins where it says something; the environment fills the rest.
	assert.Equal(t, 32, cfg.Kernel.PidMax)
	assert.Equal(t, "exit", cfg.Kernel.ReapMode)
	assert.Equal(t, 128, cfg.Kernel.OpenMax)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Debug.Enabled)
	assert.Equal(t, "localhost:6060", cfg.Debug.Addr)
	assert.Equal(t, 20, cfg.Debug.RequestsPerSecond)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("kernel: [unclosed"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("kernel:\n  pid_max: 1\n"), 0o644))
	_, err = LoadFile(invalid)
	assert.ErrorContains(t, err, "pid_max")
}
