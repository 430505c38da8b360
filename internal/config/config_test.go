package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSettingString(t *testing.T) {
	tests := []struct {
		name string
		ws   WorkerSetting
		want string
	}{
		{"auto mode", WorkerSetting{Mode: WorkersAuto}, "auto"},
		{"fixed mode 4", WorkerSetting{Mode: WorkersFixed, Value: 4}, "4"},
		{"fixed mode 0", WorkerSetting{Mode: WorkersFixed, Value: 0}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ws.String()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STUBRESOLVE_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.53", cfg.Listen.PrimaryAddress)
	assert.Equal(t, 53, cfg.Listen.PrimaryPort)
	assert.Equal(t, WorkersAuto, cfg.Listen.Workers.Mode)
	assert.Equal(t, "8.8.8.8:53", cfg.Upstream.Server)
	assert.True(t, cfg.NSID.Enabled)
	assert.False(t, cfg.Diag.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	content := `
listen:
  primary_address: "127.0.0.53"
  primary_port: 5353
  workers: "2"
  extra:
    - network: "udp"
      address: "10.0.0.1"
      port: 53

upstream:
  server: "1.1.1.1:53"

logging:
  level: "DEBUG"
  structured: true
  structured_format: "keyvalue"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5353, cfg.Listen.PrimaryPort)
	assert.Equal(t, WorkersFixed, cfg.Listen.Workers.Mode)
	assert.Equal(t, 2, cfg.Listen.Workers.Value)
	require.Len(t, cfg.Listen.ExtraListeners, 1)
	assert.Equal(t, "10.0.0.1", cfg.Listen.ExtraListeners[0].Address)
	assert.Equal(t, "1.1.1.1:53", cfg.Upstream.Server)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Structured)
	assert.Equal(t, "keyvalue", cfg.Logging.StructuredFormat)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  primary_port: [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidPort(t *testing.T) {
	content := `
listen:
  primary_port: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidWorkers(t *testing.T) {
	content := `
listen:
  workers: "invalid"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	// invalid workers gracefully defaults to "auto"
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, WorkersAuto, cfg.Listen.Workers.Mode)
}

func TestNormalizeRejectsInvalidExtraListenerPort(t *testing.T) {
	content := `
listen:
  extra:
    - network: "udp"
      address: "10.0.0.1"
      port: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STUBRESOLVE_LISTEN_PRIMARY_ADDRESS", "192.168.1.1")
	t.Setenv("STUBRESOLVE_LISTEN_PRIMARY_PORT", "8053")
	t.Setenv("STUBRESOLVE_LISTEN_WORKERS", "8")
	t.Setenv("STUBRESOLVE_UPSTREAM_SERVER", "1.1.1.1:53")
	t.Setenv("STUBRESOLVE_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Listen.PrimaryAddress)
	assert.Equal(t, 8053, cfg.Listen.PrimaryPort)
	assert.Equal(t, WorkersFixed, cfg.Listen.Workers.Mode)
	assert.Equal(t, 8, cfg.Listen.Workers.Value)
	assert.Equal(t, "1.1.1.1:53", cfg.Upstream.Server)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}
