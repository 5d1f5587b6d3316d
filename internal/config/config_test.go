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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8480", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 4, cfg.DiscoveryBatchSize)
	assert.Equal(t, 50, cfg.MaxRecoveryDepth)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spyglass.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = ":9999"
log_level = "debug"
call_timeout = "10s"
discovery_batch_size = 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 8, cfg.DiscoveryBatchSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":8480", cfg.Listen)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPYGLASS_LISTEN", ":7777")
	t.Setenv("SPYGLASS_LOG_LEVEL", "warn")
	t.Setenv("SPYGLASS_CALL_TIMEOUT", "90s")
	t.Setenv("SPYGLASS_DISCOVERY_BATCH", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.CallTimeout)
	assert.Equal(t, 2, cfg.DiscoveryBatchSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spyglass.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen = ":9999"`), 0o644))
	t.Setenv("SPYGLASS_LISTEN", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen, "environment must win over the file")
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spyglass.toml")
	require.NoError(t, os.WriteFile(path, []byte(`discovery_batch_size = 0`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
