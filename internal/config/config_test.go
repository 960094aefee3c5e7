package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvServerAddress, "")
	t.Setenv(EnvServerPort, "")
	t.Setenv(EnvAdbPath, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "127.0.0.1:5037", cfg.Address())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 10.0.0.2
port: 5038
command_timeout: 3s
retry:
  attempts: 2
log:
  level: debug
`), 0o644))
	t.Setenv(EnvServerAddress, "")
	t.Setenv(EnvServerPort, "6000")
	t.Setenv(EnvAdbPath, "/opt/platform-tools/adb")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.Host)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 2, cfg.Retry.Attempts)
	assert.Equal(t, "exponential", cfg.Retry.Mode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/opt/platform-tools/adb", cfg.AdbPath)
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [1"), 0o644))
	_, err := Load(bad)
	assert.Error(t, err)

	t.Setenv(EnvServerPort, "abc")
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv(EnvServerPort, "70000")
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	t.Setenv(EnvServerAddress, "")
	t.Setenv(EnvServerPort, "")
	t.Setenv(EnvAdbPath, "")
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Port = 5555
	cfg.MetricsListen = ":9100"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("ADB_PATH=/from/dotenv\n"), 0o644))
	os.Unsetenv(EnvAdbPath)
	t.Cleanup(func() { os.Unsetenv(EnvAdbPath) })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), env))
	assert.Equal(t, "/from/dotenv", os.Getenv(EnvAdbPath))
}

func TestDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/adbclient/config.yaml", Path())
}
