package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, "henkan-server", cfg.Engine.Name)
	assert.Equal(t, 80*time.Millisecond, cfg.DebounceInterval())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1

[engine]
path = "/opt/henkan/henkan-server"
stop_timeout_sec = 10

[engine.neural]
enabled = true
model_path = "/opt/henkan/model.gguf"
inference_limit = 3

[input]
debounce_ms = 120

[logging]
level = "debug"
output = "stderr"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/opt/henkan/henkan-server", cfg.Engine.Path)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout())
	assert.Equal(t, 120, cfg.Input.DebounceMs)
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts := cfg.EngineOptions()
	require.NotNil(t, opts)
	assert.Equal(t, "/opt/henkan/model.gguf", opts.ModelPath)
	assert.Equal(t, 3, opts.InferenceLimit)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
input:
  debounce_ms: 200
logging:
  level: warn
  output: stdout
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200, cfg.Input.DebounceMs)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Input.DebounceMs, cfg.Input.DebounceMs)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Input.DebounceMs = 60000

	err := cfg.Validate()
	require.Error(t, err)
	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.GreaterOrEqual(t, len(errs), 2)
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Neural.Enabled = true
	cfg.Engine.Neural.ModelPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.neural.model_path")
}

func TestEngineOptionsNilWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.EngineOptions())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HENKAN_ENGINE_PATH", "/env/engine")
	t.Setenv("HENKAN_LOG_LEVEL", "error")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "/env/engine", cfg.Engine.Path)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoaderReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	l := NewLoader(path)
	t.Cleanup(func() { l.Close() })

	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version = 1\n\n[input]\ndebounce_ms = 250\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 250, cfg.Input.DebounceMs)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
	assert.Equal(t, 250, l.Config().Input.DebounceMs)
}

func TestLoaderKeepsOldConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	l := NewLoader(path)
	t.Cleanup(func() { l.Close() })
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version = 1\n\n[logging]\nlevel = \"loud\"\n"), 0o600))

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "validate")
	case <-time.After(5 * time.Second):
		t.Fatal("reload error not observed")
	}
	assert.Equal(t, "info", l.Config().Logging.Level)
}
